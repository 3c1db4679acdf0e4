// Package export dumps and restores the records of the destination tables.
//
// # Formats
//
// CSV uses the destination column names, one row per record:
//
//	nom_mes_court,date_mesure,valeur_mesure,code_validation
//	O3_BAL,2017-06-01T00:00:00Z,19.5,1
//	O3_BAL,2017-06-02T00:00:00Z,,0
//
// Missing values and codes are written as empty fields. CSV is export only.
//
// JSON wraps the records with metadata naming the table and granularity, and
// can be imported back. Import replaces the rows of each identifier at the
// imported timestamps, so restoring the same file twice is harmless.
//
// # HTTP API
//
// Export endpoint: GET /v1/export
//
//	curl "http://localhost:8080/v1/export?granularity=D&identifier=O3_BAL&start=2017-01-01&format=json" \
//	  -o o3_bal.json
//
// Import endpoint: POST /v1/import
//
//	curl -X POST -H "Content-Type: application/json" \
//	  --data-binary @o3_bal.json http://localhost:8080/v1/import
//
// The same exports are available offline with "didon export".
package export
