/*
Package storage provides the pluggable destination store for aggregated
measurements.

# Tables

Each granularity has its own table, with the same four columns:

	mesure_annuelle      A
	mesure_mensuelle     M
	mesure_quotidienne   D
	mesure_horaire       H

	nom_mes_court | date_mesure | valeur_mesure | code_validation

(nom_mes_court, date_mesure) is the natural key. It is not enforced by the
database: it is maintained by always replacing a window instead of inserting
into it.

# Backends

  - memory: in-process slices, for tests
  - badger: embedded BadgerDB, keys are [table][xxhash(identifier)][timestamp]
  - sqlstore: database/sql with postgres, sqlite3 or duckdb

# Replace

Replace is the only write used by a run:

	deleted, err := store.Replace(ctx, table, storage.PredicateFor(id, records), kept)

The delete and the insert share one transaction, so a crash never leaves the
window empty nor duplicated, and re-running a window yields the same rows.
*/
package storage
