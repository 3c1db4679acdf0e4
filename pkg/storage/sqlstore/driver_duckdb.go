//go:build cgo

package sqlstore

// go-duckdb only compiles with cgo; without it the "duckdb" driver is not registered.
import _ "github.com/marcboeker/go-duckdb"
