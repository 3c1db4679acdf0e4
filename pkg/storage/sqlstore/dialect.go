package sqlstore

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/airbreizh/didon/pkg/storage"
)

// dialect captures the differences between the supported SQL drivers
type dialect struct {
	driver    string
	numbered  bool // $1, $2 rather than ?
	schemas   bool
	floatType string
}

var dialects = map[string]dialect{
	"postgres": {driver: "postgres", numbered: true, schemas: true, floatType: "DOUBLE PRECISION"},
	"sqlite3":  {driver: "sqlite3", floatType: "REAL"},
	"duckdb":   {driver: "duckdb", schemas: true, floatType: "DOUBLE"},
}

func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, errors.Errorf("unsupported sql driver %q", driver)
	}
	return d, nil
}

// placeholder returns the bind marker of argument n (1-based)
func (d dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// placeholders returns count comma separated markers starting at argument from
func (d dialect) placeholders(from, count int) string {
	var b strings.Builder
	for i := 0; i < count; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.placeholder(from + i))
	}
	return b.String()
}

// table returns the name to use for t in statements
func (d dialect) table(t storage.Table, schema string) string {
	if !d.schemas {
		return t.Name
	}
	return t.Qualified(schema)
}
