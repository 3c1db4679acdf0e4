package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/airbreizh/didon/pkg/storage"
)

// EnsureSchema creates the measurement tables when they do not exist yet.
// Existing tables are left untouched.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if s.dialect.schemas && s.schema != "" {
			if _, err := tx.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+s.schema); err != nil {
				return errors.Wrapf(err, "failed to create schema %s", s.schema)
			}
		}

		for _, t := range storage.Tables() {
			name := s.dialect.table(t, s.schema)
			create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s TEXT NOT NULL,
	%s TIMESTAMP NOT NULL,
	%s %s,
	%s INTEGER
)`, name, storage.ColumnIdentifier, storage.ColumnTimestamp, storage.ColumnValue, s.dialect.floatType, storage.ColumnCode)

			if _, err := tx.ExecContext(ctx, create); err != nil {
				return errors.Wrapf(err, "failed to create table %s", name)
			}

			index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_series ON %s (%s, %s)",
				t.Name, name, storage.ColumnIdentifier, storage.ColumnTimestamp)
			if _, err := tx.ExecContext(ctx, index); err != nil {
				return errors.Wrapf(err, "failed to index table %s", name)
			}
		}

		s.logger.WithField("schema", s.schema).Debug("Measurement tables ready")
		return nil
	})
}
