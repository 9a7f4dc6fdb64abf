package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/models"
)

// TableColumns lists every public table that carries a guild_id column,
// mapped to its columns in ordinal order.
func (db *DB) TableColumns(ctx context.Context) (map[string][]string, error) {
	query := `
		SELECT c.table_name, c.column_name
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = 'public'
		  AND t.table_type = 'BASE TABLE'
		  AND c.table_name IN (
			SELECT table_name FROM information_schema.columns
			WHERE table_schema = 'public' AND column_name = 'guild_id'
		  )
		ORDER BY c.table_name, c.ordinal_position
	`

	tables := make(map[string][]string)
	err := db.withRetry(ctx, "table_columns", func() error {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		found := make(map[string][]string)
		for rows.Next() {
			var table, column string
			if err := rows.Scan(&table, &column); err != nil {
				return err
			}
			found[table] = append(found[table], column)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		tables = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list table columns: %w", err)
	}

	return tables, nil
}

// FetchGuildRows loads every row of table that belongs to guildID
func (db *DB) FetchGuildRows(ctx context.Context, table string, guildID int64) (*models.RowSet, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE guild_id = $1`, pq.QuoteIdentifier(table))

	var set *models.RowSet
	err := db.withRetry(ctx, "fetch_guild_rows", func() error {
		rows, err := db.QueryContext(ctx, query, guildID)
		if err != nil {
			return err
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			return err
		}

		loaded := models.NewEmptyRowSet(columns)
		for rows.Next() {
			values := make([]any, len(columns))
			dest := make([]any, len(columns))
			for i := range values {
				dest[i] = &values[i]
			}
			if err := rows.Scan(dest...); err != nil {
				return err
			}

			row := make(models.Row, len(columns))
			for i, column := range columns {
				row[column] = values[i]
			}
			loaded.Rows = append(loaded.Rows, row)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		set = loaded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rows from %s: %w", table, err)
	}

	db.logger.Debug("fetched guild rows",
		zap.String("table", table),
		zap.Int64("guild_id", guildID),
		zap.Int("rows", set.Len()),
	)

	return set, nil
}

// ExecInTx executes a single write statement inside its own transaction.
// Failures before the commit are retried; a lost commit reply is not.
func (db *DB) ExecInTx(ctx context.Context, query string, args ...any) error {
	err := db.withWriteRetry(ctx, "exec_in_tx", func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return uncommitted(err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return uncommitted(err)
		}

		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}

	return nil
}
