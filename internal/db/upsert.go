package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertSpec describes a bulk upsert into Table.
type UpsertSpec struct {
	Table        string
	Columns      []string
	ConflictKeys []string
	// UpdateCols are overwritten on conflict. Empty means every non-key
	// column. DoNothing skips updates entirely.
	UpdateCols []string
	DoNothing  bool
}

// BulkUpsert COPYs rows into a transaction-scoped temp table shaped like
// the target and merges them with a single INSERT ... ON CONFLICT. It
// returns the number of rows inserted or updated.
func BulkUpsert(ctx context.Context, pool Pool, spec UpsertSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(spec.Columns) == 0 || len(spec.ConflictKeys) == 0 {
		return 0, eris.Errorf("db: upsert %s: columns and conflict keys are required", spec.Table)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tmp := "_stage_" + strings.ReplaceAll(spec.Table, ".", "_")
	if _, err := tx.Exec(ctx, "CREATE TEMP TABLE "+pgx.Identifier{tmp}.Sanitize()+
		" (LIKE "+tableIdent(spec.Table)+" INCLUDING DEFAULTS) ON COMMIT DROP"); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create stage table", spec.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, spec.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: copy", spec.Table)
	}

	tag, err := tx.Exec(ctx, MergeSQL(spec, tmp))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: merge", spec.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: commit", spec.Table)
	}
	return tag.RowsAffected(), nil
}

// MergeSQL renders the INSERT ... SELECT ... ON CONFLICT statement that moves
// staged rows into the target table.
func MergeSQL(spec UpsertSpec, stage string) string {
	cols := identList(spec.Columns)
	var b strings.Builder
	b.WriteString("INSERT INTO " + tableIdent(spec.Table) + " (" + cols + ") SELECT " + cols +
		" FROM " + pgx.Identifier{stage}.Sanitize() + " ON CONFLICT (" + identList(spec.ConflictKeys) + ") ")

	update := spec.UpdateCols
	if len(update) == 0 {
		keys := make(map[string]bool, len(spec.ConflictKeys))
		for _, k := range spec.ConflictKeys {
			keys[k] = true
		}
		for _, c := range spec.Columns {
			if !keys[c] {
				update = append(update, c)
			}
		}
	}
	if spec.DoNothing || len(update) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}

	b.WriteString("DO UPDATE SET ")
	for i, c := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		id := pgx.Identifier{c}.Sanitize()
		b.WriteString(id + " = EXCLUDED." + id)
	}
	return b.String()
}

func tableIdent(table string) string {
	return pgx.Identifier(strings.SplitN(table, ".", 2)).Sanitize()
}

func identList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(out, ", ")
}
