// Package warehouse reads raw rows from the IDX data warehouse. It is a
// thin data-access layer: no validation logic lives here.
package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"idx-validator/internal/rules"
	"idx-validator/internal/store"
)

var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Query narrows a fetch. Zero values mean "no filter".
type Query struct {
	Symbol string
	Start  *time.Time
	End    *time.Time
	Limit  int
}

type Warehouse struct {
	db  *store.Store
	log *zap.Logger
}

func New(db *store.Store, log *zap.Logger) *Warehouse {
	return &Warehouse{db: db, log: log}
}

// Fetch returns rows for one warehouse table, newest-last. Filing rows are
// joined against daily data so each filing carries the close price at its
// filing date (consumed by the filing price rule).
func (w *Warehouse) Fetch(ctx context.Context, tableName string, q Query) ([]rules.Row, error) {
	if !identRegex.MatchString(tableName) {
		return nil, fmt.Errorf("invalid table name %q", tableName)
	}

	var sb strings.Builder
	var args []any

	if tableName == "idx_filings" {
		sb.WriteString(`SELECT f.*, d.close AS daily_close
FROM idx_filings f
LEFT JOIN idx_daily_data d ON d.symbol = f.symbol AND d.date = f.date::date`)
	} else {
		fmt.Fprintf(&sb, "SELECT * FROM %s", tableName)
	}

	prefix := ""
	if tableName == "idx_filings" {
		prefix = "f."
	}

	var conds []string
	if q.Symbol != "" {
		args = append(args, q.Symbol)
		conds = append(conds, fmt.Sprintf("%ssymbol = $%d", prefix, len(args)))
	}
	if q.Start != nil {
		args = append(args, *q.Start)
		conds = append(conds, fmt.Sprintf("%sdate >= $%d", prefix, len(args)))
	}
	if q.End != nil {
		args = append(args, *q.End)
		conds = append(conds, fmt.Sprintf("%sdate <= $%d", prefix, len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	if tableName != "idx_all_time_price" {
		fmt.Fprintf(&sb, " ORDER BY %sdate ASC", prefix)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := store.QueryRows(ctx, w.db.Pool, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", tableName, err)
	}
	w.log.Debug("warehouse fetch",
		zap.String("table", tableName),
		zap.Int("rows", len(rows)))
	return rows, nil
}
