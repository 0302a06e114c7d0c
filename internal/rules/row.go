package rules

import (
	"sort"
	"time"

	"github.com/spf13/cast"
)

const dateLayout = "2006-01-02"

// rowFloat extracts a numeric column. The second return is false when the
// column is absent, null, or not numeric.
func rowFloat(row Row, key string) (float64, bool) {
	v, ok := row[key]
	if !ok || v == nil {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

func rowString(row Row, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	return cast.ToString(v)
}

// rowDate extracts a date column. Warehouse rows carry either time.Time
// (pgx date/timestamptz) or an ISO string.
func rowDate(row Row, key string) (time.Time, bool) {
	v, ok := row[key]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{dateLayout, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// groupBySymbol splits rows per symbol, each group sorted ascending by date.
// Rows without a symbol are dropped.
func groupBySymbol(rows []Row) map[string][]Row {
	groups := make(map[string][]Row)
	for _, row := range rows {
		sym := rowString(row, "symbol")
		if sym == "" {
			continue
		}
		groups[sym] = append(groups[sym], row)
	}
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			di, _ := rowDate(group[i], "date")
			dj, _ := rowDate(group[j], "date")
			return di.Before(dj)
		})
	}
	return groups
}

// sortedSymbols returns group keys in deterministic order.
func sortedSymbols(groups map[string][]Row) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LatestDate returns the maximum date across rows, or zero when no row
// carries a parseable date.
func LatestDate(rows []Row) time.Time {
	var latest time.Time
	for _, row := range rows {
		if d, ok := rowDate(row, "date"); ok && d.After(latest) {
			latest = d
		}
	}
	return latest
}

// pctChange returns the percentage change from prev to cur. The second
// return is false when prev is zero.
func pctChange(prev, cur float64) (float64, bool) {
	if prev == 0 {
		return 0, false
	}
	return (cur - prev) / prev * 100, true
}
