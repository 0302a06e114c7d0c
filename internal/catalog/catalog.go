// Package catalog holds the static registry of monitored IDX tables.
package catalog

import "sync"

// TableDescriptor identifies one monitored warehouse table. Descriptors are
// defined at startup and never created or mutated through the API.
type TableDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	RuleSetID   string `json:"rule_set_id"`
}

// Tables is the closed set of IDX tables the engine knows how to validate.
var Tables = []TableDescriptor{
	{
		Name:        "idx_combine_financials_annual",
		Description: "Annual financial data - revenue, earnings, assets validation",
		RuleSetID:   "financial_annual",
	},
	{
		Name:        "idx_combine_financials_quarterly",
		Description: "Quarterly financial data - revenue, earnings, assets validation",
		RuleSetID:   "financial_quarterly",
	},
	{
		Name:        "idx_daily_data",
		Description: "Daily stock price data - price movement monitoring",
		RuleSetID:   "daily_price",
	},
	{
		Name:        "idx_dividend",
		Description: "Dividend data - yield analysis and change detection",
		RuleSetID:   "dividend",
	},
	{
		Name:        "idx_all_time_price",
		Description: "All-time price data - price tier consistency validation",
		RuleSetID:   "all_time_price",
	},
	{
		Name:        "idx_filings",
		Description: "Corporate filings - filing price vs daily close validation",
		RuleSetID:   "filings",
	},
	{
		Name:        "idx_stock_split",
		Description: "Stock split events - split timing validation",
		RuleSetID:   "stock_split",
	},
}

type Registry struct {
	mu     sync.RWMutex
	tables map[string]*TableDescriptor
}

func NewRegistry() *Registry {
	r := &Registry{tables: make(map[string]*TableDescriptor, len(Tables))}
	for i := range Tables {
		r.tables[Tables[i].Name] = &Tables[i]
	}
	return r
}

// Get returns the descriptor for the given table name, or nil.
func (r *Registry) Get(name string) *TableDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables[name]
}

// All returns every registered descriptor in declaration order.
func (r *Registry) All() []TableDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TableDescriptor, len(Tables))
	copy(out, Tables)
	return out
}
