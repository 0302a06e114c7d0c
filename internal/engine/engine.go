// Package engine orchestrates validation runs: it resolves a table, fetches
// its rows, applies the table's rule set, persists the outcome, and fires
// notifications. runAll fans out over every enabled table with bounded
// parallelism while isolating per-table failures.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"idx-validator/internal/catalog"
	"idx-validator/internal/rules"
	"idx-validator/internal/valconfig"
	"idx-validator/internal/validator"
	"idx-validator/internal/warehouse"
)

// maxParallelTables caps runAll fan-out.
const maxParallelTables = 4

// Fetcher supplies raw warehouse rows for a table.
type Fetcher interface {
	Fetch(ctx context.Context, tableName string, q warehouse.Query) ([]rules.Row, error)
}

// ConfigSource resolves the effective validation config for a table.
type ConfigSource interface {
	Get(ctx context.Context, tableName string) (*valconfig.ValidationConfig, error)
}

// ResultSink records run outcomes. Append reports where the write landed
// (database or local_storage).
type ResultSink interface {
	Append(ctx context.Context, r *validator.ValidationResult) (string, error)
	MarkEmailSent(ctx context.Context, id string) error
}

// Notifier publishes run events and delivers anomaly alerts. RunCompleted
// fires after every persisted run; NotifyAnomalies reports whether an email
// went out.
type Notifier interface {
	RunCompleted(ctx context.Context, r *validator.ValidationResult)
	NotifyAnomalies(ctx context.Context, recipients []string, r *validator.ValidationResult) bool
}

// RunSummary aggregates one runAll invocation. Computed at orchestration
// time, never persisted.
type RunSummary struct {
	TotalTables           int `json:"total_tables"`
	SuccessfulValidations int `json:"successful_validations"`
	TotalAnomalies        int `json:"total_anomalies"`
}

// RunOutcome pairs a run's result with where it was persisted.
type RunOutcome struct {
	Result *validator.ValidationResult
	Source string
}

type Engine struct {
	catalog   *catalog.Registry
	configs   ConfigSource
	fetcher   Fetcher
	validator *validator.Validator
	results   ResultSink
	notifier  Notifier
	log       *zap.Logger

	tableTimeout time.Duration

	// appendMu serializes result appends per table so newest-first
	// ordering holds under concurrent runs.
	mu       sync.Mutex
	appendMu map[string]*sync.Mutex
}

func New(cat *catalog.Registry, configs ConfigSource, fetcher Fetcher, v *validator.Validator,
	results ResultSink, notifier Notifier, tableTimeout time.Duration, log *zap.Logger) *Engine {
	if tableTimeout <= 0 {
		tableTimeout = 5 * time.Minute
	}
	return &Engine{
		catalog:      cat,
		configs:      configs,
		fetcher:      fetcher,
		validator:    v,
		results:      results,
		notifier:     notifier,
		log:          log,
		tableTimeout: tableTimeout,
		appendMu:     map[string]*sync.Mutex{},
	}
}

func (e *Engine) tableLock(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.appendMu[name]
	if !ok {
		m = &sync.Mutex{}
		e.appendMu[name] = m
	}
	return m
}

// RunOne validates a single table. A fetch failure still persists an
// error-status record for run history, but surfaces as DataUnavailableError
// alongside the outcome so callers see the transport failure. Caller errors
// (unknown table, broken config source) surface with no outcome.
//
// The fetch runs on a context detached from the caller: a run already in
// flight completes and persists even if the caller abandons it.
func (e *Engine) RunOne(ctx context.Context, tableName string, dr *validator.DateRange) (*RunOutcome, error) {
	table := e.catalog.Get(tableName)
	if table == nil {
		return nil, UnknownTableError(tableName)
	}

	cfg, err := e.configs.Get(ctx, tableName)
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.tableTimeout)
	defer cancel()

	q := warehouse.Query{}
	if dr != nil {
		q.Start, q.End = dr.Start, dr.End
	}
	rows, err := e.fetcher.Fetch(fetchCtx, tableName, q)
	if err != nil {
		e.log.Warn("row fetch failed",
			zap.String("table", tableName),
			zap.Error(err))
		result := e.fetchFailedResult(table, dr, err)
		source := e.persist(ctx, result)
		if e.notifier != nil {
			e.notifier.RunCompleted(ctx, result)
		}
		return &RunOutcome{Result: result, Source: source}, DataUnavailableError(tableName, err)
	}

	result, err := e.validator.Validate(table, cfg, rows, dr)
	if err != nil {
		return nil, err
	}

	source := e.persist(ctx, result)

	if e.notifier != nil {
		e.notifier.RunCompleted(ctx, result)
	}
	if e.notifier != nil && result.AnomaliesCount > 0 && len(cfg.EmailRecipients) > 0 {
		if e.notifier.NotifyAnomalies(ctx, cfg.EmailRecipients, result) {
			result.EmailSent = true
			if err := e.results.MarkEmailSent(context.WithoutCancel(ctx), result.ID); err != nil {
				e.log.Warn("could not flag email on result",
					zap.String("result_id", result.ID),
					zap.Error(err))
			}
		}
	}

	e.log.Info("validation run complete",
		zap.String("table", tableName),
		zap.String("status", string(result.Status)),
		zap.Int("anomalies", result.AnomaliesCount),
		zap.String("source", source))
	return &RunOutcome{Result: result, Source: source}, nil
}

// RunAll validates every enabled table concurrently and aggregates a
// summary. One table failing never aborts the batch; a caller abandoning
// the batch does not discard in-flight results, they persist regardless.
func (e *Engine) RunAll(ctx context.Context, dr *validator.DateRange) (*RunSummary, []RunOutcome, error) {
	var attempted []catalog.TableDescriptor
	for _, t := range e.catalog.All() {
		cfg, err := e.configs.Get(ctx, t.Name)
		if err == nil && !cfg.Enabled {
			continue
		}
		attempted = append(attempted, t)
	}

	outcomes := make([]*RunOutcome, len(attempted))
	sem := make(chan struct{}, maxParallelTables)
	var wg sync.WaitGroup

	for i, table := range attempted {
		wg.Add(1)
		go func(i int, table catalog.TableDescriptor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out, err := e.RunOne(ctx, table.Name, dr)
			if err != nil && out == nil {
				// Config source or validator failure: record a
				// placeholder so the batch stays auditable. A fetch
				// failure already persisted its record inside RunOne.
				e.log.Error("table run failed",
					zap.String("table", table.Name),
					zap.Error(err))
				result := e.runFailedResult(&table, dr, err)
				source := e.persist(ctx, result)
				if e.notifier != nil {
					e.notifier.RunCompleted(ctx, result)
				}
				out = &RunOutcome{Result: result, Source: source}
			}
			outcomes[i] = out
		}(i, table)
	}
	wg.Wait()

	summary := &RunSummary{TotalTables: len(attempted)}
	flat := make([]RunOutcome, 0, len(outcomes))
	for _, out := range outcomes {
		flat = append(flat, *out)
		summary.TotalAnomalies += out.Result.AnomaliesCount
		if out.Result.Status != validator.StatusError {
			summary.SuccessfulValidations++
		}
	}
	e.log.Info("batch run complete",
		zap.Int("tables", summary.TotalTables),
		zap.Int("successful", summary.SuccessfulValidations),
		zap.Int("anomalies", summary.TotalAnomalies))
	return summary, flat, nil
}

// persist appends the result, serialized per table name. The write runs on
// a context detached from the caller so an abandoned batch still lands its
// in-flight records.
func (e *Engine) persist(ctx context.Context, r *validator.ValidationResult) string {
	lock := e.tableLock(r.TableName)
	lock.Lock()
	defer lock.Unlock()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.tableTimeout)
	defer cancel()

	source, err := e.results.Append(writeCtx, r)
	if err != nil {
		e.log.Error("result append failed on both tiers",
			zap.String("table", r.TableName),
			zap.Error(err))
		return ""
	}
	return source
}

func (e *Engine) fetchFailedResult(table *catalog.TableDescriptor, dr *validator.DateRange, cause error) *validator.ValidationResult {
	return e.failedResult(table, dr, rules.Anomaly{
		Type:     "data_unavailable",
		Severity: rules.SeverityError,
		Message:  "Could not fetch rows for " + table.Name + ": " + cause.Error(),
	})
}

func (e *Engine) runFailedResult(table *catalog.TableDescriptor, dr *validator.DateRange, cause error) *validator.ValidationResult {
	return e.failedResult(table, dr, rules.Anomaly{
		Type:     "validation_internal_error",
		Severity: rules.SeverityError,
		Message:  "Validation run failed for " + table.Name + ": " + cause.Error(),
	})
}

func (e *Engine) failedResult(table *catalog.TableDescriptor, dr *validator.DateRange, anomaly rules.Anomaly) *validator.ValidationResult {
	now := time.Now().UTC()
	ts := now
	if dr != nil && dr.End != nil {
		ts = *dr.End
	}
	return &validator.ValidationResult{
		ID:                   uuid.New().String(),
		TableName:            table.Name,
		Status:               validator.StatusError,
		ValidationsPerformed: []string{},
		TotalRows:            0,
		AnomaliesCount:       1,
		Anomalies:            []rules.Anomaly{anomaly},
		ValidationTimestamp:  ts,
		CreatedAt:            now,
	}
}
