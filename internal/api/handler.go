// Package api exposes the validation engine over the dashboard's JSON HTTP
// routes.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cast"

	"idx-validator/internal/catalog"
	"idx-validator/internal/engine"
	"idx-validator/internal/results"
	"idx-validator/internal/valconfig"
	"idx-validator/internal/validator"
	"idx-validator/internal/warehouse"
)

type Handler struct {
	catalog      *catalog.Registry
	configs      *valconfig.Store
	engine       *engine.Engine
	results      *results.Store
	warehouse    *warehouse.Warehouse
	batchTimeout time.Duration
}

func NewHandler(cat *catalog.Registry, configs *valconfig.Store, eng *engine.Engine,
	res *results.Store, wh *warehouse.Warehouse, batchTimeout time.Duration) *Handler {
	if batchTimeout <= 0 {
		batchTimeout = 20 * time.Minute
	}
	return &Handler{
		catalog:      cat,
		configs:      configs,
		engine:       eng,
		results:      res,
		warehouse:    wh,
		batchTimeout: batchTimeout,
	}
}

// Tables handles GET /api/validation/tables.
func (h *Handler) Tables(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"tables": h.catalog.All()})
}

// GetConfig handles GET /api/validation/config/:tableName.
func (h *Handler) GetConfig(c *fiber.Ctx) error {
	tableName := c.Params("tableName")
	cfg, err := h.configs.Get(c.Context(), tableName)
	if err != nil {
		if h.catalog.Get(tableName) == nil {
			return engine.UnknownTableError(tableName)
		}
		return fmt.Errorf("get config %s: %w", tableName, err)
	}
	return c.JSON(cfg)
}

// SaveConfig handles POST /api/validation/config/:tableName.
func (h *Handler) SaveConfig(c *fiber.Ctx) error {
	tableName := c.Params("tableName")
	if h.catalog.Get(tableName) == nil {
		return engine.UnknownTableError(tableName)
	}

	var cfg valconfig.ValidationConfig
	if err := c.BodyParser(&cfg); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	cfg.TableName = tableName

	if err := h.configs.Save(c.Context(), tableName, &cfg); err != nil {
		var cve *valconfig.ConfigValidationError
		if errors.As(err, &cve) {
			return engine.ConfigInvalidError(configDetails(cve))
		}
		return fmt.Errorf("save config %s: %w", tableName, err)
	}
	return c.JSON(&cfg)
}

// Run handles POST /api/validation/run/:tableName.
func (h *Handler) Run(c *fiber.Ctx) error {
	tableName := c.Params("tableName")
	dr, err := parseDateRange(c)
	if err != nil {
		return err
	}

	out, err := h.engine.RunOne(c.Context(), tableName, dr)
	if err != nil {
		return err
	}
	return c.JSON(out.Result)
}

// RunAll handles POST /api/validation/run-all.
func (h *Handler) RunAll(c *fiber.Ctx) error {
	dr, err := parseDateRange(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.batchTimeout)
	defer cancel()

	summary, outcomes, err := h.engine.RunAll(ctx, dr)
	if err != nil {
		return err
	}

	runResults := make([]*validator.ValidationResult, 0, len(outcomes))
	degraded := false
	for _, out := range outcomes {
		runResults = append(runResults, out.Result)
		if out.Source == results.SourceLocal {
			degraded = true
		}
	}

	resp := fiber.Map{"summary": summary, "results": runResults}
	if degraded {
		resp["source"] = results.SourceLocal
	}
	return c.JSON(resp)
}

// Results handles GET /api/dashboard/results.
func (h *Handler) Results(c *fiber.Ctx) error {
	tableName := c.Query("table_name")
	limit := cast.ToInt(c.Query("limit"))

	recent, source, err := h.results.Recent(c.Context(), tableName, limit)
	if err != nil {
		return fmt.Errorf("recent results: %w", err)
	}

	resp := fiber.Map{"results": recent}
	if source == results.SourceLocal {
		resp["source"] = source
	}
	return c.JSON(resp)
}

// Stats handles GET /api/dashboard/stats.
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, source, err := h.results.Stats(c.Context())
	if err != nil {
		return fmt.Errorf("dashboard stats: %w", err)
	}
	if source == results.SourceLocal {
		c.Set("X-Data-Source", source)
	}
	return c.JSON(stats)
}

// Trends handles GET /api/dashboard/charts/validation-trends.
func (h *Handler) Trends(c *fiber.Ctx) error {
	days := cast.ToInt(c.Query("days"))
	trends, source, err := h.results.Trends(c.Context(), days)
	if err != nil {
		return fmt.Errorf("validation trends: %w", err)
	}
	if source == results.SourceLocal {
		c.Set("X-Data-Source", source)
	}
	return c.JSON(trends)
}

// TableStatus handles GET /api/dashboard/charts/table-status.
func (h *Handler) TableStatus(c *fiber.Ctx) error {
	status, source, err := h.results.TableStatus(c.Context())
	if err != nil {
		return fmt.Errorf("table status: %w", err)
	}
	if source == results.SourceLocal {
		c.Set("X-Data-Source", source)
	}
	return c.JSON(status)
}

// TableData handles GET /api/dashboard/table-data/:tableName. Raw warehouse
// passthrough for the dashboard's data explorer.
func (h *Handler) TableData(c *fiber.Ctx) error {
	tableName := c.Params("tableName")
	if h.catalog.Get(tableName) == nil {
		return engine.UnknownTableError(tableName)
	}

	dr, err := parseDateRange(c)
	if err != nil {
		return err
	}
	q := warehouse.Query{
		Symbol: c.Query("symbol"),
		Limit:  cast.ToInt(c.Query("limit")),
	}
	if dr != nil {
		q.Start, q.End = dr.Start, dr.End
	}
	if q.Limit <= 0 || q.Limit > 10000 {
		q.Limit = 1000
	}

	rows, err := h.warehouse.Fetch(c.Context(), tableName, q)
	if err != nil {
		return engine.DataUnavailableError(tableName, err)
	}
	return c.JSON(fiber.Map{"data": rows, "count": len(rows)})
}

// RegisterRoutes wires all validation and dashboard routes behind the auth
// middleware.
func RegisterRoutes(app *fiber.App, h *Handler, authMW fiber.Handler) {
	validation := app.Group("/api/validation", authMW)
	validation.Get("/tables", h.Tables)
	validation.Get("/config/:tableName", h.GetConfig)
	validation.Post("/config/:tableName", h.SaveConfig)
	validation.Post("/run-all", h.RunAll)
	validation.Post("/run/:tableName", h.Run)

	dashboard := app.Group("/api/dashboard", authMW)
	dashboard.Get("/results", h.Results)
	dashboard.Get("/stats", h.Stats)
	dashboard.Get("/charts/validation-trends", h.Trends)
	dashboard.Get("/charts/table-status", h.TableStatus)
	dashboard.Get("/table-data/:tableName", h.TableData)
}

func configDetails(cve *valconfig.ConfigValidationError) []engine.ErrorDetail {
	details := make([]engine.ErrorDetail, 0, len(cve.Details))
	for _, d := range cve.Details {
		details = append(details, engine.ErrorDetail{Field: d.Field, Message: d.Message})
	}
	return details
}

func parseDateRange(c *fiber.Ctx) (*validator.DateRange, error) {
	startStr := c.Query("start_date")
	endStr := c.Query("end_date")
	if startStr == "" && endStr == "" {
		return nil, nil
	}

	dr := &validator.DateRange{}
	if startStr != "" {
		t, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return nil, engine.NewAppError("INVALID_DATE", 400, "start_date must be YYYY-MM-DD")
		}
		dr.Start = &t
	}
	if endStr != "" {
		t, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			return nil, engine.NewAppError("INVALID_DATE", 400, "end_date must be YYYY-MM-DD")
		}
		dr.End = &t
	}
	return dr, nil
}
