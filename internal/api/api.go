// Package api serves imports and reads over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/catalog"
	"github.com/roach88/recstore/internal/manager"
	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/record"
)

// maxBodyBytes bounds an import request body.
const maxBodyBytes = 32 << 20

// API is the HTTP front of a Manager.
type API struct {
	manager *manager.Manager
	catalog *catalog.Catalog
	logger  *slog.Logger
	router  *gin.Engine
	server  *http.Server
	addr    string
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Key     string `json:"key,omitempty"`
	Field   string `json:"field,omitempty"`
	Index   *int   `json:"index,omitempty"`
}

// New creates an API over m. The manager must be set up before requests
// arrive; until then reads and imports answer 503.
func New(m *manager.Manager, cat *catalog.Catalog, addr string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	a := &API{
		manager: m,
		catalog: cat,
		logger:  logger,
		router:  router,
		addr:    addr,
	}
	a.setupRoutes()
	a.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a
}

func (a *API) setupRoutes() {
	a.router.GET("/health", a.healthCheck)

	entities := a.router.Group("/v1/entities/:kind")
	{
		entities.POST("/import", a.importPayloads)
		entities.GET("/records", a.listRecords)
		entities.GET("/records/:key", a.getRecord)
		entities.GET("/count", a.countRecords)
		entities.GET("/batches", a.listBatches)
	}
}

// Handler returns the router, for tests and embedding.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (a *API) Start() error {
	a.logger.Info("http server listening", "addr", a.addr)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (a *API) Stop(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// healthCheck handles GET /health
func (a *API) healthCheck(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if !a.manager.Ready() {
		status = "starting"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"kinds":  a.catalog.Names(),
	})
}

// importPayloads handles POST /v1/entities/:kind/import
//
// The body is a JSON array of payloads or newline-delimited JSON objects.
func (a *API) importPayloads(c *gin.Context) {
	kind := c.Param("kind")

	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		a.fail(c, http.StatusBadRequest, ErrorDetail{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}
	payloads, err := payload.ParseBatch(data)
	if err != nil {
		a.fail(c, http.StatusBadRequest, ErrorDetail{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	out, err := a.catalog.Import(c.Request.Context(), a.manager, kind, payloads)
	if err != nil {
		a.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// listRecords handles GET /v1/entities/:kind/records?limit=&offset=
func (a *API) listRecords(c *gin.Context) {
	opts, ok := a.listOptions(c)
	if !ok {
		return
	}
	rows, err := a.manager.List(c.Request.Context(), c.Param("kind"), opts)
	if err != nil {
		a.failErr(c, err)
		return
	}
	views := make([]catalog.View, len(rows))
	for i, row := range rows {
		views[i] = catalog.RowView(row)
	}
	c.JSON(http.StatusOK, views)
}

func (a *API) listOptions(c *gin.Context) (backend.ListOptions, bool) {
	var opts backend.ListOptions
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.fail(c, http.StatusBadRequest, ErrorDetail{
				Code:    "BAD_REQUEST",
				Message: name + " must be a non-negative integer",
			})
			return opts, false
		}
		*dst = n
	}
	return opts, true
}

// getRecord handles GET /v1/entities/:kind/records/:key
func (a *API) getRecord(c *gin.Context) {
	kind, key := c.Param("kind"), c.Param("key")
	row, found, err := a.manager.Get(c.Request.Context(), kind, key)
	if err != nil {
		a.failErr(c, err)
		return
	}
	if !found {
		a.fail(c, http.StatusNotFound, ErrorDetail{
			Code:    "NOT_FOUND",
			Message: "record not found",
			Kind:    kind,
			Key:     key,
		})
		return
	}
	c.JSON(http.StatusOK, catalog.RowView(row))
}

// countRecords handles GET /v1/entities/:kind/count
func (a *API) countRecords(c *gin.Context) {
	kind := c.Param("kind")
	n, err := a.manager.Count(c.Request.Context(), kind)
	if err != nil {
		a.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "count": n})
}

// listBatches handles GET /v1/entities/:kind/batches
func (a *API) listBatches(c *gin.Context) {
	batches, err := a.manager.Batches(c.Request.Context(), c.Param("kind"))
	if err != nil {
		a.failErr(c, err)
		return
	}
	if batches == nil {
		batches = []backend.Batch{}
	}
	c.JSON(http.StatusOK, batches)
}

func (a *API) fail(c *gin.Context, status int, detail ErrorDetail) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: detail})
}

// failErr maps manager and validation errors to HTTP statuses.
func (a *API) failErr(c *gin.Context, err error) {
	var verr *record.ValidationError
	if errors.As(err, &verr) {
		index := verr.Index
		a.fail(c, http.StatusUnprocessableEntity, ErrorDetail{
			Code:    "VALIDATION",
			Message: err.Error(),
			Kind:    verr.Kind,
			Key:     verr.Key,
			Field:   verr.Field,
			Index:   &index,
		})
		return
	}

	var merr *manager.Error
	if errors.As(err, &merr) {
		detail := ErrorDetail{Code: string(merr.Code), Message: err.Error(), Kind: merr.Kind}
		switch {
		case errors.Is(err, manager.ErrUnknownKind):
			a.fail(c, http.StatusNotFound, detail)
		case errors.Is(err, manager.ErrKindMismatch):
			a.fail(c, http.StatusConflict, detail)
		case merr.Code == manager.CodePrecondition:
			a.fail(c, http.StatusServiceUnavailable, detail)
		default:
			a.logger.Error("request failed", "path", c.FullPath(), "error", err)
			a.fail(c, http.StatusInternalServerError, detail)
		}
		return
	}

	a.logger.Error("request failed", "path", c.FullPath(), "error", err)
	a.fail(c, http.StatusInternalServerError, ErrorDetail{Code: "INTERNAL", Message: err.Error()})
}
