package main

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/fetcher"
	"github.com/sells-group/catalog-ingest/internal/learning"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/monitoring"
	"github.com/sells-group/catalog-ingest/internal/resilience"
	"github.com/sells-group/catalog-ingest/internal/review"
	"github.com/sells-group/catalog-ingest/internal/store"
)

type api struct {
	env       *appEnv
	maxUpload int64
}

// newRouter builds the HTTP API around env.
func newRouter(env *appEnv, sc config.ServerConfig) http.Handler {
	a := &api{env: env, maxUpload: int64(sc.MaxUploadMB) << 20}
	if a.maxUpload <= 0 {
		a.maxUpload = 32 << 20
	}

	origins := sc.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Post("/ingest", a.ingest)
			r.Post("/ingest/urls", a.ingestURLs)
			r.Get("/review", a.listReview)
			r.Get("/review/summary", a.reviewSummary)
			r.Get("/review/stats", a.reviewStats)
			r.Post("/corrections", a.recordCorrection)
			r.Get("/patterns", a.listPatterns)
			r.Get("/runs", a.listRuns)
		})
		r.Get("/runs/{id}", a.getRun)
		r.Get("/review/{id}", a.getEntry)
		r.Post("/review/{id}/start", a.startReview)
		r.Post("/review/{id}/approve", a.approve)
		r.Post("/review/{id}/reject", a.reject)
		r.Post("/review/{id}/edit", a.edit)
		r.Post("/review/bulk-approve", a.bulkApprove)
		r.Get("/metrics", a.metrics)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if err := a.env.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// metrics reports the health snapshot and any threshold breaches without
// delivering them.
func (a *api) metrics(w http.ResponseWriter, r *http.Request) {
	report, err := a.env.Monitor.Check(r.Context(), false)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if report.Alerts == nil {
		report.Alerts = []monitoring.Alert{}
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) ingest(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	var headers []*multipart.FileHeader
	for _, key := range []string{"files", "file"} {
		headers = append(headers, r.MultipartForm.File[key]...)
	}
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required")
		return
	}

	files := make([]model.IngestFile, 0, len(headers))
	for _, fh := range headers {
		f, err := readUpload(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		files = append(files, f)
	}

	a.runIngest(w, r, tenant, files)
}

type ingestURLsRequest struct {
	URLs []string `json:"urls"`
}

func (a *api) ingestURLs(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	req, ok := decodeBody[ingestURLsRequest](w, r)
	if !ok {
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one url is required")
		return
	}

	files, err := a.env.Fetcher.FetchAll(r.Context(), req.URLs)
	if err != nil {
		zap.L().Warn("api: fetch failed", zap.String("tenant_id", tenant), zap.Error(err))
		status := http.StatusBadGateway
		if eris.Is(err, fetcher.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}
	a.runIngest(w, r, tenant, files)
}

func (a *api) runIngest(w http.ResponseWriter, r *http.Request, tenant string, files []model.IngestFile) {
	res, err := a.env.Pipeline.Ingest(r.Context(), tenant, files)
	if err != nil {
		zap.L().Error("api: ingest failed", zap.String("tenant_id", tenant), zap.Error(err))
		if res != nil {
			writeJSON(w, http.StatusRequestTimeout, res)
			return
		}
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func readUpload(fh *multipart.FileHeader) (model.IngestFile, error) {
	f, err := fh.Open()
	if err != nil {
		return model.IngestFile{}, eris.Wrapf(err, "open %s", fh.Filename)
	}
	defer f.Close() //nolint:errcheck
	data, err := io.ReadAll(f)
	if err != nil {
		return model.IngestFile{}, eris.Wrapf(err, "read %s", fh.Filename)
	}
	return model.IngestFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (a *api) listReview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	expired, _ := strconv.ParseBool(q.Get("include_expired"))

	entries, err := a.env.Queue.List(r.Context(), chi.URLParam(r, "tenant"), review.Filter{
		Tier:           model.ReviewTier(q.Get("tier")),
		Status:         model.ReviewStatus(q.Get("status")),
		IncludeExpired: expired,
		Offset:         offset,
	}, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (a *api) reviewSummary(w http.ResponseWriter, r *http.Request) {
	s, err := a.env.Queue.Summary(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) reviewStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.env.Queue.DailyStats(r.Context(), chi.URLParam(r, "tenant"), r.URL.Query().Get("day"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) getEntry(w http.ResponseWriter, r *http.Request) {
	e, err := a.env.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type decisionRequest struct {
	Reviewer string       `json:"reviewer"`
	Notes    string       `json:"notes"`
	Changes  *review.Edit `json:"changes,omitempty"`
}

func (a *api) startReview(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[decisionRequest](w, r)
	if !ok {
		return
	}
	e, err := a.env.Queue.StartReview(r.Context(), chi.URLParam(r, "id"), req.Reviewer)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *api) approve(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[decisionRequest](w, r)
	if !ok {
		return
	}
	e, err := a.env.Queue.Approve(r.Context(), chi.URLParam(r, "id"), req.Reviewer, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *api) reject(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[decisionRequest](w, r)
	if !ok {
		return
	}
	e, err := a.env.Queue.Reject(r.Context(), chi.URLParam(r, "id"), req.Reviewer, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *api) edit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[decisionRequest](w, r)
	if !ok {
		return
	}
	if req.Changes == nil {
		writeError(w, http.StatusBadRequest, "changes are required")
		return
	}
	e, err := a.env.Queue.EditAndApprove(r.Context(), chi.URLParam(r, "id"), req.Reviewer, *req.Changes, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *api) bulkApprove(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[struct {
		IDs      []string `json:"ids"`
		Reviewer string   `json:"reviewer"`
	}](w, r)
	if !ok {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids are required")
		return
	}
	n, err := a.env.Queue.BulkApprove(r.Context(), req.IDs, req.Reviewer)
	if err != nil {
		zap.L().Warn("api: bulk approve incomplete", zap.Int("approved", n), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]int{"approved": n, "requested": len(req.IDs)})
}

type correctionRequest struct {
	EntryID   string               `json:"entry_id"`
	Reviewer  string               `json:"reviewer"`
	Original  model.NormalizedItem `json:"original"`
	Corrected model.NormalizedItem `json:"corrected"`
}

func (a *api) recordCorrection(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[correctionRequest](w, r)
	if !ok {
		return
	}
	tenant := chi.URLParam(r, "tenant")
	corrections, err := a.env.Learning.RecordCorrection(r.Context(), tenant, req.Original, req.Corrected,
		model.ContextFor(req.Original), learning.Meta{EntryID: req.EntryID, Reviewer: req.Reviewer})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"corrections": corrections, "count": len(corrections)})
}

func (a *api) listPatterns(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
	patterns, err := a.env.Learning.ListPatterns(r.Context(), chi.URLParam(r, "tenant"), all)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns, "count": len(patterns)})
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	runs, err := a.env.Store.ListRuns(r.Context(), store.RunFilter{
		TenantID: chi.URLParam(r, "tenant"),
		Status:   model.RunStatus(q.Get("status")),
		Limit:    limit,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if r.Body == nil || r.ContentLength == 0 {
		return v, true
	}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

// writeServiceError maps domain errors onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case resilience.IsInvalidState(err):
		writeError(w, http.StatusConflict, err.Error())
	case eris.Is(err, review.ErrNotesRequired), eris.Is(err, review.ErrInvalidEdit):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		zap.L().Error("api: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
