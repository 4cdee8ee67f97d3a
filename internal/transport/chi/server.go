// Package chi is the HTTP surface: thin handlers over the search
// executor, the query-context cache and the export queue.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/db"
	"github.com/livingatlas/occsearch/internal/domain"
	"github.com/livingatlas/occsearch/internal/qid"
	"github.com/livingatlas/occsearch/internal/queue"
	"github.com/livingatlas/occsearch/internal/search"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the handler dependencies.
type Server struct {
	executor      *search.Executor
	qids          *qid.Cache
	jobs          *queue.Queue
	pinger        db.Pinger
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(executor *search.Executor, qids *qid.Cache, jobs *queue.Queue, pinger db.Pinger, logger *zap.Logger) *Server {
	s := &Server{
		executor: executor,
		qids:     qids,
		jobs:     jobs,
		pinger:   pinger,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrQidNotFound, http.StatusNotFound, "qid_not_found"),
		sentinelHandler(domain.ErrJobNotFound, http.StatusNotFound, "job_not_found"),
		sentinelHandler(domain.ErrQidTooLarge, http.StatusRequestEntityTooLarge, "qid_too_large"),
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, "invalid_query"),
		sentinelHandler(domain.ErrExportTooBig, http.StatusBadRequest, "export_too_big"),
		sentinelHandler(domain.ErrQuotaExceeded, http.StatusTooManyRequests, "quota_exceeded"),
	}
	return s
}

// Register mounts all routes on the router.
func (s *Server) Register(r chi.Router) {
	r.Post("/occurrences/search", s.SearchOccurrences)
	r.Get("/occurrences/search", s.SearchOccurrences)
	r.Get("/occurrences/facets", s.Facets)
	r.Get("/occurrences/decades", s.Decades)
	r.Get("/occurrences/legend", s.Legend)
	r.Get("/occurrences/groups", s.Groups)
	r.Get("/occurrences/pivot", s.Pivot)
	r.Get("/occurrences/stats", s.Stats)
	r.Get("/occurrences/index/fields", s.IndexFields)

	r.Post("/qid", s.CreateQid)
	r.Get("/qid/{id}", s.GetQid)

	r.Post("/occurrences/download", s.EnqueueDownload)
	r.Get("/occurrences/download/status", s.DownloadStatus)

	r.Get("/healthz", s.Health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

// SearchOccurrences handles GET and POST /occurrences/search.
func (s *Server) SearchOccurrences(w http.ResponseWriter, r *http.Request) {
	spec, err := specFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	result, err := s.executor.Search(r.Context(), spec)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Facets handles GET /occurrences/facets.
func (s *Server) Facets(w http.ResponseWriter, r *http.Request) {
	spec, err := specFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(spec.Facets) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "facets parameter is required")
		return
	}

	facets, err := s.executor.Facets(r.Context(), spec)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, facets)
}

// Decades handles GET /occurrences/decades.
func (s *Server) Decades(w http.ResponseWriter, r *http.Request) {
	spec, err := specFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	result, err := s.executor.DecadeFacet(r.Context(), spec)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Legend handles GET /occurrences/legend.
func (s *Server) Legend(w http.ResponseWriter, r *http.Request) {
	spec, err := specFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "field parameter is required")
		return
	}

	cutpoints, err := parseCutpoints(r.URL.Query().Get("cutpoints"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, err := s.executor.Legend(r.Context(), spec, field, cutpoints)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Groups handles GET /occurrences/groups.
func (s *Server) Groups(w http.ResponseWriter, r *http.Request) {
	spec, err := specFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "field parameter is required")
		return
	}
	perGroup, _ := strconv.Atoi(r.URL.Query().Get("docsPerGroup"))

	result, err := s.executor.GroupedFacets(r.Context(), spec, field, perGroup)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Pivot handles GET /occurrences/pivot.
func (s *Server) Pivot(w http.ResponseWriter, r *http.Request) {
	spec, err := specFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	fields := splitList(r.URL.Query().Get("pivot"))
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "pivot parameter is required")
		return
	}

	result, err := s.executor.Pivot(r.Context(), spec, fields)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Stats handles GET /occurrences/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	spec, err := specFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "field parameter is required")
		return
	}

	stats, err := s.executor.FieldStats(r.Context(), spec, field)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// IndexFields handles GET /occurrences/index/fields.
func (s *Server) IndexFields(w http.ResponseWriter, r *http.Request) {
	fields, err := s.executor.Fields(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

// createQidRequest is the POST /qid body.
type createQidRequest struct {
	Q        string   `json:"q"`
	DisplayQ string   `json:"displayQ,omitempty"`
	WKT      string   `json:"wkt,omitempty"`
	Fqs      []string `json:"fqs,omitempty"`
	MaxAgeMs int64    `json:"maxAge,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// CreateQid handles POST /qid.
func (s *Server) CreateQid(w http.ResponseWriter, r *http.Request) {
	var req createQidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.Q == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "q is required")
		return
	}
	if req.MaxAgeMs == 0 {
		req.MaxAgeMs = -1
	}

	key, err := s.qids.Put(r.Context(), &domain.Qid{
		Q:        req.Q,
		DisplayQ: req.DisplayQ,
		WKT:      req.WKT,
		Fqs:      req.Fqs,
		MaxAgeMs: req.MaxAgeMs,
		Source:   req.Source,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(key))
}

// GetQid handles GET /qid/{id}.
func (s *Server) GetQid(w http.ResponseWriter, r *http.Request) {
	entry, err := s.qids.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// downloadRequest is the POST /occurrences/download body.
type downloadRequest struct {
	domain.SearchSpec
	Email         string   `json:"email"`
	FileName      string   `json:"fileName,omitempty"`
	Format        string   `json:"format,omitempty"`
	Gzip          bool     `json:"gzip,omitempty"`
	Fields        []string `json:"fields,omitempty"`
	Assertions    string   `json:"assertions,omitempty"`
	RequestedRows int64    `json:"maxRows,omitempty"`
	Type          string   `json:"type,omitempty"`
}

// EnqueueDownload handles POST /occurrences/download.
func (s *Server) EnqueueDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email is required")
		return
	}

	jobType := domain.JobType(req.Type)
	if jobType == "" {
		jobType = domain.JobTypeIndex
	}

	job := &domain.ExportJob{
		Email:           req.Email,
		FileName:        req.FileName,
		Type:            jobType,
		Format:          req.Format,
		Gzip:            req.Gzip,
		Spec:            req.SearchSpec,
		Fields:          req.Fields,
		Assertions:      domain.AssertionMode(req.Assertions),
		EnforceRowLimit: req.RequestedRows > 0,
		RequestedRows:   req.RequestedRows,
	}
	if err := s.jobs.Enqueue(job); err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":       job.ID,
		"queueLength": s.jobs.Len(),
	})
}

// downloadStatus summarizes one queued job.
type downloadStatus struct {
	JobID       int64  `json:"jobId"`
	Email       string `json:"email"`
	Type        string `json:"type"`
	Started     bool   `json:"started"`
	RowsWritten int64  `json:"rowsWritten"`
	Total       int64  `json:"totalRecords,omitempty"`
}

// DownloadStatus handles GET /occurrences/download/status.
func (s *Server) DownloadStatus(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.All()
	out := make([]downloadStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, downloadStatus{
			JobID:       j.ID,
			Email:       j.Email,
			Type:        string(j.Type),
			Started:     j.Claimed(),
			RowsWritten: j.RowsWritten(),
			Total:       j.TotalRecords,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	if err := s.pinger.Ping(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]string{"status": status})
}

// specFromRequest builds a SearchSpec from query parameters, or from
// the JSON body for POST requests.
func specFromRequest(r *http.Request) (*domain.SearchSpec, error) {
	if r.Method == http.MethodPost {
		var spec domain.SearchSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			return nil, errors.New("invalid request body: " + err.Error())
		}
		normalizeCircle(&spec, spec.Lat != 0 || spec.Lon != 0, spec.RadiusKm)
		return &spec, nil
	}

	q := r.URL.Query()
	spec := &domain.SearchSpec{
		Q:      q.Get("q"),
		Fq:     q["fq"],
		Fields: splitList(q.Get("fl")),
		Facets: splitList(q.Get("facets")),
		Sort:   q.Get("sort"),
		Dir:    q.Get("dir"),
		WKT:    q.Get("wkt"),
	}
	spec.Start, _ = strconv.Atoi(q.Get("start"))
	spec.PageSize, _ = strconv.Atoi(q.Get("pageSize"))

	if lat, lon, radius := q.Get("lat"), q.Get("lon"), q.Get("radius"); lat != "" && lon != "" && radius != "" {
		var err error
		if spec.Lat, err = strconv.ParseFloat(lat, 64); err != nil {
			return nil, errors.New("invalid lat")
		}
		if spec.Lon, err = strconv.ParseFloat(lon, 64); err != nil {
			return nil, errors.New("invalid lon")
		}
		if spec.RadiusKm, err = strconv.ParseFloat(radius, 64); err != nil {
			return nil, errors.New("invalid radius")
		}
		spec.HasCircle = true
	}
	return spec, nil
}

func normalizeCircle(spec *domain.SearchSpec, hasPoint bool, radius float64) {
	spec.HasCircle = hasPoint && radius > 0 && spec.WKT == ""
}

func parseCutpoints(raw string) ([]float64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := splitList(raw)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, errors.New("invalid cutpoint " + p)
		}
		out = append(out, f)
	}
	return out, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

// safeDomainMessage returns a sentinel error message for the client
// without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrQidNotFound,
		domain.ErrQidTooLarge,
		domain.ErrJobNotFound,
		domain.ErrInvalidQuery,
		domain.ErrExportTooBig,
		domain.ErrQuotaExceeded,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single
// sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			s.logger.Warn("domain error", zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
