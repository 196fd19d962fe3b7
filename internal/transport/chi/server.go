// Package chi exposes the tagging engine over HTTP.
package chi

import (
	"encoding/json"
	"net/http"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vekku/brain/internal/domain"
	domusage "github.com/vekku/brain/internal/domain/usage"
	"github.com/vekku/brain/internal/metrics"
	healthuc "github.com/vekku/brain/internal/usecase/health"
	keyworduc "github.com/vekku/brain/internal/usecase/keyword"
	retrievaluc "github.com/vekku/brain/internal/usecase/retrieval"
	taguc "github.com/vekku/brain/internal/usecase/tag"
	usageuc "github.com/vekku/brain/internal/usecase/usage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// Services are the use cases served over HTTP.
type Services struct {
	Tags      *taguc.Service
	Retrieval *retrievaluc.Service
	Keywords  *keyworduc.Service
	Health    *healthuc.Service
	Usage     *usageuc.Service
}

// Server is the HTTP API.
type Server struct {
	svc    Services
	logger *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(svc Services, logger *zap.Logger) *Server {
	return &Server{svc: svc, logger: logger}
}

// Router builds the HTTP handler with the full middleware stack.
// apiKeys empty disables authentication.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := gochi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEvent(s.logger))
	r.Use(BearerAuth(apiKeys))
	r.Use(metrics.Middleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})

	r.Post("/learn", s.Learn)
	r.Post("/raw-tags", s.RawTags)
	r.Post("/region-tags", s.RegionTags)
	r.Post("/combined-tags", s.CombinedTags)
	r.Post("/score-tags", s.ScoreTags)
	r.Post("/keywords", s.Keywords)

	r.Get("/tags", s.ListTags)
	r.Get("/tags/{id}", s.GetTag)
	r.Delete("/tags/{id}", s.DeleteTag)

	r.Get("/usage", s.GetUsage)
	r.Get("/health", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Learn handles POST /learn.
func (s *Server) Learn(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	if _, err := s.svc.Tags.Learn(ctx, req.TagID, req.Alias, req.Synonyms); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	w.WriteHeader(http.StatusNoContent)
}

// RawTags handles POST /raw-tags.
func (s *Server) RawTags(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	tags, err := s.svc.Retrieval.Raw(ctx, req.Content, req.options())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, tagScoresResponse{Tags: tags})
}

// RegionTags handles POST /region-tags.
func (s *Server) RegionTags(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	regions, err := s.svc.Retrieval.Regions(ctx, req.Content, req.options())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, regionsResponse{Regions: regions})
}

// CombinedTags handles POST /combined-tags.
func (s *Server) CombinedTags(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	tags, err := s.svc.Retrieval.Combined(ctx, req.Content, req.options())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, tagScoresResponse{Tags: tags})
}

// ScoreTags handles POST /score-tags.
func (s *Server) ScoreTags(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	scores, err := s.svc.Retrieval.Score(ctx, req.Tags, req.Content)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, scoresResponse{Scores: scores})
}

// Keywords handles POST /keywords.
func (s *Server) Keywords(w http.ResponseWriter, r *http.Request) {
	var req keywordsRequest
	if !s.decode(w, r, &req) {
		return
	}

	topK := 0
	if req.TopK != nil {
		topK = *req.TopK
	}
	ctx, usage := domain.NewContextWithUsage(r.Context())
	kws, err := s.svc.Keywords.Extract(ctx, req.Content, topK, req.Diversity)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, keywordsResponse{Keywords: kws})
}

// ListTags handles GET /tags.
func (s *Server) ListTags(w http.ResponseWriter, r *http.Request) {
	var (
		limit  *int
		cursor *string
	)
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid limit parameter")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "cursor", r.URL.Query(), &cursor); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid cursor parameter")
		return
	}

	n, c := 0, ""
	if limit != nil {
		n = *limit
	}
	if cursor != nil {
		c = *cursor
	}
	page, err := s.svc.Tags.List(r.Context(), n, c)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tagListResponse{Tags: page.Tags, NextCursor: page.NextCursor})
}

// GetTag handles GET /tags/{id}.
func (s *Server) GetTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := s.svc.Tags.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTag handles DELETE /tags/{id}.
func (s *Server) DeleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.svc.Tags.Delete(r.Context(), id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUsage handles GET /usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	var period *string
	if err := runtime.BindQueryParameter("form", true, false, "period", r.URL.Query(), &period); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid period parameter")
		return
	}
	p := ""
	if period != nil {
		p = *period
	}
	parsed, err := domusage.ParsePeriod(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Usage.Report(parsed))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.svc.Health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Status: string(report.Status), Checks: checks})
}

// decode reads and validates a JSON body. On failure it writes the response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := validateRequest(req); err != nil {
		s.handleDomainError(w, r, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", gochi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid id parameter")
		return "", false
	}
	return id, true
}
