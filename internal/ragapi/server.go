package ragapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/embed"
	"github.com/normadata/boerag/internal/errors"
	"github.com/normadata/boerag/internal/pipeline"
	"github.com/normadata/boerag/internal/storage"
)

// Server wires the retrieval endpoints over the doc store, the vector
// store and the embedder.
type Server struct {
	store    *storage.Store
	vectors  VectorIndex
	embedder embed.Embedder
	chat     ChatClient
	broker   pipeline.FlowBroker
	cfg      config.RAGConfig
	log      *slog.Logger
}

// New builds the server. chat and broker may be nil; the endpoints
// that need them respond 503.
func New(store *storage.Store, vectors VectorIndex, embedder embed.Embedder, chat ChatClient, broker pipeline.FlowBroker, cfg config.RAGConfig, log *slog.Logger) *Server {
	return &Server{
		store:    store,
		vectors:  vectors,
		embedder: embedder,
		chat:     chat,
		broker:   broker,
		cfg:      cfg,
		log:      log,
	}
}

// Router assembles the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/rag", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/answer", s.handleAnswer)
		r.Get("/unidad/{idUnidad}", s.handleUnidad)
		r.Get("/catalog/ccaa", s.handleCatalogCCAA)
	})
	r.Get("/pipeline/stats", s.handlePipelineStats)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.Search(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.Answer(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// UnidadResponse is the public view of one semantic unit.
type UnidadResponse struct {
	IDUnidad         string   `json:"idUnidad"`
	IDNorma          string   `json:"idNorma"`
	UnidadTipo       string   `json:"unidadTipo"`
	UnidadRef        string   `json:"unidadRef"`
	Titulo           string   `json:"titulo"`
	TextoPlano       string   `json:"textoPlano"`
	NChars           int      `json:"nChars"`
	VigenciaDesde    string   `json:"vigenciaDesde,omitempty"`
	VigenciaHasta    string   `json:"vigenciaHasta,omitempty"`
	TerritorioCodigo string   `json:"territorioCodigo,omitempty"`
	TerritorioNombre string   `json:"territorioNombre,omitempty"`
	Rango            string   `json:"rango,omitempty"`
	URLHTML          string   `json:"urlHtmlConsolidada,omitempty"`
	URLELI           string   `json:"urlEli,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	LineageKey       string   `json:"lineageKey"`
	IsLatest         bool     `json:"isLatest"`
	SkipRetrieval    bool     `json:"skipRetrieval"`
}

func unidadResponse(u *storage.Unidad) UnidadResponse {
	return UnidadResponse{
		IDUnidad:         u.IDUnidad,
		IDNorma:          u.IDNorma,
		UnidadTipo:       u.UnidadTipo,
		UnidadRef:        u.UnidadRef,
		Titulo:           u.Titulo,
		TextoPlano:       u.TextoPlano,
		NChars:           u.NChars,
		VigenciaDesde:    fmtDatePtr(u.FechaVigenciaDesde),
		VigenciaHasta:    fmtDatePtr(u.FechaVigenciaHasta),
		TerritorioCodigo: u.Metadata.TerritorioCodigo,
		TerritorioNombre: u.Metadata.TerritorioNombre,
		Rango:            u.Metadata.Rango,
		URLHTML:          u.Metadata.URLHTMLConsolidada,
		URLELI:           u.Metadata.URLELI,
		Tags:             u.Metadata.Tags,
		LineageKey:       u.LineageKey,
		IsLatest:         u.IsLatest,
		SkipRetrieval:    u.Quality.SkipRetrieval,
	}
}

func fmtDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func (s *Server) handleUnidad(w http.ResponseWriter, r *http.Request) {
	idUnidad := chi.URLParam(r, "idUnidad")
	u, err := s.store.GetUnidad(r.Context(), idUnidad)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if u == nil {
		writeErrorBody(w, http.StatusNotFound, errors.ErrCodeStoreNotFound, "unidad not found")
		return
	}
	writeJSON(w, http.StatusOK, unidadResponse(u))
}

// CCAAEntry is one autonomous community in the catalog.
type CCAAEntry struct {
	Codigo string `json:"codigo"`
	Nombre string `json:"nombre"`
}

func (s *Server) handleCatalogCCAA(w http.ResponseWriter, r *http.Request) {
	territorios, err := s.store.ListTerritorios(r.Context(), storage.TerritorioAutonomico)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]CCAAEntry, 0, len(territorios))
	for _, t := range territorios {
		out = append(out, CCAAEntry{Codigo: t.Codigo, Nombre: t.Nombre})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ccaa": out})
}

func (s *Server) handlePipelineStats(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeErrorBody(w, http.StatusServiceUnavailable, errors.ErrCodeQueue, "queue broker not configured")
		return
	}
	window, _ := strconv.Atoi(r.URL.Query().Get("windowMinutes"))
	stats, err := pipeline.Snapshot(r.Context(), s.store, s.broker, window)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// decode parses the JSON body, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeParseJSON, err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidDate, errors.ErrCodeParseJSON:
		status = http.StatusBadRequest
	case errors.ErrCodeStoreNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeConfigInvalid:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "code", code, "error", err)
	}
	writeErrorBody(w, status, code, err.Error())
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
