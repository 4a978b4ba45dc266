// Package ragapi serves the retrieval surface: vector search over the
// semantic chunks with as-of and territorial filtering, plus a
// prompt-generated answer endpoint.
package ragapi

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/normadata/boerag/internal/errors"
	"github.com/normadata/boerag/internal/storage"
	"github.com/normadata/boerag/internal/vectorstore"
	"github.com/normadata/boerag/internal/vigencia"
)

// Search modes. NORMATIVO retrieves on raw vector score; VIGENCIA and
// MIXTO add deterministic boosts favoring the unit types that carry
// validity information.
const (
	ModeNormativo = "NORMATIVO"
	ModeVigencia  = "VIGENCIA"
	ModeMixto     = "MIXTO"
)

// Territorial scopes.
const (
	ScopeEstatal              = "ESTATAL"
	ScopeAutonomicoMasEstatal = "AUTONOMICO_MAS_ESTATAL"
)

const (
	minQueryLen = 3
	minTopK     = 1
	maxTopK     = 50
	defaultTopK = 8

	ccaaPrefix     = "CCAA:"
	tagNotaInicial = "nota_inicial"
)

// SearchRequest is the body of POST /rag/search and /rag/answer.
type SearchRequest struct {
	Query            string  `json:"query"`
	AsOf             string  `json:"asOf,omitempty"`
	Scope            string  `json:"scope,omitempty"`
	CCAACodigo       string  `json:"ccaaCodigo,omitempty"`
	Territorio       string  `json:"territorio,omitempty"`
	Mode             string  `json:"mode,omitempty"`
	TopK             int     `json:"topK,omitempty"`
	MinScore         float64 `json:"minScore,omitempty"`
	IncludePreambulo bool    `json:"includePreambulo,omitempty"`
}

// SearchResult is one retrieval hit. Score includes the mode boost;
// VectorScore is the raw similarity.
type SearchResult struct {
	ChunkID            string   `json:"chunkId"`
	IDNorma            string   `json:"idNorma"`
	IDUnidad           string   `json:"idUnidad"`
	UnidadTipo         string   `json:"unidadTipo"`
	UnidadRef          string   `json:"unidadRef"`
	Titulo             string   `json:"titulo"`
	Score              float64  `json:"score"`
	VectorScore        float64  `json:"vectorScore"`
	Text               string   `json:"text"`
	VigenciaDesde      string   `json:"vigenciaDesde,omitempty"`
	VigenciaHasta      string   `json:"vigenciaHasta,omitempty"`
	TerritorioCodigo   string   `json:"territorioCodigo,omitempty"`
	URLHTMLConsolidada string   `json:"urlHtmlConsolidada,omitempty"`
	URLELI             string   `json:"urlEli,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// FilterEcho reflects the applied vector-store filter back to the
// caller.
type FilterEcho struct {
	Territorios []string `json:"territorios,omitempty"`
	UnidadTipos []string `json:"unidadTipos"`
	AsOfMs      int64    `json:"asOfMs"`
}

// SearchStats reports how the search ran.
type SearchStats struct {
	Candidates int    `json:"candidates"`
	Returned   int    `json:"returned"`
	TookMs     int64  `json:"tookMs"`
	Embedder   string `json:"embedder"`
}

// SearchResponse is the body returned by POST /rag/search.
type SearchResponse struct {
	Query   string         `json:"query"`
	AsOf    string         `json:"asOf"`
	Mode    string         `json:"mode"`
	Filters FilterEcho     `json:"filters"`
	Results []SearchResult `json:"results"`
	Stats   SearchStats    `json:"stats"`
}

// searchParams is a validated, defaulted request.
type searchParams struct {
	query       string
	asOf        time.Time
	mode        string
	topK        int
	minScore    float64
	territorios []string
	tipos       []string
}

// normalize validates the request and fills defaults. now anchors the
// default asOf (today, UTC day start).
func (r *SearchRequest) normalize(now time.Time) (searchParams, error) {
	p := searchParams{
		query:    strings.TrimSpace(r.Query),
		mode:     r.Mode,
		topK:     r.TopK,
		minScore: r.MinScore,
	}
	if len(p.query) < minQueryLen {
		return p, errors.Newf(errors.ErrCodeInvalidInput, "query must be at least %d characters", minQueryLen)
	}

	switch p.mode {
	case "":
		p.mode = ModeNormativo
	case ModeNormativo, ModeVigencia, ModeMixto:
	default:
		return p, errors.Newf(errors.ErrCodeInvalidInput, "unknown mode %q", p.mode)
	}

	if p.topK == 0 {
		p.topK = defaultTopK
	}
	if p.topK < minTopK || p.topK > maxTopK {
		return p, errors.Newf(errors.ErrCodeInvalidInput, "topK must be in [%d,%d]", minTopK, maxTopK)
	}
	if p.minScore < 0 {
		return p, errors.Newf(errors.ErrCodeInvalidInput, "minScore must not be negative")
	}

	asOf, err := parseAsOf(r.AsOf, now)
	if err != nil {
		return p, err
	}
	p.asOf = asOf

	territorios, err := resolveScope(r.Scope, r.CCAACodigo, r.Territorio)
	if err != nil {
		return p, err
	}
	p.territorios = territorios

	p.tipos = allowedTipos(p.mode, r.IncludePreambulo)
	return p, nil
}

// parseAsOf accepts YYYY-MM-DD or RFC 3339; empty means today at the
// UTC day start.
func parseAsOf(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.UTC().Truncate(24 * time.Hour), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errors.Newf(errors.ErrCodeInvalidDate, "asOf %q is not YYYY-MM-DD or RFC 3339", raw)
}

// resolveScope turns the scope triple into the territory codes the
// filter matches against. Empty means no territorial condition.
func resolveScope(scope, ccaaCodigo, territorio string) ([]string, error) {
	switch scope {
	case ScopeEstatal:
		return []string{storage.CodigoEstado}, nil
	case ScopeAutonomicoMasEstatal:
		if !strings.HasPrefix(ccaaCodigo, ccaaPrefix) {
			return nil, errors.Newf(errors.ErrCodeInvalidInput, "scope %s requires a ccaaCodigo starting with %q", ScopeAutonomicoMasEstatal, ccaaPrefix)
		}
		return []string{ccaaCodigo, storage.CodigoEstado}, nil
	case "":
		if territorio != "" {
			return []string{territorio}, nil
		}
		return nil, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "unknown scope %q", scope)
	}
}

// allowedTipos returns the unit types retrieval may surface. The
// preamble only enters in MIXTO mode or on explicit request.
func allowedTipos(mode string, includePreambulo bool) []string {
	tipos := []string{
		storage.TipoArticulo,
		storage.TipoDisposicionAdicional,
		storage.TipoDisposicionTransitoria,
		storage.TipoDisposicionFinal,
		storage.TipoDisposicionDerogatoria,
		storage.TipoAnexo,
	}
	if mode == ModeMixto || includePreambulo {
		tipos = append(tipos, storage.TipoPreambulo)
	}
	return tipos
}

// buildFilter maps the validated params onto the vector-store filter:
// the temporal pair desde <= asOf < hasta, the allowed unit types and
// the optional territory set.
func buildFilter(p searchParams) vectorstore.SearchFilter {
	return vectorstore.SearchFilter{
		TerritorioCodigos: p.territorios,
		AsOfMs:            p.asOf.UnixMilli(),
		UnidadTipos:       p.tipos,
	}
}

// modeBoost is the deterministic additive boost applied after the
// vector search.
func modeBoost(mode string, p vectorstore.ChunkPayload) float64 {
	switch mode {
	case ModeVigencia:
		var b float64
		switch p.UnidadTipo {
		case storage.TipoDisposicionFinal, storage.TipoDisposicionDerogatoria:
			b = 0.08
		case storage.TipoDisposicionTransitoria, storage.TipoDisposicionAdicional:
			b = 0.04
		case storage.TipoArticulo:
			b = 0.02
		}
		if slices.Contains(p.Tags, tagNotaInicial) {
			b += 0.1
		}
		return b
	case ModeMixto:
		switch p.UnidadTipo {
		case storage.TipoArticulo:
			return 0.03
		case storage.TipoDisposicionAdicional, storage.TipoDisposicionTransitoria,
			storage.TipoDisposicionFinal, storage.TipoDisposicionDerogatoria:
			return 0.02
		}
	}
	return 0
}

// rankResults boosts, score-filters, sorts and slices the candidates.
func rankResults(candidates []vectorstore.Scored, p searchParams) []SearchResult {
	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		score := float64(c.Score) + modeBoost(p.mode, c.Payload)
		if score < p.minScore {
			continue
		}
		results = append(results, toResult(c, score))
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > p.topK {
		results = results[:p.topK]
	}
	return results
}

func toResult(c vectorstore.Scored, score float64) SearchResult {
	return SearchResult{
		ChunkID:            c.Payload.ChunkID,
		IDNorma:            c.Payload.IDNorma,
		IDUnidad:           c.Payload.IDUnidad,
		UnidadTipo:         c.Payload.UnidadTipo,
		UnidadRef:          c.Payload.UnidadRef,
		Titulo:             c.Payload.Titulo,
		Score:              score,
		VectorScore:        float64(c.Score),
		Text:               c.Payload.Text,
		VigenciaDesde:      fmtDesde(c.Payload.VigenciaDesdeMs),
		VigenciaHasta:      fmtHasta(c.Payload.VigenciaHastaMs),
		TerritorioCodigo:   c.Payload.TerritorioCodigo,
		URLHTMLConsolidada: c.Payload.URLHTMLConsolidada,
		URLELI:             c.Payload.URLELI,
		Tags:               c.Payload.Tags,
	}
}

// fmtDesde renders an epoch-ms lower bound; 0 means unknown.
func fmtDesde(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}

// fmtHasta renders an epoch-ms upper bound; the sentinel means open.
func fmtHasta(ms int64) string {
	if ms <= 0 || ms >= vigencia.SentinelHastaMs {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}

// VectorIndex is the slice of the vector store retrieval uses.
// *vectorstore.Store implements it.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, filter *qdrant.Filter, limit uint64) ([]vectorstore.Scored, error)
}

// candidateLimit sizes the vector-store fetch so post-boost reordering
// has headroom over topK.
func (s *Server) candidateLimit(topK int) int {
	mult := s.cfg.CandidateMultiplier
	if mult < 1 {
		mult = 1
	}
	maxCandidates := s.cfg.MaxCandidates
	if maxCandidates < 1 {
		maxCandidates = topK * mult
	}
	return min(maxCandidates, max(topK, topK*mult))
}

// Search embeds the query, fetches candidates under the as-of and
// scope filter and ranks them by boosted score.
func (s *Server) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	p, err := req.normalize(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	started := time.Now()

	vec, err := s.embedder.Embed(ctx, p.query)
	if err != nil {
		return nil, err
	}
	filter := buildFilter(p)
	candidates, err := s.vectors.Query(ctx, vec, filter.Build(), uint64(s.candidateLimit(p.topK)))
	if err != nil {
		return nil, err
	}
	results := rankResults(candidates, p)

	s.log.Info("rag search",
		"query_len", len(p.query), "mode", p.mode,
		"candidates", len(candidates), "returned", len(results))
	return &SearchResponse{
		Query: p.query,
		AsOf:  p.asOf.Format(time.RFC3339),
		Mode:  p.mode,
		Filters: FilterEcho{
			Territorios: p.territorios,
			UnidadTipos: p.tipos,
			AsOfMs:      p.asOf.UnixMilli(),
		},
		Results: results,
		Stats: SearchStats{
			Candidates: len(candidates),
			Returned:   len(results),
			TookMs:     time.Since(started).Milliseconds(),
			Embedder:   s.embedder.Name(),
		},
	}, nil
}
