package ragapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/normadata/boerag/internal/errors"
)

const answerSystemPrompt = `Eres un asistente jurídico especializado en legislación española.
Responde únicamente con la información de los fragmentos proporcionados.
Cita cada afirmación con el número del fragmento entre corchetes, por ejemplo [1].
Si los fragmentos no contienen la respuesta, dilo explícitamente.`

// Citation identifies one unit the answer drew on.
type Citation struct {
	Label     string  `json:"label"`
	IDNorma   string  `json:"idNorma"`
	IDUnidad  string  `json:"idUnidad"`
	UnidadRef string  `json:"unidadRef"`
	Score     float64 `json:"score"`
}

// AnswerResponse is the body returned by POST /rag/answer.
type AnswerResponse struct {
	Query         string      `json:"query"`
	AsOf          string      `json:"asOf"`
	Mode          string      `json:"mode"`
	Answer        string      `json:"answer"`
	UsedCitations []Citation  `json:"usedCitations"`
	Stats         SearchStats `json:"stats"`
}

// ChatClient generates the answer text. *OpenAIChat implements it.
type ChatClient interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// OpenAIChat calls an OpenAI-compatible chat completions endpoint.
type OpenAIChat struct {
	client openai.Client
}

// NewOpenAIChat builds the chat client. baseURL and apiKey are
// optional; empty values fall back to the SDK defaults and the
// environment.
func NewOpenAIChat(baseURL, apiKey string) *OpenAIChat {
	var opts []option.RequestOption
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAIChat{client: openai.NewClient(opts...)}
}

// Complete implements ChatClient.
func (c *OpenAIChat) Complete(ctx context.Context, model, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Newf(errors.ErrCodeInternal, "chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// citationLabel renders the fixed citation form shown to users.
func citationLabel(r SearchResult) string {
	desde := r.VigenciaDesde
	if desde == "" {
		desde = "desconocida"
	}
	return fmt.Sprintf("%s - %s (vigente desde %s)", r.IDNorma, r.UnidadRef, desde)
}

// answerPrompt numbers the retrieved fragments for the model.
func answerPrompt(query string, results []SearchResult) string {
	var b strings.Builder
	b.WriteString("Fragmentos:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, citationLabel(r), r.Text)
	}
	fmt.Fprintf(&b, "Pregunta: %s\n", query)
	return b.String()
}

// Answer runs the search and asks the chat model for a grounded
// answer over the retrieved fragments.
func (s *Server) Answer(ctx context.Context, req *SearchRequest) (*AnswerResponse, error) {
	if s.chat == nil {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "no chat backend configured")
	}
	search, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	answer := "No se han encontrado fragmentos relevantes para la consulta."
	if len(search.Results) > 0 {
		answer, err = s.chat.Complete(ctx, s.cfg.ChatModel, answerSystemPrompt, answerPrompt(search.Query, search.Results))
		if err != nil {
			return nil, err
		}
	}

	// One citation per unit, in rank order.
	seen := make(map[string]bool, len(search.Results))
	citations := make([]Citation, 0, len(search.Results))
	for _, r := range search.Results {
		if seen[r.IDUnidad] {
			continue
		}
		seen[r.IDUnidad] = true
		citations = append(citations, Citation{
			Label:     citationLabel(r),
			IDNorma:   r.IDNorma,
			IDUnidad:  r.IDUnidad,
			UnidadRef: r.UnidadRef,
			Score:     r.Score,
		})
	}
	return &AnswerResponse{
		Query:         search.Query,
		AsOf:          search.AsOf,
		Mode:          search.Mode,
		Answer:        answer,
		UsedCitations: citations,
		Stats:         search.Stats,
	}, nil
}
