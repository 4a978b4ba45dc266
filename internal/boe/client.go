package boe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/errors"
)

// URL templates for the consolidated-legislation endpoints. The {base}
// slot is a full URL and is interpolated verbatim; every other
// placeholder is URL-encoded.
const (
	tmplIndice = "{base}/id/{id_norma}/texto/indice"
	tmplBloque = "{base}/id/{id_norma}/texto/bloque/{id_bloque}"
)

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// expandTemplate interpolates {name} placeholders. Unknown
// placeholders are a validation error, not a silent passthrough.
func expandTemplate(tmpl string, vars map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		val, ok := vars[name]
		if !ok {
			missing = name
			return m
		}
		if name == "base" {
			return strings.TrimRight(val, "/")
		}
		return url.PathEscape(val)
	})
	if missing != "" {
		return "", errors.Newf(errors.ErrCodeTemplate, "template %q has unbound placeholder {%s}", tmpl, missing)
	}
	return out, nil
}

// Client talks to the open-data source API with bounded retries.
type Client struct {
	base      string
	userAgent string
	http      *http.Client
	retry     errors.RetryConfig
}

// NewClient builds a source client from configuration.
func NewClient(cfg config.SourceConfig) *Client {
	return &Client{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.HTTPTimeout},
		retry: errors.RetryConfig{
			MaxRetries:   cfg.RetryCount,
			InitialDelay: cfg.RetryBackoff,
			MaxDelay:     30 * cfg.RetryBackoff,
			Multiplier:   2,
			Jitter:       true,
		},
	}
}

// DiscoverQuery parameterizes one discover page fetch. Dates are in
// wire form (YYYYMMDD).
type DiscoverQuery struct {
	From   string
	To     string
	Offset int
	Limit  int
	Query  string
}

// Discover fetches one page of norm metadata.
func (c *Client) Discover(ctx context.Context, q DiscoverQuery) (*DiscoverPage, error) {
	params := url.Values{}
	if q.From != "" {
		params.Set("from", q.From)
	}
	if q.To != "" {
		params.Set("to", q.To)
	}
	params.Set("offset", fmt.Sprintf("%d", q.Offset))
	params.Set("limit", fmt.Sprintf("%d", q.Limit))
	if q.Query != "" {
		params.Set("query", q.Query)
	}

	body, err := c.get(ctx, c.base+"?"+params.Encode(), http.StatusOK)
	if err != nil {
		return nil, err
	}
	return ParseDiscover(body)
}

// FetchIndexXML retrieves the raw index document of a norm.
func (c *Client) FetchIndexXML(ctx context.Context, idNorma string) ([]byte, error) {
	u, err := expandTemplate(tmplIndice, map[string]string{"base": c.base, "id_norma": idNorma})
	if err != nil {
		return nil, err
	}
	return c.get(ctx, u, http.StatusOK)
}

// FetchBloqueXML retrieves the raw bloque document. A 404 surfaces as
// ErrCodeBloqueNotFound so callers can skip the block and continue.
func (c *Client) FetchBloqueXML(ctx context.Context, idNorma, idBloque string) ([]byte, error) {
	u, err := expandTemplate(tmplBloque, map[string]string{
		"base": c.base, "id_norma": idNorma, "id_bloque": idBloque,
	})
	if err != nil {
		return nil, err
	}
	return c.get(ctx, u, http.StatusOK)
}

// IsNotFound reports whether err is the bloque-missing signal.
func IsNotFound(err error) bool {
	return errors.GetCode(err) == errors.ErrCodeBloqueNotFound
}

// get performs one GET with the retry budget. Retryable failures are
// network errors (no response), 429, and 5xx; everything else bubbles
// out on the first attempt.
func (c *Client) get(ctx context.Context, rawURL string, wantStatus int) ([]byte, error) {
	return errors.RetryWithResult(ctx, c.retry, errors.IsRetryable, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err)
		}
		req.Header.Set("Accept", "application/json, application/xml")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(errors.ErrCodeHTTPUnavailable, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == wantStatus:
			// fallthrough to body read
		case resp.StatusCode == http.StatusNotFound:
			return nil, errors.Newf(errors.ErrCodeBloqueNotFound, "GET %s: 404", rawURL)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, errors.Newf(errors.ErrCodeHTTPUnavailable, "GET %s: status %d", rawURL, resp.StatusCode)
		default:
			return nil, errors.Newf(errors.ErrCodeHTTPStatus, "GET %s: status %d", rawURL, resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeHTTPUnavailable, err)
		}
		return body, nil
	})
}
