package boe

import (
	"encoding/xml"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/errors"
)

// ExtractText turns a version XML fragment into plain text using the
// configured backend. The two backends are not bit-identical, so the
// choice participates in texto_hash identity.
func ExtractText(extractor config.TextExtractor, fragment string) (string, error) {
	switch extractor {
	case config.ExtractorXPath:
		return extractXPath(fragment)
	default:
		return extractFastXML(fragment)
	}
}

// Elements that terminate a line of text.
var blockElements = map[string]bool{
	"p": true, "parrafo": true, "titulo": true, "li": true, "tr": true, "version": true,
}

// extractFastXML walks the token stream and joins character data,
// breaking lines at block-level element boundaries.
func extractFastXML(fragment string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader("<r>" + fragment + "</r>"))
	dec.Strict = false

	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if tok == nil {
			break
		}
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeParseXML, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if blockElements[strings.ToLower(t.Name.Local)] {
				sb.WriteString("\n")
			}
		}
	}
	return NormalizeText(sb.String()), nil
}

// extractXPath extracts paragraph nodes via xpath, falling back to the
// whole subtree's inner text when the document has no paragraphs.
func extractXPath(fragment string) (string, error) {
	doc, err := xmlquery.Parse(strings.NewReader("<r>" + fragment + "</r>"))
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeParseXML, err)
	}

	paras := xmlquery.Find(doc, "//p | //parrafo | //titulo | //li")
	if len(paras) == 0 {
		return NormalizeText(doc.InnerText()), nil
	}

	parts := make([]string, 0, len(paras))
	for _, p := range paras {
		if text := strings.TrimSpace(p.InnerText()); text != "" {
			parts = append(parts, text)
		}
	}
	return NormalizeText(strings.Join(parts, "\n\n")), nil
}

var (
	spaceRunRe = regexp.MustCompile(`[ \t]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
	lineEdgeRe = regexp.MustCompile(`(?m)^[ \t]+|[ \t]+$`)
)

// NormalizeText canonicalizes extracted text: CRLF to LF, NBSP to
// space, collapsed space runs inside lines, trimmed line edges, and
// at most one blank line between paragraphs.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = lineEdgeRe.ReplaceAllString(s, "")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
