package boe

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/normadata/boerag/internal/errors"
)

// BloqueVersion is one time-anchored revision inside a bloque
// document. RawXML is the verbatim slice of the original document for
// this version, so version hashes are stable across parser changes.
type BloqueVersion struct {
	IDNormaModificadora string
	FechaVigenciaRaw    string
	FechaPublicacionRaw string
	RawXML              string
	InnerXML            string
}

// BloqueDoc is a parsed bloque response.
type BloqueDoc struct {
	IDBloque string
	Tipo     string
	Titulo   string
	Versions []BloqueVersion
}

type xmlBloqueVersion struct {
	IDNorma          string `xml:"id_norma,attr"`
	FechaVigencia    string `xml:"fecha_vigencia,attr"`
	FechaPublicacion string `xml:"fecha_publicacion,attr"`
	Inner            string `xml:",innerxml"`
}

type xmlBloqueResponse struct {
	Status xmlStatus `xml:"status"`
	Data   struct {
		Bloque struct {
			IDAttr     string             `xml:"id,attr"`
			TipoAttr   string             `xml:"tipo,attr"`
			TituloAttr string             `xml:"titulo,attr"`
			Versions   []xmlBloqueVersion `xml:"version"`
		} `xml:"bloque"`
	} `xml:"data"`
}

// Matches one <version> element, self-closing or paired, across lines.
var versionSliceRe = regexp.MustCompile(`(?s)<version\b[^>]*/>|<version\b[^>]*>.*?</version>`)

// ParseBloqueXML normalizes a bloque response. Versions keep their raw
// XML slice, matched positionally against the original document; when
// the regex finds fewer slices than the parser found versions, the
// slice is rebuilt from the parsed fields instead.
func ParseBloqueXML(data []byte) (*BloqueDoc, error) {
	var resp xmlBloqueResponse
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&resp); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParseXML, err)
	}
	if code := firstNonEmpty(resp.Status.CodeAttr, resp.Status.CodeElem); code != "" && code != "200" {
		return nil, errors.Newf(errors.ErrCodeSourceStatus, "bloque returned status %s %s", code, resp.Status.TextElem)
	}

	slices := versionSliceRe.FindAllString(string(data), -1)

	b := resp.Data.Bloque
	doc := &BloqueDoc{
		IDBloque: b.IDAttr,
		Tipo:     b.TipoAttr,
		Titulo:   b.TituloAttr,
	}
	for i, v := range b.Versions {
		version := BloqueVersion{
			IDNormaModificadora: v.IDNorma,
			FechaVigenciaRaw:    v.FechaVigencia,
			FechaPublicacionRaw: v.FechaPublicacion,
			InnerXML:            v.Inner,
		}
		if i < len(slices) {
			version.RawXML = slices[i]
		} else {
			version.RawXML = rebuildVersionXML(v)
		}
		doc.Versions = append(doc.Versions, version)
	}
	return doc, nil
}

// rebuildVersionXML reconstitutes a version element from parsed
// fields. Only used when positional slicing fails.
func rebuildVersionXML(v xmlBloqueVersion) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<version id_norma="%s" fecha_vigencia="%s"`,
		xmlEscapeAttr(v.IDNorma), xmlEscapeAttr(v.FechaVigencia)))
	if v.FechaPublicacion != "" {
		sb.WriteString(fmt.Sprintf(` fecha_publicacion="%s"`, xmlEscapeAttr(v.FechaPublicacion)))
	}
	sb.WriteString(">")
	sb.WriteString(v.Inner)
	sb.WriteString("</version>")
	return sb.String()
}

func xmlEscapeAttr(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
