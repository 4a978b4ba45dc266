package boe

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/normadata/boerag/internal/errors"
)

// IndexBlockRef is one block descriptor from a norm's index, in
// document order.
type IndexBlockRef struct {
	IDBloque              string
	Tipo                  string
	Titulo                string
	URL                   string
	FechaActualizacionRaw string
	Orden                 int
}

// IndexDoc is the parsed index of a norm. FechaActualizacionRaw is
// the max of the block timestamps; fixed-width tokens make the
// lexicographic max the temporal max.
type IndexDoc struct {
	FechaActualizacionRaw string
	Blocks                []IndexBlockRef
}

// The source emits blocks in both attribute and child-element form
// depending on endpoint version; every field is read from either.
type xmlIndexBloque struct {
	IDAttr     string `xml:"id,attr"`
	TipoAttr   string `xml:"tipo,attr"`
	TituloAttr string `xml:"titulo,attr"`
	URLAttr    string `xml:"url,attr"`
	FechaAttr  string `xml:"fecha_actualizacion,attr"`
	IDElem     string `xml:"id"`
	TipoElem   string `xml:"tipo"`
	TituloElem string `xml:"titulo"`
	URLElem    string `xml:"url"`
	FechaElem  string `xml:"fecha_actualizacion"`
}

type xmlStatus struct {
	CodeAttr string `xml:"code,attr"`
	CodeElem string `xml:"code"`
	TextElem string `xml:"text"`
}

type xmlIndexResponse struct {
	Status xmlStatus `xml:"status"`
	Data   struct {
		Bloques []xmlIndexBloque `xml:"bloque"`
	} `xml:"data"`
}

// ParseIndexXML normalizes an index response into the ordered block
// list. A response status other than 200 is an integrity failure.
func ParseIndexXML(data []byte) (*IndexDoc, error) {
	var resp xmlIndexResponse
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&resp); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParseXML, err)
	}

	if code := firstNonEmpty(resp.Status.CodeAttr, resp.Status.CodeElem); code != "" && code != "200" {
		return nil, errors.Newf(errors.ErrCodeSourceStatus, "index returned status %s %s", code, resp.Status.TextElem)
	}

	doc := &IndexDoc{}
	for i, b := range resp.Data.Bloques {
		ref := IndexBlockRef{
			IDBloque:              firstNonEmpty(b.IDAttr, strings.TrimSpace(b.IDElem)),
			Tipo:                  firstNonEmpty(b.TipoAttr, strings.TrimSpace(b.TipoElem)),
			Titulo:                firstNonEmpty(b.TituloAttr, strings.TrimSpace(b.TituloElem)),
			URL:                   firstNonEmpty(b.URLAttr, strings.TrimSpace(b.URLElem)),
			FechaActualizacionRaw: firstNonEmpty(b.FechaAttr, strings.TrimSpace(b.FechaElem)),
			Orden:                 i,
		}
		if ref.IDBloque == "" {
			return nil, errors.Newf(errors.ErrCodeParseXML, "index block %d has no id", i)
		}
		if ref.FechaActualizacionRaw > doc.FechaActualizacionRaw {
			doc.FechaActualizacionRaw = ref.FechaActualizacionRaw
		}
		doc.Blocks = append(doc.Blocks, ref)
	}
	return doc, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
