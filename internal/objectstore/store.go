// Package objectstore persists raw and pretty-printed XML snapshots of
// index and version payloads in a content-addressed filesystem tree.
//
// Layout (stable external contract):
//
//	<root>/normas/<id_norma>/indice/<date_token>__<hash8>.xml
//	<root>/normas/<id_norma>/bloques/<id_bloque>/versions/<vigencia>__<publicacion|NA>__<hash8>.xml
//	<root>/normas/<id_norma>/bloques/<id_bloque>/raw/<timestamp>.xml
//
// Writes are create-exclusive and the store never deletes: an existing
// target is left untouched and reported as success.
package objectstore

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/normadata/boerag/internal/errors"
	"github.com/normadata/boerag/internal/ids"
)

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// WriteResult reports the outcome of a snapshot write.
type WriteResult struct {
	AbsolutePath string
	RelativePath string
	// Exists is true when the target file already existed.
	Exists bool
	// Written is true when this call created the file.
	Written bool
	// RawHash is the content hash of the input payload.
	RawHash string
	// PrettyHash is the content hash of the persisted (pretty) payload.
	PrettyHash string
	// PrettyXML is the payload as persisted.
	PrettyXML string
}

// Store writes XML snapshots under a configured base directory.
type Store struct {
	root string
	// DryRun disables filesystem writes; results still carry hashes and
	// the paths that would have been used.
	DryRun bool
}

// New creates a store rooted at the given base directory.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the base directory.
func (s *Store) Root() string {
	return s.root
}

// Read returns a previously written snapshot by its relative path.
func (s *Store) Read(rel string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeObjectStore, err)
	}
	return data, nil
}

// Sanitize restricts a path segment to [A-Za-z0-9._-].
func Sanitize(segment string) string {
	out := unsafeSegment.ReplaceAllString(segment, "_")
	if out == "" {
		return "_"
	}
	return out
}

// WriteIndice persists an index snapshot for a norm. dateToken is the
// raw fecha_actualizacion token from the index.
func (s *Store) WriteIndice(idNorma, dateToken string, rawXML []byte) (*WriteResult, error) {
	rel := filepath.Join(
		"normas", Sanitize(idNorma), "indice",
		fmt.Sprintf("%s__%s.xml", Sanitize(orNA(dateToken)), hash8(rawXML)),
	)
	return s.write(rel, rawXML, true)
}

// WriteVersion persists a block-version snapshot. vigencia and
// publicacion are raw date tokens; publicacion may be empty.
func (s *Store) WriteVersion(idNorma, idBloque, vigencia, publicacion string, rawXML []byte) (*WriteResult, error) {
	rel := filepath.Join(
		"normas", Sanitize(idNorma), "bloques", Sanitize(idBloque), "versions",
		fmt.Sprintf("%s__%s__%s.xml", Sanitize(orNA(vigencia)), Sanitize(orNA(publicacion)), hash8(rawXML)),
	)
	return s.write(rel, rawXML, true)
}

// WriteRawSnapshot persists a timestamped raw bloque fetch. Unlike the
// content-addressed writes, the name carries the fetch time, not the
// content hash, so repeated fetches are all kept.
func (s *Store) WriteRawSnapshot(idNorma, idBloque string, now time.Time, rawXML []byte) (*WriteResult, error) {
	rel := filepath.Join(
		"normas", Sanitize(idNorma), "bloques", Sanitize(idBloque), "raw",
		fmt.Sprintf("%s.xml", now.UTC().Format("20060102T150405Z")),
	)
	return s.write(rel, rawXML, false)
}

// write performs the create-exclusive write. When pretty is true the
// persisted payload is the pretty-printed form (falling back to the raw
// input if formatting fails).
func (s *Store) write(rel string, rawXML []byte, pretty bool) (*WriteResult, error) {
	payload := rawXML
	if pretty {
		if formatted, err := prettyPrint(rawXML); err == nil {
			payload = formatted
		}
	}

	res := &WriteResult{
		AbsolutePath: filepath.Join(s.root, rel),
		RelativePath: rel,
		RawHash:      ids.Hash(string(rawXML)),
		PrettyHash:   ids.Hash(string(payload)),
		PrettyXML:    string(payload),
	}

	if s.DryRun {
		return res, nil
	}

	if err := os.MkdirAll(filepath.Dir(res.AbsolutePath), 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeObjectStore, err)
	}

	f, err := os.OpenFile(res.AbsolutePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			res.Exists = true
			return res, nil
		}
		return nil, errors.Wrap(errors.ErrCodeObjectStore, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeObjectStore, err)
	}
	res.Written = true
	return res, nil
}

// prettyPrint reformats an XML document with two-space indentation.
func prettyPrint(raw []byte) ([]byte, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.Strict = false

	var buf bytes.Buffer
	encoder := xml.NewEncoder(&buf)
	encoder.Indent("", "  ")

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		// Drop inter-element whitespace so indentation is rebuilt clean.
		if cd, ok := tok.(xml.CharData); ok {
			if len(bytes.TrimSpace(cd)) == 0 {
				continue
			}
		}
		if err := encoder.EncodeToken(tok); err != nil {
			return nil, err
		}
	}
	if err := encoder.Flush(); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	return out, nil
}

func hash8(raw []byte) string {
	return ids.Short8(ids.Hash(string(raw)))
}

func orNA(token string) string {
	if strings.TrimSpace(token) == "" {
		return "NA"
	}
	return token
}
