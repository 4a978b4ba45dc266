// Package boe implements the source API client and the normalizers
// that turn raw discover JSON and index/bloque XML into typed value
// objects. The loose wire forms never leave this package.
package boe

import (
	"strings"
	"time"

	"github.com/normadata/boerag/internal/errors"
)

// Wire date layouts. Tokens have fixed widths; anything else is
// rejected rather than guessed at.
const (
	layoutFecha     = "20060102"         // YYYYMMDD
	layoutTimestamp = "20060102T150405Z" // YYYYMMDDTHHMMSSZ
	layoutCLI       = "2006-01-02"
)

// ParseFechaRaw parses a YYYYMMDD wire date as a UTC day start.
func ParseFechaRaw(raw string) (time.Time, error) {
	if len(raw) != len(layoutFecha) {
		return time.Time{}, errors.Newf(errors.ErrCodeInvalidDate, "expected YYYYMMDD, got %q", raw)
	}
	t, err := time.Parse(layoutFecha, raw)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.ErrCodeInvalidDate, err)
	}
	return t.UTC(), nil
}

// ParseTimestampRaw parses a YYYYMMDDTHHMMSSZ wire timestamp.
func ParseTimestampRaw(raw string) (time.Time, error) {
	if len(raw) != len(layoutTimestamp) {
		return time.Time{}, errors.Newf(errors.ErrCodeInvalidDate, "expected YYYYMMDDTHHMMSSZ, got %q", raw)
	}
	t, err := time.Parse(layoutTimestamp, raw)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.ErrCodeInvalidDate, err)
	}
	return t.UTC(), nil
}

// ParseAnyRaw dispatches on token width. Empty input maps to nil so
// missing wire fields stay missing instead of becoming zero times.
func ParseAnyRaw(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var (
		t   time.Time
		err error
	)
	switch len(raw) {
	case len(layoutFecha):
		t, err = ParseFechaRaw(raw)
	case len(layoutTimestamp):
		t, err = ParseTimestampRaw(raw)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidDate, "unrecognized date token %q", raw)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CLIDateToRaw converts a YYYY-MM-DD command-line date to the wire
// form by stripping dashes, validating the shape first.
func CLIDateToRaw(s string) (string, error) {
	if _, err := time.Parse(layoutCLI, s); err != nil {
		return "", errors.Newf(errors.ErrCodeInvalidDate, "expected YYYY-MM-DD, got %q", s)
	}
	return strings.ReplaceAll(s, "-", ""), nil
}
