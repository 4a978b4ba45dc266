// Package chunker splits semantic units into retrieval chunks and
// keeps the persisted chunk set in sync with the current configuration.
package chunker

import (
	"regexp"
	"strings"

	"github.com/normadata/boerag/internal/boe"
	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/ids"
)

// Config is one chunking configuration; its hash invalidates chunks
// when any field changes.
type Config struct {
	Method  config.ChunkMethod
	Size    int
	Overlap int
}

// Hash returns the deterministic chunking identity.
func (c Config) Hash() string {
	return ids.Chunking(string(c.Method), c.Size, c.Overlap)
}

// Split cuts text using the configured method. Chunks come back
// normalized and non-empty; empty input yields no chunks.
func Split(cfg Config, text string) []string {
	text = boe.NormalizeText(text)
	if text == "" {
		return nil
	}

	var raw []string
	if cfg.Method == config.ChunkMethodRecursive {
		raw = splitRecursive(text, cfg.Size, cfg.Overlap)
	} else {
		raw = splitSimple(text, cfg.Size, cfg.Overlap)
	}

	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if normalized := boe.NormalizeText(c); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out
}

// splitSimple slides a fixed-size window over the rune sequence.
func splitSimple(text string, size, overlap int) []string {
	runes := []rune(text)
	if size <= 0 || len(runes) == 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > size-1 {
		overlap = size - 1
	}
	step := size - overlap
	if step < 1 {
		step = 1
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

var paragraphSplitRe = regexp.MustCompile(`\n{2,}`)

// splitRecursive accumulates paragraphs greedily up to size, falling
// back to the simple splitter for any single oversized paragraph, then
// re-applies the overlap across the resulting chunks.
func splitRecursive(text string, size, overlap int) []string {
	paragraphs := paragraphSplitRe.Split(text, -1)

	var chunks []string
	var current string
	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len([]rune(p)) > size {
			flush()
			chunks = append(chunks, splitSimple(p, size, overlap)...)
			continue
		}
		candidate := p
		if current != "" {
			candidate = current + "\n\n" + p
		}
		if len([]rune(candidate)) > size {
			flush()
			current = p
		} else {
			current = candidate
		}
	}
	flush()

	if overlap <= 0 || len(chunks) < 2 {
		return chunks
	}

	// Overlap is re-applied against the original neighbors, not the
	// already-prefixed ones.
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := overlap
		if tail > len(prev) {
			tail = len(prev)
		}
		out[i] = string(prev[len(prev)-tail:]) + chunks[i]
	}
	return out
}
