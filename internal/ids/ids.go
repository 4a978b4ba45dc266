// Package ids builds the deterministic identifiers used across the
// pipeline. Every id is a function of its inputs only: the same inputs
// always produce the same id, and any input change changes it.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// sep separates hash parts. A non-printable separator keeps the
// composition order-preserving: ("ab","c") never collides with ("a","bc").
const sep = "\x1f"

// Hash returns the hex-encoded sha256 of the given parts.
func Hash(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte(sep))
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Short8 returns the first 8 characters of a hash, used in object-store
// file names.
func Short8(hash string) string {
	if len(hash) < 8 {
		return hash
	}
	return hash[:8]
}

// TextHash hashes a normalized text payload.
func TextHash(text string) string {
	return Hash(text)
}

// Indice identifies one observed index snapshot of a norm.
func Indice(idNorma, fechaActualizacionRaw, hashXML string) string {
	return Hash(idNorma, fechaActualizacionRaw, hashXML)
}

// Bloque identifies a block within a norm.
func Bloque(idNorma, idBloque string) string {
	return Hash(idNorma, idBloque)
}

// Version identifies one time-anchored revision of a block.
func Version(idNorma, idBloque, fechaVigenciaRaw, idNormaModificadora, hashXML string) string {
	return Hash(idNorma, idBloque, fechaVigenciaRaw, idNormaModificadora, hashXML)
}

// Unidad identifies a versioned semantic unit. Empty vigencia or
// modifier slots are hashed as empty strings so absence is part of the
// identity.
func Unidad(idNorma, unidadTipo, unidadRef, vigenciaDesdeISO, idNormaModificadora, textoHash string) string {
	return Hash(idNorma, unidadTipo, unidadRef, vigenciaDesdeISO, idNormaModificadora, textoHash)
}

// Lineage keys the family of units sharing (norm, type, ref) across time.
func Lineage(idNorma, unidadTipo, unidadRef string) string {
	return Hash(idNorma, unidadTipo, unidadRef)
}

// Chunking hashes a chunking configuration so chunks are invalidated
// when the configuration changes.
func Chunking(method string, size, overlap int) string {
	return Hash(method, fmt.Sprintf("%d", size), fmt.Sprintf("%d", overlap))
}

// Chunk identifies a semantic chunk.
func Chunk(idUnidad, chunkingHash string, chunkIndex int, textoHash string) string {
	return Hash(idUnidad, chunkingHash, fmt.Sprintf("%d", chunkIndex), textoHash)
}

// PointUUID converts a chunk id (a hex hash) into the deterministic
// UUID used as the vector-store point id: the first 32 hex characters
// formatted as 8-4-4-4-12.
func PointUUID(chunkID string) string {
	hexed := strings.ToLower(chunkID)
	if len(hexed) < 32 {
		hexed = hexed + strings.Repeat("0", 32-len(hexed))
	}
	hexed = hexed[:32]
	return fmt.Sprintf("%s-%s-%s-%s-%s", hexed[0:8], hexed[8:12], hexed[12:16], hexed[16:20], hexed[20:32])
}
