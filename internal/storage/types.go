// Package storage implements the document repositories over SQLite:
// typed CRUD for the persistent entities with idempotent upsert
// semantics, the index set, and the per-norm stage state machine.
package storage

import "time"

// Unit types produced by the semantic unit builder.
const (
	TipoArticulo              = "ARTICULO"
	TipoDisposicionAdicional  = "DISPOSICION_ADICIONAL"
	TipoDisposicionTransitoria = "DISPOSICION_TRANSITORIA"
	TipoDisposicionFinal      = "DISPOSICION_FINAL"
	TipoDisposicionDerogatoria = "DISPOSICION_DEROGATORIA"
	TipoAnexo                 = "ANEXO"
	TipoPreambulo             = "PREAMBULO"
	TipoOtros                 = "OTROS"
)

// Territorio types.
const (
	TerritorioEstatal    = "ESTATAL"
	TerritorioAutonomico = "AUTONOMICO"
	CodigoEstado         = "ES:STATE"
)

// Norma is a legislative document discovered from the source API.
type Norma struct {
	IDNorma             string
	Titulo              string
	RangoCodigo         string
	RangoTexto          string
	AmbitoCodigo        string
	AmbitoTexto         string
	DepartamentoCodigo  string
	DepartamentoTexto   string
	TerritorioTipo      string
	TerritorioCodigo    string
	TerritorioNombre    string
	FechaActualizacion  *time.Time
	FechaPublicacion    *time.Time
	FechaDisposicion    *time.Time
	URLHTMLConsolidada  string
	RawJSON             string
	FirstSeenAt         time.Time
	LastSeenAt          time.Time
}

// Indice is one observed index snapshot of a norm.
type Indice struct {
	IDIndice              string
	IDNorma               string
	FechaActualizacionRaw string
	FechaActualizacion    *time.Time
	HashXML               string
	HashPretty            string
	FilePath              string
	IsLatest              bool
	CreatedAt             time.Time
	LastSeenAt            time.Time
}

// Bloque is a constituent section of a norm as exposed by its index.
type Bloque struct {
	ID                    string // ids.Bloque(id_norma, id_bloque)
	IDNorma               string
	IDBloque              string
	Tipo                  string
	Titulo                string
	FechaActualizacionRaw string
	URL                   string
	LatestVersionID       string
	CreatedAt             time.Time
	LastSeenAt            time.Time
}

// Version is an immutable time-anchored revision of a block.
type Version struct {
	IDVersion           string
	IDNorma             string
	IDBloque            string
	FechaVigenciaRaw    string
	FechaVigencia       *time.Time
	FechaPublicacionRaw string
	FechaPublicacion    *time.Time
	IDNormaModificadora string
	HashXML             string
	FilePath            string
	TextoPlano          string
	TextoHash           string
	ChunkMethod         string
	ChunkSize           int
	ChunkOverlap        int
	IsLatest            bool
	CreatedAt           time.Time
	LastSeenAt          time.Time
}

// UnidadSource records how a unit was assembled.
type UnidadSource struct {
	Method        string
	BloquesOrigen []string
	IndiceHash    string
	VersionHashes []string
}

// UnidadMetadata is the retrieval-facing metadata snapshot.
type UnidadMetadata struct {
	TerritorioTipo     string
	TerritorioCodigo   string
	TerritorioNombre   string
	Rango              string
	Ambito             string
	Departamento       string
	URLHTMLConsolidada string
	URLELI             string
	Tags               []string
}

// UnidadQuality carries the filter decision for a unit.
type UnidadQuality struct {
	IsHeadingOnly bool
	SkipRetrieval bool
	Reason        string
}

// Unidad is a versioned semantic unit keyed by lineage and anchor.
type Unidad struct {
	IDUnidad            string
	IDNorma             string
	UnidadTipo          string
	UnidadRef           string
	Titulo              string
	Orden               int
	FechaVigenciaDesde  *time.Time
	FechaVigenciaHasta  *time.Time
	FechaPublicacionMod *time.Time
	IDNormaModificadora string
	TextoPlano          string
	TextoHash           string
	NChars              int
	Source              UnidadSource
	Metadata            UnidadMetadata
	Quality             UnidadQuality
	LineageKey          string
	IsLatest            bool
	CreatedAt           time.Time
	LastSeenAt          time.Time
}

// ChunkSemantico is a retrieval chunk produced from a unit.
type ChunkSemantico struct {
	IDChunk      string
	IDUnidad     string
	IDNorma      string
	ChunkIndex   int
	Texto        string
	TextoHash    string
	ChunkingHash string
	ChunkMethod  string
	ChunkSize    int
	ChunkOverlap int

	// Metadata snapshot from the unit at build time.
	UnidadTipo         string
	UnidadRef          string
	Titulo             string
	TerritorioTipo     string
	TerritorioCodigo   string
	TerritorioNombre   string
	FechaVigenciaDesde *time.Time
	FechaVigenciaHasta *time.Time
	URLHTMLConsolidada string
	URLELI             string
	Tags               []string

	CreatedAt  time.Time
	LastSeenAt time.Time
}

// ChunkLegacy is a v1 chunk produced during sync from version text.
// Retained write-compatible; the retrieval surface never reads it.
type ChunkLegacy struct {
	IDChunk      string
	IDVersion    string
	IDNorma      string
	IDBloque     string
	ChunkIndex   int
	Texto        string
	TextoHash    string
	ChunkingHash string
	CreatedAt    time.Time
}

// Territorio is a catalog row for a geographic scope.
type Territorio struct {
	Codigo             string
	Nombre             string
	Tipo               string
	DepartamentoCodigo string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
