package unidades

import (
	"context"
	"log/slog"
	"time"

	"github.com/normadata/boerag/internal/boe"
	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/errors"
	"github.com/normadata/boerag/internal/ids"
	"github.com/normadata/boerag/internal/objectstore"
	"github.com/normadata/boerag/internal/storage"
	"github.com/normadata/boerag/internal/vigencia"
)

// sourceMethod tags units assembled by this builder.
const sourceMethod = "index_tree"

// Builder runs the build_units stage for one norm at a time.
type Builder struct {
	store     *storage.Store
	objects   *objectstore.Store
	extractor config.TextExtractor
	log       *slog.Logger

	// Replace deletes units of the norm that the current pass did not
	// regenerate. Off by default; enabled by the reset path.
	Replace bool
}

// NewBuilder wires a unit builder over the document and object stores.
func NewBuilder(store *storage.Store, objects *objectstore.Store, extractor config.TextExtractor, log *slog.Logger) *Builder {
	return &Builder{store: store, objects: objects, extractor: extractor, log: log}
}

// Stats summarizes one build pass over a norm.
type Stats struct {
	IDNorma      string         `json:"id_norma"`
	Roots        int            `json:"roots"`
	Anchors      int            `json:"anchors"`
	UnitsKept    int            `json:"units_kept"`
	UnitsDropped int            `json:"units_dropped"`
	DropReasons  map[string]int `json:"drop_reasons,omitempty"`
	HeadingOnly  int            `json:"heading_only"`
	Lineages     int            `json:"lineages"`
	HastaUpdated int64          `json:"hasta_updated"`
	UnitsDeleted int64          `json:"units_deleted"`
}

// BuildNorma derives the semantic units of one norm from its latest
// index snapshot and the persisted block versions, then refreshes
// latest flags and vigencia intervals.
func (b *Builder) BuildNorma(ctx context.Context, idNorma string) (*Stats, error) {
	now := time.Now().UTC()
	stats := &Stats{IDNorma: idNorma, DropReasons: make(map[string]int)}

	norma, err := b.store.GetNorma(ctx, idNorma)
	if err != nil {
		return nil, err
	}
	if norma == nil {
		return nil, errors.Newf(errors.ErrCodeStoreNotFound, "norma %s not found", idNorma)
	}

	indice, err := b.store.GetLatestIndiceForNorma(ctx, idNorma)
	if err != nil {
		return nil, err
	}
	if indice == nil {
		return nil, errors.Newf(errors.ErrCodeStoreNotFound, "norma %s has no synced index", idNorma)
	}

	indexXML, err := b.objects.Read(indice.FilePath)
	if err != nil {
		return nil, err
	}
	indexDoc, err := boe.ParseIndexXML(indexXML)
	if err != nil {
		return nil, err
	}

	tree := BuildTree(indexDoc.Blocks)
	roots := tree.RootCandidates()
	stats.Roots = len(roots)

	versionCache := make(map[string][]*storage.Version)
	loadVersions := func(idBloque string) ([]*storage.Version, error) {
		if vs, ok := versionCache[idBloque]; ok {
			return vs, nil
		}
		vs, err := b.store.ListVersionsForBloque(ctx, idNorma, idBloque)
		if err != nil {
			return nil, err
		}
		versionCache[idBloque] = vs
		return vs, nil
	}

	var units []*storage.Unidad
	for _, root := range roots {
		subtree := tree.Subtree(root.IDBloque)

		rootVersions, err := loadVersions(root.IDBloque)
		if err != nil {
			return nil, err
		}
		anchorSource := rootVersions
		if len(anchorSource) == 0 {
			for _, n := range subtree[1:] {
				vs, err := loadVersions(n.IDBloque)
				if err != nil {
					return nil, err
				}
				anchorSource = append(anchorSource, vs...)
			}
		}
		if len(anchorSource) == 0 {
			continue
		}

		anchors := AnchorSet(anchorSource)
		stats.Anchors += len(anchors)

		for _, anchor := range anchors {
			u, err := b.buildUnit(ctx, norma, indice, tree, root, subtree, anchor, loadVersions, stats)
			if err != nil {
				return nil, err
			}
			if u != nil {
				units = append(units, u)
			}
		}
	}

	if err := b.persist(ctx, norma, units, stats, now); err != nil {
		return nil, err
	}
	b.log.Info("build_units done",
		"id_norma", idNorma,
		"roots", stats.Roots,
		"units_kept", stats.UnitsKept,
		"units_dropped", stats.UnitsDropped,
	)
	return stats, nil
}

// buildUnit assembles the unit for one (root, anchor) pair, or nil
// when the filter drops it.
func (b *Builder) buildUnit(
	ctx context.Context,
	norma *storage.Norma,
	indice *storage.Indice,
	tree *Tree,
	root *Node,
	subtree []*Node,
	anchor Anchor,
	loadVersions func(string) ([]*storage.Version, error),
	stats *Stats,
) (*storage.Unidad, error) {
	var (
		parts         []string
		bloquesOrigen []string
		versionHashes []string
		childContent  bool
	)

	for _, node := range subtree {
		if node.Class.Kind == KindNoise && node != root {
			continue
		}
		versions, err := loadVersions(node.IDBloque)
		if err != nil {
			return nil, err
		}
		v := SelectVersion(versions, anchor)
		if v == nil {
			continue
		}
		text, err := b.versionText(v)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		parts = append(parts, text)
		bloquesOrigen = append(bloquesOrigen, node.IDBloque)
		versionHashes = append(versionHashes, v.HashXML)
		if node != root {
			childContent = true
		}
	}

	text := ComposeText(root.Titulo, parts)
	decision := ShouldKeepSemanticUnit(root.Class.UnidadTipo, text, childContent, root.Class.Kind == KindNoise)
	if !decision.Keep {
		stats.UnitsDropped++
		stats.DropReasons[decision.Reason]++
		return nil, nil
	}
	stats.UnitsKept++

	tipo := decision.UnidadTipo
	ref := BuildUnidadRef(tipo, text, root.Titulo, root.IDBloque)
	textoHash := ids.TextHash(text)

	desde, err := boe.ParseAnyRaw(anchor.DesdeRaw)
	if err != nil {
		return nil, err
	}
	pubMod, err := boe.ParseAnyRaw(anchor.PublicacionRaw)
	if err != nil {
		return nil, err
	}
	desdeISO := ""
	if desde != nil {
		desdeISO = desde.Format("2006-01-02")
	}

	headingOnly := IsHeadingOnlyUnit(tipo, text)
	if headingOnly {
		stats.HeadingOnly++
	}

	u := &storage.Unidad{
		IDUnidad:            ids.Unidad(norma.IDNorma, tipo, ref, desdeISO, anchor.Modificadora, textoHash),
		IDNorma:             norma.IDNorma,
		UnidadTipo:          tipo,
		UnidadRef:           ref,
		Titulo:              root.Titulo,
		Orden:               root.Orden,
		FechaVigenciaDesde:  desde,
		FechaPublicacionMod: pubMod,
		IDNormaModificadora: anchor.Modificadora,
		TextoPlano:          text,
		TextoHash:           textoHash,
		NChars:              len([]rune(text)),
		Source: storage.UnidadSource{
			Method:        sourceMethod,
			BloquesOrigen: bloquesOrigen,
			IndiceHash:    indice.HashXML,
			VersionHashes: versionHashes,
		},
		Metadata: storage.UnidadMetadata{
			TerritorioTipo:     norma.TerritorioTipo,
			TerritorioCodigo:   norma.TerritorioCodigo,
			TerritorioNombre:   norma.TerritorioNombre,
			Rango:              norma.RangoTexto,
			Ambito:             norma.AmbitoTexto,
			Departamento:       norma.DepartamentoTexto,
			URLHTMLConsolidada: norma.URLHTMLConsolidada,
		},
		Quality: storage.UnidadQuality{
			IsHeadingOnly: headingOnly,
			SkipRetrieval: headingOnly,
			Reason:        decision.Reason,
		},
		LineageKey: ids.Lineage(norma.IDNorma, tipo, ref),
	}
	return u, nil
}

// versionText returns the extracted plain text of a version, reading
// and extracting the snapshot when the row carries no text yet.
func (b *Builder) versionText(v *storage.Version) (string, error) {
	if v.TextoPlano != "" {
		return v.TextoPlano, nil
	}
	if v.FilePath == "" {
		return "", nil
	}
	data, err := b.objects.Read(v.FilePath)
	if err != nil {
		return "", err
	}
	return boe.ExtractText(b.extractor, string(data))
}

// persist runs the per-norm post-processing: dedupe, upserts, latest
// flags, chunk touches, vigencia recomputation and territorio upkeep.
func (b *Builder) persist(ctx context.Context, norma *storage.Norma, units []*storage.Unidad, stats *Stats, now time.Time) error {
	byID := make(map[string]*storage.Unidad, len(units))
	var ordered []*storage.Unidad
	for _, u := range units {
		if _, dup := byID[u.IDUnidad]; dup {
			continue
		}
		byID[u.IDUnidad] = u
		ordered = append(ordered, u)
	}

	winners := latestPerLineage(ordered)

	var keepIDs []string
	for _, u := range ordered {
		u.IsLatest = winners[u.LineageKey] == u.IDUnidad
		if err := b.store.UpsertUnidad(ctx, u, now); err != nil {
			return err
		}
		keepIDs = append(keepIDs, u.IDUnidad)
	}

	if b.Replace {
		deleted, err := b.store.DeleteUnidadesNotIn(ctx, norma.IDNorma, keepIDs)
		if err != nil {
			return err
		}
		stats.UnitsDeleted = deleted
	}

	if err := b.store.ClearUnidadLatestForNorma(ctx, norma.IDNorma); err != nil {
		return err
	}
	winnerIDs := make([]string, 0, len(winners))
	for _, id := range winners {
		winnerIDs = append(winnerIDs, id)
	}
	if err := b.store.SetUnidadLatest(ctx, winnerIDs); err != nil {
		return err
	}

	for _, u := range ordered {
		if !u.IsLatest {
			if err := b.store.TouchChunksForUnidad(ctx, u.IDUnidad, now); err != nil {
				return err
			}
		}
	}

	lineages, err := b.store.DistinctLineageKeys(ctx, norma.IDNorma)
	if err != nil {
		return err
	}
	stats.Lineages = len(lineages)
	for _, lineage := range lineages {
		rows, err := b.store.ListUnidadesByLineage(ctx, lineage)
		if err != nil {
			return err
		}
		changed, err := b.store.UpdateUnidadVigenciaHasta(ctx, vigencia.BuildHastaIntervals(rows))
		if err != nil {
			return err
		}
		stats.HastaUpdated += changed
	}

	if err := b.store.EnsureEstado(ctx, now); err != nil {
		return err
	}
	if norma.TerritorioTipo == storage.TerritorioAutonomico && norma.TerritorioCodigo != "" {
		return b.store.UpsertTerritorio(ctx, &storage.Territorio{
			Codigo:             norma.TerritorioCodigo,
			Nombre:             norma.TerritorioNombre,
			Tipo:               storage.TerritorioAutonomico,
			DepartamentoCodigo: norma.DepartamentoCodigo,
		}, now)
	}
	return nil
}

// latestPerLineage picks the winning unit id per lineage: greatest
// (vigencia_desde, publicacion_mod), ties broken by id.
func latestPerLineage(units []*storage.Unidad) map[string]string {
	type key struct {
		desde time.Time
		pub   time.Time
		id    string
	}
	best := make(map[string]key)
	out := make(map[string]string)

	asKey := func(u *storage.Unidad) key {
		k := key{id: u.IDUnidad}
		if u.FechaVigenciaDesde != nil {
			k.desde = *u.FechaVigenciaDesde
		}
		if u.FechaPublicacionMod != nil {
			k.pub = *u.FechaPublicacionMod
		}
		return k
	}
	greater := func(a, b key) bool {
		if !a.desde.Equal(b.desde) {
			return a.desde.After(b.desde)
		}
		if !a.pub.Equal(b.pub) {
			return a.pub.After(b.pub)
		}
		return a.id > b.id
	}

	for _, u := range units {
		k := asKey(u)
		if cur, ok := best[u.LineageKey]; !ok || greater(k, cur) {
			best[u.LineageKey] = k
			out[u.LineageKey] = u.IDUnidad
		}
	}
	return out
}
