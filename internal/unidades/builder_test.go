package unidades

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normadata/boerag/internal/boe"
	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/ids"
	"github.com/normadata/boerag/internal/objectstore"
	"github.com/normadata/boerag/internal/storage"
)

const builderIndexXML = `<response><status code="200"/><data>
	<bloque id="ti" tipo="encabezado" titulo="Título I"/>
	<bloque id="a1" tipo="precepto" titulo="Artículo 1" fecha_actualizacion="20221115T115748Z"/>
	<bloque id="a2" tipo="precepto" titulo="Artículo 2"/>
	<bloque id="fi" tipo="firma" titulo="Firma"/>
</data></response>`

func longBody(header, filler string) string {
	return header + "\n\n" + strings.Repeat(filler+" ", 12)
}

type builderFixture struct {
	store   *storage.Store
	objects *objectstore.Store
	builder *Builder
	now     time.Time
}

func newBuilderFixture(t *testing.T) *builderFixture {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(filepath.Join(dir, "db", "boerag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	objects := objectstore.New(filepath.Join(dir, "objects"))
	log := slog.New(slog.DiscardHandler)

	return &builderFixture{
		store:   store,
		objects: objects,
		builder: NewBuilder(store, objects, config.ExtractorFastXML, log),
		now:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *builderFixture) seedNorma(t *testing.T, ctx context.Context, idNorma string) {
	t.Helper()
	_, err := f.store.UpsertNormaFromDiscover(ctx, &storage.Norma{
		IDNorma:          idNorma,
		Titulo:           "Ley de prueba",
		RangoTexto:       "Ley",
		AmbitoTexto:      "Estatal",
		TerritorioTipo:   storage.TerritorioEstatal,
		TerritorioCodigo: storage.CodigoEstado,
		TerritorioNombre: "Estado",
	}, f.now)
	require.NoError(t, err)

	res, err := f.objects.WriteIndice(idNorma, "20221115T115748Z", []byte(builderIndexXML))
	require.NoError(t, err)
	_, err = f.store.InsertIndiceIfMissing(ctx, &storage.Indice{
		IDIndice:   ids.Indice(idNorma, "20221115T115748Z", res.RawHash),
		IDNorma:    idNorma,
		HashXML:    res.RawHash,
		HashPretty: res.PrettyHash,
		FilePath:   res.RelativePath,
		CreatedAt:  f.now,
		LastSeenAt: f.now,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.MarkIndiceLatestForNorma(ctx, idNorma, ids.Indice(idNorma, "20221115T115748Z", res.RawHash)))
}

func (f *builderFixture) seedVersion(t *testing.T, ctx context.Context, idNorma, idBloque, vigencia, mod, texto string) {
	t.Helper()
	hash := ids.TextHash(texto)
	v := &storage.Version{
		IDVersion:           ids.Version(idNorma, idBloque, vigencia, mod, hash),
		IDNorma:             idNorma,
		IDBloque:            idBloque,
		FechaVigenciaRaw:    vigencia,
		FechaPublicacionRaw: vigencia,
		IDNormaModificadora: mod,
		HashXML:             hash,
		TextoPlano:          boe.NormalizeText(texto),
		TextoHash:           hash,
		CreatedAt:           f.now,
		LastSeenAt:          f.now,
	}
	if vigencia != "" {
		parsed, err := boe.ParseAnyRaw(vigencia)
		require.NoError(t, err)
		v.FechaVigencia = parsed
		v.FechaPublicacion = parsed
	}
	_, err := f.store.InsertVersionIfMissing(ctx, v)
	require.NoError(t, err)
}

func TestBuilder_BuildNorma(t *testing.T) {
	f := newBuilderFixture(t)
	ctx := context.Background()
	const idNorma = "BOE-A-2015-10566"

	f.seedNorma(t, ctx, idNorma)
	f.seedVersion(t, ctx, idNorma, "a1", "20151002", idNorma,
		longBody("Artículo 1. Objeto.", "La presente ley regula el procedimiento."))
	f.seedVersion(t, ctx, idNorma, "a1", "20220601", "BOE-A-2022-1",
		longBody("Artículo 1. Objeto.", "Texto modificado con alcance distinto y nuevo."))
	f.seedVersion(t, ctx, idNorma, "a2", "20151002", idNorma,
		longBody("Artículo 2. Ámbito.", "Se aplica a todas las administraciones públicas."))

	stats, err := f.builder.BuildNorma(ctx, idNorma)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.UnitsKept, "two anchors for a1, one for a2")
	assert.Equal(t, 2, stats.Lineages)

	// Exactly one latest per lineage, and it is the greatest vigencia.
	units, err := f.store.ListUnidadesForNorma(ctx, idNorma)
	require.NoError(t, err)
	require.Len(t, units, 3)

	byLineage := make(map[string][]*storage.Unidad)
	for _, u := range units {
		byLineage[u.LineageKey] = append(byLineage[u.LineageKey], u)
	}
	require.Len(t, byLineage, 2)
	for _, group := range byLineage {
		latest := 0
		for _, u := range group {
			if u.IsLatest {
				latest++
			}
		}
		assert.Equal(t, 1, latest)
	}

	// The a1 lineage forms a contiguous hasta chain.
	a1Lineage := ids.Lineage(idNorma, storage.TipoArticulo, "Art. 1")
	chain, err := f.store.ListUnidadesByLineage(ctx, a1Lineage)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.NotNil(t, chain[0].FechaVigenciaHasta)
	require.NotNil(t, chain[1].FechaVigenciaDesde)
	assert.Equal(t, *chain[1].FechaVigenciaDesde, *chain[0].FechaVigenciaHasta)
	assert.Nil(t, chain[1].FechaVigenciaHasta, "open-ended tail")
	assert.True(t, chain[1].IsLatest)

	// Territorio catalog was ensured.
	terr, err := f.store.ListTerritorios(ctx, "")
	require.NoError(t, err)
	require.Len(t, terr, 1)
	assert.Equal(t, storage.CodigoEstado, terr[0].Codigo)
}

func TestBuilder_Idempotent(t *testing.T) {
	f := newBuilderFixture(t)
	ctx := context.Background()
	const idNorma = "BOE-A-2000-1"

	f.seedNorma(t, ctx, idNorma)
	f.seedVersion(t, ctx, idNorma, "a1", "20151002", idNorma,
		longBody("Artículo 1. Objeto.", "La presente ley regula el procedimiento."))

	first, err := f.builder.BuildNorma(ctx, idNorma)
	require.NoError(t, err)
	second, err := f.builder.BuildNorma(ctx, idNorma)
	require.NoError(t, err)

	assert.Equal(t, first.UnitsKept, second.UnitsKept)
	assert.Zero(t, second.HastaUpdated, "no interval changes on an unchanged input set")

	units, err := f.store.ListUnidadesForNorma(ctx, idNorma)
	require.NoError(t, err)
	assert.Len(t, units, 1, "same inputs produce the same unit ids")
}

func TestBuilder_DropsShortAndNoise(t *testing.T) {
	f := newBuilderFixture(t)
	ctx := context.Background()
	const idNorma = "BOE-A-2000-2"

	f.seedNorma(t, ctx, idNorma)
	f.seedVersion(t, ctx, idNorma, "a1", "20151002", idNorma, "Artículo 1. Muy corto.")
	f.seedVersion(t, ctx, idNorma, "fi", "20151002", idNorma,
		longBody("Firmado en Madrid.", "Texto de firma."))

	stats, err := f.builder.BuildNorma(ctx, idNorma)
	require.NoError(t, err)
	assert.Zero(t, stats.UnitsKept)
	assert.Positive(t, stats.DropReasons[ReasonTooShort])
}
