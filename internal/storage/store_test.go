package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), ".boerag", "boerag.db")

	store, err := Open(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func tp(t time.Time) *time.Time { return &t }

var (
	testNow  = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	testPub  = time.Date(2015, 10, 2, 0, 0, 0, 0, time.UTC)
	testAct  = time.Date(2022, 11, 15, 11, 57, 48, 0, time.UTC)
)

func sampleNorma() *Norma {
	return &Norma{
		IDNorma:            "BOE-A-2015-10566",
		Titulo:             "Ley 39/2015, de 1 de octubre",
		RangoCodigo:        "1300",
		RangoTexto:         "Ley",
		AmbitoCodigo:       "1",
		AmbitoTexto:        "Estatal",
		DepartamentoCodigo: "7723",
		DepartamentoTexto:  "Jefatura del Estado",
		TerritorioTipo:     TerritorioEstatal,
		TerritorioCodigo:   CodigoEstado,
		TerritorioNombre:   "Estado",
		FechaActualizacion: tp(testAct),
		FechaPublicacion:   tp(testPub),
		URLHTMLConsolidada: "https://www.boe.es/a/2015-10566",
		RawJSON:            `{"identificador":"BOE-A-2015-10566"}`,
	}
}

func TestUpsertNormaFromDiscover_InsertUpdateTouch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// First sight: insert.
	outcome, err := store.UpsertNormaFromDiscover(ctx, sampleNorma(), testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)

	// Unchanged: touch only.
	later := testNow.Add(time.Hour)
	outcome, err = store.UpsertNormaFromDiscover(ctx, sampleNorma(), later)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTouched, outcome)

	got, err := store.GetNorma(ctx, "BOE-A-2015-10566")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, later, got.LastSeenAt)
	assert.Equal(t, testNow, got.FirstSeenAt)

	// Changed title: update.
	changed := sampleNorma()
	changed.Titulo = "Ley 39/2015 (modificada)"
	outcome, err = store.UpsertNormaFromDiscover(ctx, changed, later.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	got, err = store.GetNorma(ctx, "BOE-A-2015-10566")
	require.NoError(t, err)
	assert.Equal(t, "Ley 39/2015 (modificada)", got.Titulo)
}

func TestInsertIndiceIfMissing_IdempotentAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ind := &Indice{
		IDIndice:              "idx-1",
		IDNorma:               "N1",
		FechaActualizacionRaw: "20221115T115748Z",
		HashXML:               "h1",
		HashPretty:            "p1",
		FilePath:              "normas/N1/indice/x.xml",
		CreatedAt:             testNow,
		LastSeenAt:            testNow,
	}
	inserted, err := store.InsertIndiceIfMissing(ctx, ind)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.InsertIndiceIfMissing(ctx, ind)
	require.NoError(t, err)
	assert.False(t, inserted)

	ind2 := *ind
	ind2.IDIndice = "idx-2"
	_, err = store.InsertIndiceIfMissing(ctx, &ind2)
	require.NoError(t, err)

	require.NoError(t, store.MarkIndiceLatestForNorma(ctx, "N1", "idx-2"))
	latest, err := store.GetLatestIndiceForNorma(ctx, "N1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "idx-2", latest.IDIndice)

	require.NoError(t, store.MarkIndiceLatestForNorma(ctx, "N1", "idx-1"))
	latest, err = store.GetLatestIndiceForNorma(ctx, "N1")
	require.NoError(t, err)
	assert.Equal(t, "idx-1", latest.IDIndice)
}

func TestVersions_InsertListMarkLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v1 := &Version{
		IDVersion:        "v1",
		IDNorma:          "N1",
		IDBloque:         "a1",
		FechaVigenciaRaw: "20200101",
		FechaVigencia:    tp(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
		HashXML:          "h1",
		CreatedAt:        testNow,
		LastSeenAt:       testNow,
	}
	v2 := &Version{
		IDVersion:        "v2",
		IDNorma:          "N1",
		IDBloque:         "a1",
		FechaVigenciaRaw: "20220601",
		FechaVigencia:    tp(time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)),
		HashXML:          "h2",
		CreatedAt:        testNow,
		LastSeenAt:       testNow,
	}

	for _, v := range []*Version{v2, v1} { // insert out of order
		inserted, err := store.InsertVersionIfMissing(ctx, v)
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	inserted, err := store.InsertVersionIfMissing(ctx, v1)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert is a no-op")

	versions, err := store.ListVersionsForBloque(ctx, "N1", "a1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v1", versions[0].IDVersion, "ordered by vigencia")

	require.NoError(t, store.MarkVersionLatestForBloque(ctx, "N1", "a1", "v2"))
	versions, err = store.ListVersionsForBloque(ctx, "N1", "a1")
	require.NoError(t, err)
	for _, v := range versions {
		assert.Equal(t, v.IDVersion == "v2", v.IsLatest)
	}

	require.NoError(t, store.UpsertVersionRagFields(ctx, "v1", "texto", "th", "recursive", 1200, 150))
	versions, err = store.ListVersionsForBloque(ctx, "N1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "texto", versions[0].TextoPlano)
	assert.Equal(t, 1200, versions[0].ChunkSize)
}

func TestUnidades_UpsertLatestAndHasta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lineage := "lk-1"
	mk := func(id string, desde time.Time) *Unidad {
		return &Unidad{
			IDUnidad:           id,
			IDNorma:            "N1",
			UnidadTipo:         TipoArticulo,
			UnidadRef:          "Art. 1",
			FechaVigenciaDesde: tp(desde),
			TextoPlano:         "Artículo 1. Texto.",
			TextoHash:          "th-" + id,
			LineageKey:         lineage,
		}
	}
	u2020 := mk("u-2020", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	u2022 := mk("u-2022", time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, store.UpsertUnidad(ctx, u2020, testNow))
	require.NoError(t, store.UpsertUnidad(ctx, u2022, testNow))

	// fecha_vigencia_hasta starts null and is never written by upsert.
	units, err := store.ListUnidadesByLineage(ctx, lineage)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Nil(t, units[0].FechaVigenciaHasta)

	// Latest bookkeeping.
	require.NoError(t, store.ClearUnidadLatestForNorma(ctx, "N1"))
	require.NoError(t, store.SetUnidadLatest(ctx, []string{"u-2022"}))
	units, err = store.ListUnidadesByLineage(ctx, lineage)
	require.NoError(t, err)
	assert.False(t, units[0].IsLatest)
	assert.True(t, units[1].IsLatest)

	// Derived hasta bulk update; second call is a no-op.
	hasta := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	changed, err := store.UpdateUnidadVigenciaHasta(ctx, map[string]*time.Time{
		"u-2020": &hasta,
		"u-2022": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed, "only u-2020 differs from stored null")

	changed, err = store.UpdateUnidadVigenciaHasta(ctx, map[string]*time.Time{
		"u-2020": &hasta,
		"u-2022": nil,
	})
	require.NoError(t, err)
	assert.Zero(t, changed)

	keys, err := store.DistinctLineageKeys(ctx, "N1")
	require.NoError(t, err)
	assert.Equal(t, []string{lineage}, keys)
}

func TestChunks_UpsertGCAndTouch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mk := func(id string, idx int) *ChunkSemantico {
		return &ChunkSemantico{
			IDChunk:      id,
			IDUnidad:     "u-1",
			IDNorma:      "N1",
			ChunkIndex:   idx,
			Texto:        "texto",
			TextoHash:    "th",
			ChunkingHash: "ch",
		}
	}

	for i, id := range []string{"c-0", "c-1", "c-2"} {
		inserted, err := store.UpsertChunkSemantico(ctx, mk(id, i), testNow)
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	inserted, err := store.UpsertChunkSemantico(ctx, mk("c-0", 0), testNow)
	require.NoError(t, err)
	assert.False(t, inserted)

	deleted, err := store.DeleteStaleChunks(ctx, "u-1", "ch", []string{"c-0", "c-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err := store.CountChunksForUnidad(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	chunks, err := store.ListChunksSemanticos(ctx, "N1", 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c-0", chunks[0].IDChunk)

	idSet, err := store.ChunkIDSet(ctx)
	require.NoError(t, err)
	assert.True(t, idSet["c-2"])
	assert.False(t, idSet["c-1"])
}

func TestSyncState_StageMachine(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureNormaPending(ctx, "N1", testNow, false))

	st, err := store.GetSyncState(ctx, "N1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, StatusPending, st.Status)
	for _, stage := range Stages {
		assert.Equal(t, StatusPending, st.Stages[stage].Status)
	}

	// sync runs and succeeds.
	require.NoError(t, store.MarkStageStart(ctx, "N1", StageSync, testNow))
	st, _ = store.GetSyncState(ctx, "N1")
	assert.Equal(t, StatusRunning, st.Status)
	assert.Equal(t, StatusRunning, st.Stages[StageSync].Status)
	assert.Equal(t, 1, st.Stages[StageSync].Attempts)

	require.NoError(t, store.MarkStageSuccess(ctx, "N1", StageSync, testNow))
	st, _ = store.GetSyncState(ctx, "N1")
	assert.Equal(t, StatusOK, st.Stages[StageSync].Status)
	assert.Equal(t, StatusPending, st.Stages[StageBuildUnits].Status)

	// build_units fails: rollup fails and the message is recorded.
	require.NoError(t, store.MarkStageStart(ctx, "N1", StageBuildUnits, testNow))
	require.NoError(t, store.MarkStageFailure(ctx, "N1", StageBuildUnits, "boom", testNow))
	st, _ = store.GetSyncState(ctx, "N1")
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, StatusFailed, st.Stages[StageBuildUnits].Status)
	assert.Equal(t, "boom", st.LastErrorMessage)
	assert.Equal(t, StageBuildUnits, st.EarliestNotOKStage())

	// Completing the whole flow sets the rollup ok only at index.
	for _, stage := range []string{StageBuildUnits, StageBuildChunks, StageIndex} {
		require.NoError(t, store.MarkStageStart(ctx, "N1", stage, testNow))
		require.NoError(t, store.MarkStageSuccess(ctx, "N1", stage, testNow))
	}
	st, _ = store.GetSyncState(ctx, "N1")
	assert.Equal(t, StatusOK, st.Status)
	assert.Equal(t, "", st.EarliestNotOKStage())
}

func TestSyncState_StartResetsDownstream(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureNormaPending(ctx, "N1", testNow, false))
	for _, stage := range Stages {
		require.NoError(t, store.MarkStageStart(ctx, "N1", stage, testNow))
		require.NoError(t, store.MarkStageSuccess(ctx, "N1", stage, testNow))
	}

	// Restarting sync resets the three downstream stages.
	require.NoError(t, store.MarkStageStart(ctx, "N1", StageSync, testNow))
	st, _ := store.GetSyncState(ctx, "N1")
	assert.Equal(t, StatusRunning, st.Stages[StageSync].Status)
	for _, stage := range Stages[1:] {
		assert.Equal(t, StatusPending, st.Stages[stage].Status, stage)
	}
}

func TestSyncState_ListResumable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureNormaPending(ctx, "N-pending", testNow, false))
	require.NoError(t, store.EnsureNormaPending(ctx, "N-ok", testNow.Add(time.Minute), false))
	require.NoError(t, store.EnsureNormaPending(ctx, "N-failed", testNow.Add(2*time.Minute), false))

	for _, stage := range Stages {
		require.NoError(t, store.MarkStageStart(ctx, "N-ok", stage, testNow))
		require.NoError(t, store.MarkStageSuccess(ctx, "N-ok", stage, testNow))
	}
	require.NoError(t, store.MarkStageStart(ctx, "N-failed", StageSync, testNow))
	require.NoError(t, store.MarkStageFailure(ctx, "N-failed", StageSync, "http 500", testNow))

	resumable, err := store.ListResumable(ctx, 0)
	require.NoError(t, err)
	require.Len(t, resumable, 2)
	// Ordered by last_seen_at asc.
	assert.Equal(t, "N-pending", resumable[0].IDNorma)
	assert.Equal(t, "N-failed", resumable[1].IDNorma)

	limited, err := store.ListResumable(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestDryRun_NoWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.DryRun = true
	outcome, err := store.UpsertNormaFromDiscover(ctx, sampleNorma(), testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome, "reports what it would do")

	store.DryRun = false
	got, err := store.GetNorma(ctx, "BOE-A-2015-10566")
	require.NoError(t, err)
	assert.Nil(t, got, "nothing was persisted")
}

func TestTerritorios_Catalog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureEstado(ctx, testNow))
	require.NoError(t, store.UpsertTerritorio(ctx, &Territorio{
		Codigo:             "CCAA:9",
		Nombre:             "Cataluña",
		Tipo:               TerritorioAutonomico,
		DepartamentoCodigo: "9",
	}, testNow))
	// Upsert is idempotent.
	require.NoError(t, store.EnsureEstado(ctx, testNow.Add(time.Hour)))

	all, err := store.ListTerritorios(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	ccaa, err := store.ListTerritorios(ctx, TerritorioAutonomico)
	require.NoError(t, err)
	require.Len(t, ccaa, 1)
	assert.Equal(t, "CCAA:9", ccaa[0].Codigo)
}
