package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facolos/etl/internal/application/etl"
	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/interfaces/http/handler"
	"github.com/facolos/etl/internal/interfaces/http/middleware"
	"github.com/facolos/etl/internal/interfaces/http/router"
	"github.com/facolos/etl/tests/testutil"
)

const apiSecret = "integration-secret"

func newAPI(t *testing.T, h *harness) http.Handler {
	t.Helper()

	monitor := etl.NewMonitor(h.orch.Tracker(), h.sources, etl.DefaultMonitorSettings(), nil,
		pipeline.SystemClock{}, nil)
	etlHandler := handler.NewETLHandler(h.orch, h.orch.Tracker(), h.sources, monitor, nil, nil)
	system := handler.NewSystemHandler("facolos-etl", "test",
		handler.HealthCheck{Name: "database", Check: func(ctx context.Context) error {
			return h.db.SqlDB.PingContext(ctx)
		}},
	)

	engine, err := router.NewEngine(router.EngineConfig{
		ServiceName:  "facolos-etl-test",
		MaxBodySize:  1 << 20,
		AuthSecret:   apiSecret,
		RunRateLimit: 100,
		RunRateBurst: 100,
	}, router.Handlers{ETL: etlHandler, System: system})
	require.NoError(t, err)
	return engine
}

func bearer(t *testing.T) map[string]string {
	t.Helper()
	token, err := middleware.IssueToken(apiSecret, "integration", "", time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAPI_RunThenInspect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	fake := testutil.NewFakeTikTok(t, testutil.TikTokOrder("500", 1714521600, "A", "B"))
	h := newHarness(t, tiktokConfig(fake.URL()))
	api := newAPI(t, h)
	auth := bearer(t)

	t.Run("health is open", func(t *testing.T) {
		w := testutil.Do(t, api, http.MethodGet, "/healthz", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("api requires a token", func(t *testing.T) {
		w := testutil.Do(t, api, http.MethodGet, "/api/v1/sources", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	w := testutil.Do(t, api, http.MethodPost, "/api/v1/runs", map[string]any{"source_id": tiktokSource}, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	run := testutil.DecodeData[handler.RunResponse](t, w)
	assert.Equal(t, "success", run.Status)
	assert.Equal(t, 2, run.RecordsLoaded)
	assert.True(t, run.WatermarkAdvanced)

	t.Run("batch is recorded", func(t *testing.T) {
		w := testutil.Do(t, api, http.MethodGet, "/api/v1/batches/"+run.BatchID, nil, auth)
		require.Equal(t, http.StatusOK, w.Code)
		batch := testutil.DecodeData[handler.BatchResponse](t, w)
		assert.Equal(t, "success", batch.Status)
		assert.Equal(t, 2, batch.RecordsExtracted)
		assert.Equal(t, tiktokTable, batch.TargetTable)
	})

	t.Run("batch listing filters by source", func(t *testing.T) {
		w := testutil.Do(t, api, http.MethodGet, "/api/v1/batches?source_id="+tiktokSource, nil, auth)
		require.Equal(t, http.StatusOK, w.Code)
		env := testutil.Decode(t, w)
		require.NotNil(t, env.Meta)
		assert.Equal(t, int64(1), env.Meta.Total)
	})

	t.Run("source shows the watermark", func(t *testing.T) {
		w := testutil.Do(t, api, http.MethodGet, "/api/v1/sources", nil, auth)
		require.Equal(t, http.StatusOK, w.Code)
		sources := testutil.DecodeData[[]handler.SourceResponse](t, w)
		require.Len(t, sources, 1)
		require.NotNil(t, sources[0].LastExtractTime)
		assert.True(t, sources[0].LastExtractTime.Equal(run.WindowEnd))
	})

	t.Run("source health", func(t *testing.T) {
		w := testutil.Do(t, api, http.MethodGet, "/api/v1/sources/"+tiktokSource+"/health", nil, auth)
		require.Equal(t, http.StatusOK, w.Code)
		health := testutil.DecodeData[handler.HealthResponse](t, w)
		assert.Equal(t, 1, health.Runs)
		assert.Equal(t, 1.0, health.SuccessRate)
	})

	t.Run("unknown batch is not found", func(t *testing.T) {
		w := testutil.Do(t, api, http.MethodGet, "/api/v1/batches/00000000-0000-0000-0000-000000000000", nil, auth)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown source is rejected without a batch", func(t *testing.T) {
		w := testutil.Do(t, api, http.MethodPost, "/api/v1/runs", map[string]any{"source_id": "nope"}, auth)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, int64(1), h.db.Count("etl_batch_runs"))
	})
}

func TestAPI_FailedRunReportsBatch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	fake := testutil.NewFakeTikTok(t, testutil.TikTokOrder("500", 1714521600, "A", "B"))
	fake.FailSearches(4, http.StatusTooManyRequests)
	h := newHarness(t, tiktokConfig(fake.URL()))
	api := newAPI(t, h)

	w := testutil.Do(t, api, http.MethodPost, "/api/v1/runs", map[string]any{"source_id": tiktokSource}, bearer(t))
	testutil.AssertErrorResponse(t, w, http.StatusBadGateway, "ERR_RUN_FAILED")

	run := testutil.DecodeData[handler.RunResponse](t, w)
	assert.Equal(t, "failed", run.Status)
	assert.Contains(t, run.ErrorMessage, "429")
	assert.Zero(t, h.db.Count(tiktokTable))
}
