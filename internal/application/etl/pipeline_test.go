package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/cache"
	"github.com/facolos/etl/internal/infrastructure/connector"
	"github.com/facolos/etl/internal/infrastructure/persistence"
	"github.com/facolos/etl/internal/infrastructure/persistence/models"
)

const misaSource = "misa_customers"

const misaCustomersDDL = `CREATE TABLE misa_customers (
	id TEXT NOT NULL PRIMARY KEY,
	account_name TEXT,
	modified_date TEXT,
	etl_batch_id TEXT NOT NULL,
	etl_created_at DATETIME NOT NULL,
	etl_updated_at DATETIME NOT NULL,
	etl_source TEXT NOT NULL
)`

// misaServer serves /Account and /Customers, answering the first
// rateLimited customer calls with 429.
type misaServer struct {
	rateLimited int32
	calls       atomic.Int32
}

func (s *misaServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/Account", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"data":"opaque-token"}`)
	})
	mux.HandleFunc("/Customers", func(w http.ResponseWriter, r *http.Request) {
		if s.calls.Add(1) <= s.rateLimited {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		data, _ := json.Marshal(map[string]any{
			"success": true,
			"data": []map[string]any{
				{"id": "c1", "account_name": "Cong ty An Phat", "modified_date": "2024-04-30T10:00:00+07:00"},
				{"id": "c2", "account_name": "Facolos", "modified_date": "2024-04-30T11:00:00+07:00"},
			},
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})
	return mux
}

type stack struct {
	db      *gorm.DB
	orch    *Orchestrator
	clock   *fakeClock
	sources *persistence.GormDataSourceRepository
	batches *persistence.GormBatchRunRepository
}

func newStack(t *testing.T, baseURL string) *stack {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	database, err := persistence.Open(sqlite.Open(dsn), nil, "silent", func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(1)
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	db := database.DB
	require.NoError(t, db.AutoMigrate(&models.BatchRunModel{}, &models.DataSourceModel{}))
	require.NoError(t, db.Exec(misaCustomersDDL).Error)

	clock := newFakeClock(testNow)
	sources := persistence.NewGormDataSourceRepository(db)
	batches := persistence.NewGormBatchRunRepository(db)
	require.NoError(t, sources.Save(ctx, &pipeline.DataSource{
		ID:          misaSource,
		DisplayName: "MISA customers",
		Category:    pipeline.SourceCategoryCRM,
		Vendor:      connector.VendorMISACRM,
		Active:      true,
		Target: pipeline.TargetTable{
			Name:       "misa_customers",
			KeyColumns: []string{"id"},
			Mode:       pipeline.LoadModeUpsert,
		},
		UpdatedAt: testNow,
	}))

	client, err := connector.NewMISAClient(&connector.MISAConfig{
		ClientID:     "cid",
		ClientSecret: "csecret",
		APIBaseURL:   baseURL,
		Resource:     connector.MISAResourceCustomers,
		Paginated:    true,
		PageSize:     50,
	}, nil, connector.WithClientClock(clock.Now))
	require.NoError(t, err)

	loader := persistence.NewStagingLoader(db, persistence.WithLoaderClock(clock.Now))
	orch := NewOrchestrator(sources, batches,
		clientMap{misaSource: client},
		flattenerMap{misaSource: idFlattener{}},
		loader, cache.NewInMemoryRunLock(), Settings{},
		WithClock(clock),
	)
	return &stack{db: db, orch: orch, clock: clock, sources: sources, batches: batches}
}

func (s *stack) customerCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Table("misa_customers").Count(&n).Error)
	return n
}

func TestPipeline_MISARateLimitedThenSucceeds(t *testing.T) {
	vendor := &misaServer{rateLimited: 3}
	server := httptest.NewServer(vendor.handler())
	defer server.Close()
	s := newStack(t, server.URL)

	result, err := s.orch.Run(context.Background(), RunRequest{SourceID: misaSource})
	require.NoError(t, err)

	assert.Equal(t, pipeline.BatchStatusSuccess, result.Status)
	assert.EqualValues(t, 4, vendor.calls.Load())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, s.clock.Sleeps())
	assert.Equal(t, 2, result.RecordsLoaded)
	assert.EqualValues(t, 2, s.customerCount(t))

	stored, err := s.batches.FindByID(context.Background(), result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.BatchStatusSuccess, stored.Status)
	assert.Equal(t, 2, stored.RecordsLoaded)

	src, err := s.sources.FindByID(context.Background(), misaSource)
	require.NoError(t, err)
	require.NotNil(t, src.LastExtractTime)
	assert.True(t, testNow.Equal(*src.LastExtractTime))
}

func TestPipeline_MISARateLimitExhausted(t *testing.T) {
	vendor := &misaServer{rateLimited: 4}
	server := httptest.NewServer(vendor.handler())
	defer server.Close()
	s := newStack(t, server.URL)

	result, err := s.orch.Run(context.Background(), RunRequest{SourceID: misaSource})
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrRetriesExhausted)
	assert.EqualValues(t, 4, vendor.calls.Load())

	stored, err := s.batches.FindByID(context.Background(), result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.BatchStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "retries exhausted")
	assert.Contains(t, stored.ErrorMessage, "HTTP 429")
	require.NotNil(t, stored.EndedAt)
	assert.EqualValues(t, 0, s.customerCount(t))

	src, err := s.sources.FindByID(context.Background(), misaSource)
	require.NoError(t, err)
	assert.Nil(t, src.LastExtractTime)
}

func TestPipeline_UpsertRerunIsIdempotent(t *testing.T) {
	server := httptest.NewServer((&misaServer{}).handler())
	defer server.Close()
	s := newStack(t, server.URL)
	ctx := context.Background()
	window := pipeline.Window{Start: testNow.Add(-48 * time.Hour), End: testNow}

	first, err := s.orch.Run(ctx, RunRequest{SourceID: misaSource, Window: &window})
	require.NoError(t, err)

	type row struct {
		ID          string
		AccountName string
		EtlBatchID  string
	}
	var before []row
	require.NoError(t, s.db.Table("misa_customers").Order("id").Find(&before).Error)

	s.clock.Advance(time.Hour)
	second, err := s.orch.Run(ctx, RunRequest{SourceID: misaSource, Window: &window})
	require.NoError(t, err)
	assert.NotEqual(t, first.BatchID, second.BatchID)

	var after []row
	require.NoError(t, s.db.Table("misa_customers").Order("id").Find(&after).Error)
	assert.Equal(t, before, after)
	require.Len(t, after, 2)
	assert.Equal(t, first.BatchID, after[0].EtlBatchID)

	runs, total, err := s.orch.Tracker().List(ctx, pipeline.BatchFilter{SourceID: misaSource})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	for _, r := range runs {
		assert.Equal(t, pipeline.BatchStatusSuccess, r.Status)
	}
}
