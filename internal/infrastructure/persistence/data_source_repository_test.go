package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSourceRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormDataSourceRepository(newSQLiteDB(t))

	source := &pipeline.DataSource{
		ID:                  "misa_sale_orders",
		DisplayName:         "MISA Sale Orders",
		Category:            pipeline.SourceCategoryCRM,
		Vendor:              "misa_crm",
		Active:              true,
		ExtractionFrequency: "@hourly",
		Target: pipeline.TargetTable{
			Name:       "misa_sale_orders_flattened",
			KeyColumns: []string{"order_id", "item_id"},
			Mode:       pipeline.LoadModeUpsert,
		},
	}
	require.NoError(t, repo.Save(ctx, source))

	stored, err := repo.FindByID(ctx, "misa_sale_orders")
	require.NoError(t, err)
	assert.Equal(t, "MISA Sale Orders", stored.DisplayName)
	assert.Equal(t, []string{"order_id", "item_id"}, stored.Target.KeyColumns)
	assert.Equal(t, pipeline.LoadModeUpsert, stored.Target.Mode)
	assert.Nil(t, stored.LastExtractTime)

	t.Run("watermark only moves forward", func(t *testing.T) {
		t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, repo.UpdateWatermark(ctx, source.ID, t1))
		require.NoError(t, repo.UpdateWatermark(ctx, source.ID, t1.Add(-time.Hour)))

		stored, err := repo.FindByID(ctx, source.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastExtractTime)
		assert.True(t, stored.LastExtractTime.Equal(t1))
	})

	t.Run("save keeps the watermark", func(t *testing.T) {
		source.DisplayName = "MISA Orders"
		source.Active = false
		require.NoError(t, repo.Save(ctx, source))

		stored, err := repo.FindByID(ctx, source.ID)
		require.NoError(t, err)
		assert.Equal(t, "MISA Orders", stored.DisplayName)
		assert.False(t, stored.Active)
		assert.NotNil(t, stored.LastExtractTime)
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "shopee")
		assert.True(t, errors.Is(err, pipeline.ErrUnknownSource))
		assert.True(t, pipeline.IsOperator(err))

		err = repo.UpdateWatermark(ctx, "shopee", time.Now())
		assert.True(t, errors.Is(err, pipeline.ErrUnknownSource))
	})

	t.Run("find all ordered by id", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, &pipeline.DataSource{
			ID: "a_source", DisplayName: "A", Category: pipeline.SourceCategoryEcommerce, Vendor: "tiktok_shop",
			Target: pipeline.TargetTable{Name: "a_table", Mode: pipeline.LoadModeAppend},
		}))
		all, err := repo.FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "a_source", all[0].ID)
	})
}
