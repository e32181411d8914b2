package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDataSource_NextWindow(t *testing.T) {
	now := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC)
	lookback := 7 * 24 * time.Hour

	t.Run("first run uses lookback", func(t *testing.T) {
		ds := &DataSource{ID: "tiktok_shop"}
		w := ds.NextWindow(now, lookback)
		assert.Equal(t, now.Add(-lookback), w.Start)
		assert.Equal(t, now, w.End)
	})

	t.Run("incremental from watermark", func(t *testing.T) {
		mark := now.Add(-2 * time.Hour)
		ds := &DataSource{ID: "tiktok_shop", LastExtractTime: &mark}
		w := ds.NextWindow(now, lookback)
		assert.Equal(t, mark, w.Start)
		assert.Equal(t, now, w.End)
	})

	t.Run("watermark in the future is clamped", func(t *testing.T) {
		mark := now.Add(time.Hour)
		ds := &DataSource{ID: "tiktok_shop", LastExtractTime: &mark}
		w := ds.NextWindow(now, lookback)
		assert.Equal(t, now, w.Start)
		assert.NoError(t, w.Validate())
	})
}

func TestDataSource_AdvanceWatermark(t *testing.T) {
	now := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC)
	ds := &DataSource{ID: "misa_customers"}

	assert.True(t, ds.AdvanceWatermark(now, now))
	assert.Equal(t, now, *ds.LastExtractTime)

	assert.False(t, ds.AdvanceWatermark(now.Add(-time.Hour), now))
	assert.Equal(t, now, *ds.LastExtractTime)

	assert.False(t, ds.AdvanceWatermark(now, now))

	later := now.Add(time.Hour)
	assert.True(t, ds.AdvanceWatermark(later, later))
	assert.Equal(t, later, *ds.LastExtractTime)
	assert.Equal(t, later, ds.UpdatedAt)
}

func TestWindow(t *testing.T) {
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(time.Hour)}

	assert.NoError(t, w.Validate())
	assert.True(t, w.Contains(start))
	assert.True(t, w.Contains(start.Add(time.Hour)))
	assert.False(t, w.Contains(start.Add(-time.Second)))
	assert.False(t, w.Contains(start.Add(time.Hour+time.Second)))

	assert.Error(t, Window{}.Validate())
	assert.Equal(t, "2025-07-01T00:00:00Z/2025-07-01T01:00:00Z", w.String())
}
