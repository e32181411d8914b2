package logger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

func TestNewGormLogger(t *testing.T) {
	base, _ := newObserved()
	gl := NewGormLogger(base, gormlogger.Warn, WithSlowThreshold(50*time.Millisecond), WithIgnoreRecordNotFoundError(false))

	assert.Equal(t, gormlogger.Warn, gl.logLevel)
	assert.Equal(t, 50*time.Millisecond, gl.slowThreshold)
	assert.False(t, gl.ignoreRecordNotFoundError)

	var _ gormlogger.Interface = gl
}

func TestGormLogger_LogMode(t *testing.T) {
	base, _ := newObserved()
	gl := NewGormLogger(base, gormlogger.Warn)

	changed := gl.LogMode(gormlogger.Info).(*GormLogger)
	assert.Equal(t, gormlogger.Info, changed.logLevel)
	assert.Equal(t, gormlogger.Warn, gl.logLevel)
}

func TestGormLogger_Trace(t *testing.T) {
	sqlFn := func() (string, int64) { return "INSERT INTO misa_customers", 3 }

	tests := []struct {
		name      string
		level     gormlogger.LogLevel
		begin     time.Time
		err       error
		wantCount int
		wantLevel zapcore.Level
		wantMsg   string
	}{
		{name: "error", level: gormlogger.Error, begin: time.Now(), err: errors.New("duplicate key"), wantCount: 1, wantLevel: zapcore.ErrorLevel, wantMsg: "SQL error"},
		{name: "record not found ignored", level: gormlogger.Error, begin: time.Now(), err: gormlogger.ErrRecordNotFound},
		{name: "slow query", level: gormlogger.Warn, begin: time.Now().Add(-2 * time.Second), wantCount: 1, wantLevel: zapcore.WarnLevel, wantMsg: "slow SQL"},
		{name: "normal query at info", level: gormlogger.Info, begin: time.Now(), wantCount: 1, wantLevel: zapcore.DebugLevel, wantMsg: "SQL query"},
		{name: "normal query at warn", level: gormlogger.Warn, begin: time.Now()},
		{name: "silent", level: gormlogger.Silent, begin: time.Now(), err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, logs := newObserved()
			gl := NewGormLogger(base, tt.level)

			gl.Trace(context.Background(), tt.begin, sqlFn, tt.err)

			require.Equal(t, tt.wantCount, logs.Len())
			if tt.wantCount > 0 {
				entry := logs.All()[0]
				assert.Equal(t, tt.wantLevel, entry.Level)
				assert.Equal(t, tt.wantMsg, entry.Message)
				assert.Equal(t, int64(3), entry.ContextMap()["rows"])
			}
		})
	}
}

func TestGormLogger_Trace_CarriesBatchContext(t *testing.T) {
	base, logs := newObserved()
	gl := NewGormLogger(base, gormlogger.Info)

	ctx := context.WithValue(context.Background(), BatchIDKey, "batch-7")
	ctx = context.WithValue(ctx, SourceIDKey, "tiktok_shop")
	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "batch-7", fields["batch_id"])
	assert.Equal(t, "tiktok_shop", fields["source_id"])
}

func TestTruncateSQL(t *testing.T) {
	short := "SELECT 1"
	assert.Equal(t, short, truncateSQL(short))

	long := strings.Repeat("x", maxLoggedSQL+10)
	out := truncateSQL(long)
	assert.True(t, strings.HasSuffix(out, "...(truncated)"))
	assert.Len(t, out, maxLoggedSQL+len("...(truncated)"))
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, MapGormLogLevel("error"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("warn"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("unknown"))
}
