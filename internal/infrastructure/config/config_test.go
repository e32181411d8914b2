package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[app]
name = "facolos-etl"
env = "development"

[pipeline]
chunk_size = 200
lookback_days = 3

[sources.tiktok_shop]
vendor = "tiktok_shop"
display_name = "TikTok Shop Orders"
active = true
base_url = "https://open-api.tiktokglobalshop.com"
rate_limit = 10
retry_attempts = 3
retry_backoff_base = "2s"

[sources.tiktok_shop.credentials]
app_key = "key"
app_secret = "secret"
access_token = "access"
refresh_token = "refresh"

[sources.tiktok_shop.target]
table_name = "tiktok_shop_order_detail"
key_columns = ["order_id", "line_item_id"]
mode = "upsert"

[sources.misa_customers]
vendor = "misa_crm"
active = false
base_url = "https://crmconnect.misa.vn/api/v2"
resource = "/Customers"
max_pages = 20

[sources.misa_customers.target]
table_name = "misa_customers"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"ETL_APP_NAME":                os.Getenv("ETL_APP_NAME"),
		"ETL_APP_ENV":                 os.Getenv("ETL_APP_ENV"),
		"ETL_APP_PORT":                os.Getenv("ETL_APP_PORT"),
		"ETL_DATABASE_HOST":           os.Getenv("ETL_DATABASE_HOST"),
		"ETL_DATABASE_PASSWORD":       os.Getenv("ETL_DATABASE_PASSWORD"),
		"ETL_DATABASE_SSLMODE":        os.Getenv("ETL_DATABASE_SSLMODE"),
		"ETL_DATABASE_MAX_OPEN_CONNS": os.Getenv("ETL_DATABASE_MAX_OPEN_CONNS"),
		"ETL_DATABASE_MAX_IDLE_CONNS": os.Getenv("ETL_DATABASE_MAX_IDLE_CONNS"),
		"ETL_PIPELINE_CHUNK_SIZE":     os.Getenv("ETL_PIPELINE_CHUNK_SIZE"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	clearEnv := func() {
		for k := range originalEnv {
			os.Unsetenv(k)
		}
	}

	t.Run("loads default values when no file and no env vars", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "facolos-etl", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 1000, cfg.Pipeline.ChunkSize)
		assert.Equal(t, 7, cfg.Pipeline.LookbackDays)
		assert.Equal(t, 7*24*time.Hour, cfg.Pipeline.Lookback())
		assert.Equal(t, 3, cfg.Pipeline.MaxConsecutiveFail)
		assert.Equal(t, 0.8, cfg.Pipeline.MinSuccessRate)
		assert.Empty(t, cfg.Sources)
	})

	t.Run("loads values from environment variables with ETL prefix", func(t *testing.T) {
		clearEnv()
		os.Setenv("ETL_APP_NAME", "etl-test")
		os.Setenv("ETL_APP_PORT", "9000")
		os.Setenv("ETL_DATABASE_HOST", "db.local")
		os.Setenv("ETL_PIPELINE_CHUNK_SIZE", "250")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "etl-test", cfg.App.Name)
		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "db.local", cfg.Database.Host)
		assert.Equal(t, 250, cfg.Pipeline.ChunkSize)
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		clearEnv()
		os.Setenv("ETL_DATABASE_MAX_OPEN_CONNS", "10")
		os.Setenv("ETL_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("requires database password and ssl in production", func(t *testing.T) {
		clearEnv()
		os.Setenv("ETL_APP_ENV", "production")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.password")

		os.Setenv("ETL_DATABASE_PASSWORD", "secret")
		_, err = Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sslmode")

		os.Setenv("ETL_DATABASE_SSLMODE", "require")
		_, err = Load()
		require.NoError(t, err)
	})
}

func TestLoadFrom_Sources(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"misa_customers", "tiktok_shop"}, cfg.SourceIDs())
	assert.Equal(t, 200, cfg.Pipeline.ChunkSize)

	tiktok, err := cfg.Source("tiktok_shop")
	require.NoError(t, err)
	assert.Equal(t, "tiktok_shop", tiktok.ID)
	assert.Equal(t, "TikTok Shop Orders", tiktok.DisplayName)
	assert.Equal(t, "ecommerce", tiktok.Category)
	assert.Equal(t, 10.0, tiktok.RateLimit)
	assert.Equal(t, 2*time.Second, tiktok.RetryBackoffBase)
	assert.Equal(t, 50, tiktok.PageSize)
	assert.Equal(t, "/authorization/202309/token/refresh", tiktok.AuthEndpoint)
	assert.Equal(t, "secret", tiktok.Credential("app_secret"))

	target := tiktok.Target.TargetTable()
	assert.Equal(t, "tiktok_shop_order_detail", target.Name)
	assert.Equal(t, pipeline.LoadModeUpsert, target.Mode)
	assert.Equal(t, []string{"order_id", "line_item_id"}, target.KeyColumns)

	misa, err := cfg.Source("misa_customers")
	require.NoError(t, err)
	assert.Equal(t, "crm", misa.Category)
	assert.Equal(t, "/Account", misa.AuthEndpoint)
	assert.Equal(t, 100, misa.PageSize)
	assert.Equal(t, 20, misa.MaxPages)
	assert.Equal(t, "append", misa.Target.Mode)
	assert.False(t, misa.Active)

	_, err = cfg.Source("shopee")
	assert.True(t, errors.Is(err, pipeline.ErrUnknownSource))
}

func TestLoadFrom_OperatorErrors(t *testing.T) {
	t.Run("active source without credentials", func(t *testing.T) {
		content := `
[sources.misa_orders]
vendor = "misa_crm"
active = true
base_url = "https://crmconnect.misa.vn/api/v2"
[sources.misa_orders.target]
table_name = "misa_sale_orders_flattened"
`
		_, err := LoadFrom(writeConfig(t, content))
		require.Error(t, err)
		assert.True(t, errors.Is(err, pipeline.ErrMissingCredentials))
		assert.True(t, pipeline.IsOperator(err))
	})

	t.Run("upsert without key columns", func(t *testing.T) {
		content := `
[sources.misa_stocks]
vendor = "misa_crm"
base_url = "https://crmconnect.misa.vn/api/v2"
[sources.misa_stocks.target]
table_name = "misa_stocks"
mode = "upsert"
`
		_, err := LoadFrom(writeConfig(t, content))
		require.Error(t, err)
		assert.True(t, errors.Is(err, pipeline.ErrUpsertRequiresKey))
	})

	t.Run("unknown vendor", func(t *testing.T) {
		content := `
[sources.shopee]
vendor = "shopee"
base_url = "https://partner.shopeemobile.com"
[sources.shopee.target]
table_name = "shopee_orders"
`
		_, err := LoadFrom(writeConfig(t, content))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sources.shopee")
	})

	t.Run("two sources loading the same table", func(t *testing.T) {
		content := `
[sources.a]
vendor = "misa_crm"
base_url = "https://crmconnect.misa.vn/api/v2"
[sources.a.target]
table_name = "misa_customers"
[sources.b]
vendor = "misa_crm"
base_url = "https://crmconnect.misa.vn/api/v2"
[sources.b.target]
table_name = "misa_customers"
`
		_, err := LoadFrom(writeConfig(t, content))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "misa_customers")
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
		require.Error(t, err)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "etl",
			Password: "etlpass",
			DBName:   "facolos_staging",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "etl")
		assert.Contains(t, dsn, "facolos_staging")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{Host: "localhost", Port: 5432, User: "user", Password: "pass@word#123", DBName: "db", SSLMode: "disable"}
		assert.Contains(t, cfg.DSN(), "pass%40word%23123")
	})
}

func TestSourceConfig_DataSource(t *testing.T) {
	src := SourceConfig{
		ID:       "misa_customers",
		Vendor:   "misa_crm",
		Active:   true,
		Schedule: "@every 1h",
		Target:   TargetConfig{TableName: "stg_misa_customers", KeyColumns: []string{"id"}, Mode: "upsert"},
	}

	ds := src.DataSource()

	assert.Equal(t, "misa_customers", ds.ID)
	assert.Equal(t, "misa_customers", ds.DisplayName)
	assert.Equal(t, pipeline.SourceCategoryCRM, ds.Category)
	assert.Equal(t, "@every 1h", ds.ExtractionFrequency)
	assert.Equal(t, pipeline.LoadModeUpsert, ds.Target.Mode)
	assert.Equal(t, []string{"id"}, ds.Target.KeyColumns)
	assert.Nil(t, ds.LastExtractTime)

	src.Category = "ecommerce"
	src.DisplayName = "MISA"
	ds = src.DataSource()
	assert.Equal(t, pipeline.SourceCategoryEcommerce, ds.Category)
	assert.Equal(t, "MISA", ds.DisplayName)
}
