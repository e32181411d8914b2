package persistence

import (
	"fmt"
	"testing"

	"github.com/facolos/etl/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newSQLiteDB opens a private in-memory database with the control tables.
func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(sqlite.Open(dsn), nil, "silent", func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(1)
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.DB.AutoMigrate(&models.BatchRunModel{}, &models.DataSourceModel{}))
	return db.DB
}

const saleOrdersDDL = `CREATE TABLE misa_sale_orders_flattened (
	order_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	order_customer TEXT,
	item_amount NUMERIC,
	has_multiple_children BOOLEAN,
	total_children_in_parent INTEGER,
	etl_batch_id TEXT NOT NULL,
	etl_created_at DATETIME NOT NULL,
	etl_updated_at DATETIME NOT NULL,
	etl_source TEXT NOT NULL,
	PRIMARY KEY (order_id, item_id)
)`

const customersDDL = `CREATE TABLE misa_customers (
	id TEXT NOT NULL,
	account_name TEXT,
	etl_batch_id TEXT NOT NULL,
	etl_created_at DATETIME NOT NULL,
	etl_updated_at DATETIME NOT NULL,
	etl_source TEXT NOT NULL,
	PRIMARY KEY (etl_batch_id, id)
)`
