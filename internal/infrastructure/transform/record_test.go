package transform

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/config"
	"github.com/facolos/etl/internal/infrastructure/connector"
)

func TestRecordFlattener_Customer(t *testing.T) {
	f := NewRecordFlattener("misa_customers", "id", misaCustomerSchema, "extra_fields")
	raw := `{
		"id": 88,
		"account_name": "Cong ty ABC",
		"annual_revenue": "1200000000.75",
		"is_personal": 0,
		"modified_date": "2025-03-01T10:00:00+07:00",
		"billing_address": {"street": "1 Le Loi"},
		"custom_field12": null
	}`
	rows, err := f.Flatten(json.RawMessage(raw))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, pipeline.RowKey{Parent: "88"}, row.Key)
	assert.False(t, row.HasMultipleChildren)
	assert.NotContains(t, row.Columns, pipeline.ColumnHasMultipleChildren)

	cols := row.Columns
	assert.Equal(t, "88", cols["id"])
	assert.Equal(t, "Cong ty ABC", cols["account_name"])
	assert.Equal(t, "1200000000.75", cols["annual_revenue"].(decimal.Decimal).String())
	assert.Equal(t, false, cols["is_personal"])
	assert.Equal(t, time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC), cols["modified_date"])
	assert.Nil(t, cols["billing_address"])
	assert.Nil(t, cols["tax_code"])
	assert.JSONEq(t, `{"billing_address":{"street":"1 Le Loi"},"custom_field12":null}`,
		string(cols["extra_fields"].(datatypes.JSON)))

	// Every declared column is present so all rows share one column set.
	for _, name := range misaCustomerSchema.Names() {
		assert.Contains(t, cols, name)
	}
}

func TestRecordFlattener_StockKey(t *testing.T) {
	f := NewRecordFlattener("misa_stocks", "stock_code", misaStockSchema, "extra_fields")

	rows, err := f.Flatten(json.RawMessage(`{"id": 3, "stock_code": "KHO01", "stock_name": "Kho tong", "inactive": false}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "KHO01", rows[0].Key.Parent)
	assert.Equal(t, "3", rows[0].Columns["id"])
	assert.Nil(t, rows[0].Columns["extra_fields"])

	_, err = f.Flatten(json.RawMessage(`{"id": 3, "stock_name": "Kho tong"}`))
	assert.ErrorIs(t, err, pipeline.ErrSchemaMismatch)

	_, err = f.Flatten(json.RawMessage(`not json`))
	assert.ErrorIs(t, err, pipeline.ErrSchemaMismatch)
}

func TestConvertValue(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		typ    FieldType
		want   any
		wantOK bool
	}{
		{"nil", nil, TypeDecimal, nil, true},
		{"string", "abc", TypeString, "abc", true},
		{"number as string", json.Number("12"), TypeString, "12", true},
		{"object as string", map[string]any{"a": 1}, TypeString, nil, false},
		{"empty decimal", " ", TypeDecimal, nil, true},
		{"bad decimal", "12abc", TypeDecimal, nil, false},
		{"int", json.Number("7"), TypeInt, int64(7), true},
		{"fractional int", json.Number("7.5"), TypeInt, nil, false},
		{"int from string", "42", TypeInt, int64(42), true},
		{"bool", true, TypeBool, true, true},
		{"bool from string", "No", TypeBool, false, true},
		{"bool from number", json.Number("1"), TypeBool, true, true},
		{"bad bool", "maybe", TypeBool, nil, false},
		{"date", "2025-01-31", TypeTimestamp, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), true},
		{"epoch seconds", json.Number("1700000000"), TypeTimestamp, time.Unix(1700000000, 0).UTC(), true},
		{"epoch millis", json.Number("1700000000123"), TypeTimestamp, time.UnixMilli(1700000000123).UTC(), true},
		{"bad date", "31/01/2025", TypeTimestamp, nil, false},
		{"json", []any{json.Number("1"), "a"}, TypeJSON, datatypes.JSON(`[1,"a"]`), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := convertValue(tt.in, tt.typ)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	d, ok := convertValue(json.Number("0.1"), TypeDecimal)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("0.1").Equal(d.(decimal.Decimal)))
}

func TestRegistry_Flattener(t *testing.T) {
	sources := map[string]config.SourceConfig{
		"tiktok_shop":      {ID: "tiktok_shop", Vendor: connector.VendorTikTokShop},
		"misa_sale_orders": {ID: "misa_sale_orders", Vendor: connector.VendorMISACRM, Resource: connector.MISAResourceSaleOrders},
		"misa_customers":   {ID: "misa_customers", Vendor: connector.VendorMISACRM, Resource: connector.MISAResourceCustomers},
		"misa_contacts":    {ID: "misa_contacts", Vendor: connector.VendorMISACRM, Resource: connector.MISAResourceContacts},
		"misa_products":    {ID: "misa_products", Vendor: connector.VendorMISACRM, Resource: connector.MISAResourceProducts},
		"misa_stocks":      {ID: "misa_stocks", Vendor: connector.VendorMISACRM, Resource: connector.MISAResourceStocks},
		"misa_unknown":     {ID: "misa_unknown", Vendor: connector.VendorMISACRM, Resource: "/Invoices"},
	}
	registry := NewRegistry(sources)

	f, err := registry.Flattener("tiktok_shop")
	require.NoError(t, err)
	assert.IsType(t, &TikTokOrderFlattener{}, f)

	f, err = registry.Flattener("misa_sale_orders")
	require.NoError(t, err)
	assert.IsType(t, &NestedFlattener{}, f)

	for _, id := range []string{"misa_customers", "misa_contacts", "misa_products", "misa_stocks"} {
		f, err = registry.Flattener(id)
		require.NoError(t, err, id)
		assert.IsType(t, &RecordFlattener{}, f, id)
	}

	_, err = registry.Flattener("misa_unknown")
	assert.True(t, pipeline.IsOperator(err))

	_, err = registry.Flattener("shopee")
	assert.True(t, pipeline.IsOperator(err))
	assert.ErrorIs(t, err, pipeline.ErrUnknownSource)
}
