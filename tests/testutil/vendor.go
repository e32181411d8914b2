package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// TikTokOrder builds a raw order with one line item per SKU.
func TikTokOrder(id string, updateTime int64, skus ...string) map[string]any {
	items := make([]map[string]any, 0, len(skus))
	for i, sku := range skus {
		items = append(items, map[string]any{
			"id":         id + "-" + strconv.Itoa(i+1),
			"product_id": "P-" + sku,
			"sku_id":     sku,
			"seller_sku": sku,
			"quantity":   1,
			"sale_price": "100000",
			"currency":   "VND",
		})
	}
	return map[string]any{
		"id":          id,
		"status":      "COMPLETED",
		"create_time": updateTime,
		"update_time": updateTime,
		"payment":     map[string]any{"currency": "VND", "total_amount": "200000"},
		"line_items":  items,
	}
}

// FakeTikTok is an httptest server speaking the TikTok Shop order API.
// Orders are served a page at a time; FailSearches makes the next search
// calls fail.
type FakeTikTok struct {
	Server *httptest.Server

	mu         sync.Mutex
	orders     []map[string]any
	pageSize   int
	failures   int
	failStatus int

	SearchCalls  atomic.Int32
	RefreshCalls atomic.Int32
}

// NewFakeTikTok starts the server; it is closed with the test.
func NewFakeTikTok(t *testing.T, orders ...map[string]any) *FakeTikTok {
	t.Helper()
	f := &FakeTikTok{pageSize: 50, failStatus: http.StatusTooManyRequests, orders: orders}

	mux := http.NewServeMux()
	mux.HandleFunc("/shop/202309/shops", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"code":0,"message":"Success","data":{"shops":[{"id":"7001","name":"Facolos","region":"VN","cipher":"ROW_cipher"}]}}`)
	})
	mux.HandleFunc("/order/202309/orders/search", f.search)
	mux.HandleFunc("/order/202309/orders", f.detail)
	mux.HandleFunc("/authorization/202309/token/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.RefreshCalls.Add(1)
		writeJSON(w, http.StatusOK, `{"code":0,"data":{"access_token":"access-2","access_token_expire_in":3600,"refresh_token":"refresh-2"}}`)
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the API base URL
func (f *FakeTikTok) URL() string {
	return f.Server.URL
}

// SetOrders replaces the served orders
func (f *FakeTikTok) SetOrders(orders ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = orders
}

// SetPageSize sets how many orders one search returns
func (f *FakeTikTok) SetPageSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSize = n
}

// FailSearches answers the next n search calls with status
func (f *FakeTikTok) FailSearches(n int, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.failStatus = status
}

func (f *FakeTikTok) search(w http.ResponseWriter, r *http.Request) {
	f.SearchCalls.Add(1)

	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		status := f.failStatus
		f.mu.Unlock()
		writeJSON(w, status, `{}`)
		return
	}
	orders, size := f.orders, f.pageSize
	f.mu.Unlock()

	offset, _ := strconv.Atoi(r.URL.Query().Get("page_token"))
	offset = min(offset, len(orders))
	end := min(offset+size, len(orders))
	ids := make([]map[string]any, 0, end-offset)
	for _, o := range orders[offset:end] {
		ids = append(ids, map[string]any{"id": o["id"]})
	}
	next := ""
	if end < len(orders) {
		next = strconv.Itoa(end)
	}
	body, _ := json.Marshal(map[string]any{
		"code": 0,
		"data": map[string]any{"orders": ids, "next_page_token": next, "has_more": next != "", "total_count": len(orders)},
	})
	writeJSON(w, http.StatusOK, string(body))
}

func (f *FakeTikTok) detail(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	byID := make(map[string]map[string]any, len(f.orders))
	for _, o := range f.orders {
		byID[o["id"].(string)] = o
	}
	f.mu.Unlock()

	var out []map[string]any
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if o, ok := byID[id]; ok {
			out = append(out, o)
		}
	}
	body, _ := json.Marshal(map[string]any{"code": 0, "data": map[string]any{"orders": out}})
	writeJSON(w, http.StatusOK, string(body))
}

// FakeMISA is an httptest server speaking the MISA CRM API for one resource.
type FakeMISA struct {
	Server *httptest.Server

	mu      sync.Mutex
	records []map[string]any

	TokenCalls atomic.Int32
	DataCalls  atomic.Int32
}

// NewFakeMISA serves records under resource (e.g. "/Customers"), one page
// per request
func NewFakeMISA(t *testing.T, resource string, records ...map[string]any) *FakeMISA {
	t.Helper()
	f := &FakeMISA{records: records}

	mux := http.NewServeMux()
	mux.HandleFunc("/Account", func(w http.ResponseWriter, r *http.Request) {
		f.TokenCalls.Add(1)
		writeJSON(w, http.StatusOK, `{"success":true,"data":"opaque-token"}`)
	})
	mux.HandleFunc(resource, func(w http.ResponseWriter, r *http.Request) {
		f.DataCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer opaque-token" {
			writeJSON(w, http.StatusUnauthorized, `{"success":false}`)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

		f.mu.Lock()
		records := f.records
		f.mu.Unlock()

		if size > 0 {
			start := min(page*size, len(records))
			records = records[start:min(start+size, len(records))]
		}
		body, _ := json.Marshal(map[string]any{"success": true, "data": records})
		writeJSON(w, http.StatusOK, string(body))
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the API base URL
func (f *FakeMISA) URL() string {
	return f.Server.URL
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
