package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facolos/etl/internal/domain/pipeline"
)

func signedTestJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "facolos"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("misa-test"))
	require.NoError(t, err)
	return token
}

type fakeMISA struct {
	t          *testing.T
	authCalls  atomic.Int32
	dataCalls  atomic.Int32
	tokens     []string
	records    [][]map[string]any
	rejectOnce atomic.Bool
	lastQuery  atomic.Value
}

func (f *fakeMISA) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/Account", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.authCalls.Add(1)) - 1
		var body map[string]string
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(f.t, "cid", body["client_id"])
		assert.Equal(f.t, "csecret", body["client_secret"])
		token := f.tokens[min(n, len(f.tokens)-1)]
		data, _ := json.Marshal(map[string]any{"success": true, "data": token})
		writeJSON(w, string(data))
	})
	serveResource := func(w http.ResponseWriter, r *http.Request) {
		f.dataCalls.Add(1)
		f.lastQuery.Store(r.URL.RawQuery)
		assert.Equal(f.t, "cid", r.Header.Get("Clientid"))
		if f.rejectOnce.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		expected := "Bearer " + f.tokens[min(int(f.authCalls.Load())-1, len(f.tokens)-1)]
		assert.Equal(f.t, expected, r.Header.Get("Authorization"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var recs []map[string]any
		if page < len(f.records) {
			recs = f.records[page]
		}
		data, _ := json.Marshal(map[string]any{"success": true, "data": recs, "total": 3})
		writeJSON(w, string(data))
	}
	mux.HandleFunc("/Customers", serveResource)
	mux.HandleFunc("/Stocks", serveResource)
	return mux
}

func newTestMISAClient(t *testing.T, baseURL, resource string, pageSize int) *MISAClient {
	t.Helper()
	c, err := NewMISAClient(&MISAConfig{
		ClientID:     "cid",
		ClientSecret: "csecret",
		APIBaseURL:   baseURL,
		Resource:     resource,
		Paginated:    IsPaginatedResource(resource),
		PageSize:     pageSize,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestMISAConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, (&MISAConfig{ClientSecret: "s", Resource: "/Customers"}).Validate(), ErrMISAConfigMissingClientID)
	assert.ErrorIs(t, (&MISAConfig{ClientID: "c", Resource: "/Customers"}).Validate(), ErrMISAConfigMissingClientSecret)
	assert.ErrorIs(t, (&MISAConfig{ClientID: "c", ClientSecret: "s"}).Validate(), ErrMISAConfigMissingResource)

	cfg := &MISAConfig{ClientID: "c", ClientSecret: "s", Resource: "Customers", PageSize: 500}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/Customers", cfg.Resource)
	assert.Equal(t, misaMaxPageSize, cfg.PageSize)
	assert.Equal(t, "/Account", cfg.AuthPath)
	assert.Equal(t, "modified_date", cfg.ModifiedField)

	assert.True(t, IsPaginatedResource("/Customers"))
	assert.False(t, IsPaginatedResource("/Stocks"))
}

func TestMISAClient_Fetch_PaginatesUntilShortPage(t *testing.T) {
	fake := &fakeMISA{t: t, tokens: []string{signedTestJWT(t, time.Now().Add(2*time.Hour))}}
	fake.records = [][]map[string]any{
		{{"id": "c1"}, {"id": "c2"}},
		{{"id": "c3"}},
	}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestMISAClient(t, server.URL, MISAResourceCustomers, 2)
	ctx := context.Background()

	page, err := client.Fetch(ctx, testWindow(), "")
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, "1", page.NextCursor)
	assert.Contains(t, fake.lastQuery.Load(), "pageSize=2")

	page, err = client.Fetch(ctx, testWindow(), page.NextCursor)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.True(t, page.Done())

	// The token is reused across pages.
	assert.Equal(t, int32(1), fake.authCalls.Load())
}

func TestMISAClient_Fetch_PageLimitIsFatal(t *testing.T) {
	fake := &fakeMISA{t: t, tokens: []string{signedTestJWT(t, time.Now().Add(2*time.Hour))}}
	fake.records = [][]map[string]any{
		{{"id": "c1"}, {"id": "c2"}},
		{{"id": "c3"}, {"id": "c4"}},
		{{"id": "c5"}},
	}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestMISAClient(t, server.URL, MISAResourceCustomers, 2)
	client.config.MaxPages = 2
	ctx := context.Background()

	page, err := client.Fetch(ctx, testWindow(), "")
	require.NoError(t, err)
	assert.Equal(t, "1", page.NextCursor)

	_, err = client.Fetch(ctx, testWindow(), page.NextCursor)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindFatal, pipeline.KindOf(err))
	assert.Equal(t, "PAGE_LIMIT_REACHED", pipeline.CodeOf(err))
	assert.ErrorIs(t, err, ErrPageLimit)

	t.Run("short last page within the limit", func(t *testing.T) {
		fake.records = fake.records[:1]
		fake.records = append(fake.records, []map[string]any{{"id": "c3"}})
		page, err := client.Fetch(ctx, testWindow(), "1")
		require.NoError(t, err)
		assert.True(t, page.Done())
	})
}

func TestMISAClient_Fetch_FiltersByModifiedDate(t *testing.T) {
	window := testWindow()
	inside := window.Start.Add(time.Hour).Format("2006-01-02T15:04:05")
	outside := window.Start.Add(-time.Hour).Format(time.RFC3339)
	boundary := window.End.Format(time.RFC3339)

	fake := &fakeMISA{t: t, tokens: []string{signedTestJWT(t, time.Now().Add(2*time.Hour))}}
	fake.records = [][]map[string]any{{
		{"id": "in", "modified_date": inside},
		{"id": "out", "modified_date": outside},
		{"id": "edge", "modified_date": boundary},
		{"id": "none"},
		{"id": "garbled", "modified_date": "not a date"},
	}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	page, err := newTestMISAClient(t, server.URL, MISAResourceCustomers, 100).Fetch(context.Background(), window, "")
	require.NoError(t, err)

	var ids []string
	for _, rec := range page.Records {
		var m map[string]any
		require.NoError(t, json.Unmarshal(rec, &m))
		ids = append(ids, m["id"].(string))
	}
	assert.Equal(t, []string{"in", "edge", "none", "garbled"}, ids)
}

func TestMISAClient_Fetch_StocksUnpaginated(t *testing.T) {
	fake := &fakeMISA{t: t, tokens: []string{signedTestJWT(t, time.Now().Add(2*time.Hour))}}
	fake.records = [][]map[string]any{{{"stock_code": "KHO1"}, {"stock_code": "KHO2"}}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	page, err := newTestMISAClient(t, server.URL, MISAResourceStocks, 1).Fetch(context.Background(), testWindow(), "")
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.True(t, page.Done())
	assert.Equal(t, "", fake.lastQuery.Load())
}

func TestMISAClient_ReauthenticatesOnUnauthorized(t *testing.T) {
	fake := &fakeMISA{t: t, tokens: []string{
		signedTestJWT(t, time.Now().Add(2*time.Hour)),
		signedTestJWT(t, time.Now().Add(3*time.Hour)),
	}}
	fake.records = [][]map[string]any{{{"id": "c1"}}}
	fake.rejectOnce.Store(true)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	page, err := newTestMISAClient(t, server.URL, MISAResourceCustomers, 100).Fetch(context.Background(), testWindow(), "")
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, int32(2), fake.authCalls.Load())
	assert.Equal(t, int32(2), fake.dataCalls.Load())
}

func TestMISAClient_TokenExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	client, err := NewMISAClient(&MISAConfig{ClientID: "c", ClientSecret: "s", Resource: "/Customers"}, nil,
		WithClientClock(func() time.Time { return now }))
	require.NoError(t, err)

	exp := now.Add(90 * time.Minute).Truncate(time.Second)
	assert.True(t, client.tokenExpiry(signedTestJWT(t, exp)).Equal(exp))
	assert.True(t, client.tokenExpiry(signedTestJWT(t, time.Time{})).Equal(now.Add(time.Hour)))
	assert.True(t, client.tokenExpiry("opaque-token").Equal(now.Add(time.Hour)))
}

func TestMISAClient_RefreshesBeforeExpiry(t *testing.T) {
	now := time.Now()
	fake := &fakeMISA{t: t, tokens: []string{
		signedTestJWT(t, now.Add(2*time.Minute)),
		signedTestJWT(t, now.Add(2*time.Hour)),
	}}
	fake.records = [][]map[string]any{{{"id": "c1"}}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client, err := NewMISAClient(&MISAConfig{
		ClientID: "cid", ClientSecret: "csecret", APIBaseURL: server.URL,
		Resource: MISAResourceCustomers, Paginated: true, RefreshBuffer: 5 * time.Minute,
	}, nil)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), testWindow(), "")
	require.NoError(t, err)
	// The first token expires inside the refresh buffer, so the next call refreshes.
	_, err = client.Fetch(context.Background(), testWindow(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.authCalls.Load())
}

func TestMISAClient_Errors(t *testing.T) {
	t.Run("unsuccessful envelope is fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/Account" {
				writeJSON(w, fmt.Sprintf(`{"success":true,"data":%q}`, "tok"))
				return
			}
			writeJSON(w, `{"success":false,"code":400,"message":"bad request"}`)
		}))
		defer server.Close()

		_, err := newTestMISAClient(t, server.URL, MISAResourceCustomers, 100).Fetch(context.Background(), testWindow(), "")
		require.Error(t, err)
		assert.Equal(t, pipeline.KindFatal, pipeline.KindOf(err))
		assert.ErrorIs(t, err, ErrRequestRejected)
	})

	t.Run("auth rejection is fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		err := newTestMISAClient(t, server.URL, MISAResourceCustomers, 100).Ping(context.Background())
		require.Error(t, err)
		assert.Equal(t, pipeline.KindFatal, pipeline.KindOf(err))
		assert.ErrorIs(t, err, ErrTokenRefresh)
	})

	t.Run("server error is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/Account" {
				writeJSON(w, `{"success":true,"data":"tok"}`)
				return
			}
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := newTestMISAClient(t, server.URL, MISAResourceCustomers, 100).Fetch(context.Background(), testWindow(), "")
		assert.True(t, pipeline.IsTransient(err))
	})

	t.Run("bad cursor is fatal", func(t *testing.T) {
		client := newTestMISAClient(t, "http://127.0.0.1:1", MISAResourceCustomers, 100)
		_, err := client.Fetch(context.Background(), testWindow(), "next")
		assert.Equal(t, pipeline.KindFatal, pipeline.KindOf(err))
	})
}

func TestParseMISATime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2025-03-01T10:20:30Z", time.Date(2025, 3, 1, 10, 20, 30, 0, time.UTC), true},
		{"2025-03-01T17:20:30+07:00", time.Date(2025, 3, 1, 10, 20, 30, 0, time.UTC), true},
		{"2025-03-01T10:20:30", time.Date(2025, 3, 1, 10, 20, 30, 0, time.UTC), true},
		{"2025-03-01T10:20:30.1234567", time.Date(2025, 3, 1, 10, 20, 30, 123456700, time.UTC), true},
		{"2025-03-01", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"yesterday", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseMISATime(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}
