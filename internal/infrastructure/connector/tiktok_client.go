package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// TikTokClient extracts detailed orders from the TikTok Shop Open API. Each
// page is one order search page with the details of its orders.
type TikTokClient struct {
	config    *TikTokConfig
	transport *Transport
	tokens    *tokenCache
	logger    *zap.Logger
	now       func() time.Time

	// refreshToken is only touched by refreshAccessToken, which runs under
	// the token cache lock.
	refreshToken string

	cipherMu   sync.Mutex
	shopCipher string
}

// NewTikTokClient creates a new TikTok Shop client with the given configuration
func NewTikTokClient(config *TikTokConfig, logger *zap.Logger, opts ...ClientOption) (*TikTokClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := buildClientOptions(opts)

	c := &TikTokClient{
		config:       config,
		transport:    NewTransport(config.Timeout, config.RequestsPerSecond, config.Burst, o.transportOptions()...),
		logger:       logger.With(zap.String("vendor", "tiktok_shop")),
		now:          o.now,
		refreshToken: config.RefreshToken,
		shopCipher:   config.ShopCipher,
	}
	c.tokens = newTokenCache(c.refreshAccessToken, config.RefreshBuffer, o.now)
	c.tokens.Seed(config.AccessToken, time.Time{})
	return c, nil
}

// Fetch returns one page of detailed orders created inside window.
func (c *TikTokClient) Fetch(ctx context.Context, window pipeline.Window, cursor string) (pipeline.Page, error) {
	params := map[string]string{
		"create_time_from": unixString(window.Start),
		"create_time_to":   unixString(window.End),
		"page_size":        strconv.Itoa(c.config.PageSize),
		"sort_field":       "create_time",
		"sort_order":       "ASC",
	}
	if cursor != "" {
		params["page_token"] = cursor
	}

	var search TikTokOrderSearchData
	if err := c.call(ctx, "tiktok.search_orders", http.MethodGet, tiktokSearchPath, params, nil, true, &search); err != nil {
		return pipeline.Page{}, err
	}

	ids := search.OrderIDs()
	records := make([]json.RawMessage, 0, len(ids))
	for start := 0; start < len(ids); start += tiktokDetailBatchSize {
		end := min(start+tiktokDetailBatchSize, len(ids))
		var detail TikTokOrderDetailData
		detailParams := map[string]string{"ids": strings.Join(ids[start:end], ",")}
		if err := c.call(ctx, "tiktok.get_orders", http.MethodGet, tiktokDetailPath, detailParams, nil, true, &detail); err != nil {
			return pipeline.Page{}, err
		}
		records = append(records, detail.Records()...)
	}

	// The token goes back as received. A repeated token is caught by the
	// caller's stuck-cursor check instead of ending the stream early.
	next := search.NextCursor()
	switch {
	case search.MoreAnnounced() && next == "":
		return pipeline.Page{}, pipeline.NewFatalError("tiktok.search_orders", "MISSING_PAGE_TOKEN",
			fmt.Errorf("%w: has_more without a page token", ErrInvalidResponse))
	case len(ids) == 0 && !search.MoreAnnounced():
		next = ""
	}

	c.logger.Debug("TikTok order page fetched",
		zap.Int("order_ids", len(ids)),
		zap.Int("records", len(records)),
		zap.Bool("has_more", next != ""),
	)
	return pipeline.Page{Records: records, NextCursor: next}, nil
}

// Ping verifies credentials by resolving the shop cipher.
func (c *TikTokClient) Ping(ctx context.Context) error {
	_, err := c.ShopCipher(ctx)
	return err
}

// ShopCipher returns the cipher of the first authorized shop, resolving it
// once from the API when it was not configured.
func (c *TikTokClient) ShopCipher(ctx context.Context) (string, error) {
	c.cipherMu.Lock()
	defer c.cipherMu.Unlock()
	if c.shopCipher != "" {
		return c.shopCipher, nil
	}

	var shops TikTokShopsData
	if err := c.call(ctx, "tiktok.get_shops", http.MethodGet, tiktokShopsPath, map[string]string{}, nil, false, &shops); err != nil {
		return "", err
	}
	if len(shops.Shops) == 0 || shops.Shops[0].Cipher == "" {
		return "", pipeline.NewFatalError("tiktok.get_shops", "NO_AUTHORIZED_SHOP",
			fmt.Errorf("%w: no authorized shop", ErrInvalidResponse))
	}
	c.shopCipher = shops.Shops[0].Cipher
	c.logger.Info("TikTok shop cipher resolved", zap.String("shop_id", shops.Shops[0].ID))
	return c.shopCipher, nil
}

// call sends a signed request, refreshing the access token and retrying
// once when the vendor rejects it.
func (c *TikTokClient) call(ctx context.Context, op, method, path string, params map[string]string, body []byte, needsShop bool, out any) error {
	if needsShop {
		cipher, err := c.ShopCipher(ctx)
		if err != nil {
			return err
		}
		params["shop_cipher"] = cipher
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		err = c.send(ctx, op, method, path, params, body, token, out)
		if err == nil || attempt > 0 || !isUnauthorized(err) {
			return err
		}
		c.logger.Warn("TikTok access token rejected, refreshing", zap.String("op", op))
		if _, err := c.tokens.Refresh(ctx, token); err != nil {
			return err
		}
	}
}

func (c *TikTokClient) send(ctx context.Context, op, method, path string, params map[string]string, body []byte, token string, out any) error {
	query := make(map[string]string, len(params)+3)
	for k, v := range params {
		query[k] = v
	}
	query["app_key"] = c.config.AppKey
	query["timestamp"] = unixString(c.now())
	query["sign"] = c.config.Sign(path, query, body)

	values := url.Values{}
	for k, v := range query {
		values.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.APIBaseURL+path+"?"+values.Encode(), bytes.NewReader(body))
	if err != nil {
		return pipeline.NewFatalError(op, "BAD_REQUEST", fmt.Errorf("tiktok: failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(tiktokAccessTokenHeader, token)

	resp, err := c.transport.Do(ctx, op, req)
	if err != nil {
		return err
	}
	if err := ClassifyStatus(op, resp.StatusCode); err != nil {
		return err
	}
	return decodeTikTokEnvelope(op, resp.Body, out)
}

// refreshAccessToken exchanges the refresh token for a new access token.
func (c *TikTokClient) refreshAccessToken(ctx context.Context) (string, time.Time, error) {
	const op = "tiktok.refresh_token"

	payload := map[string]string{
		"app_key":       c.config.AppKey,
		"timestamp":     unixString(c.now()),
		"refresh_token": c.refreshToken,
		"grant_type":    "refresh_token",
	}
	payload["sign"] = c.config.Sign(c.config.RefreshPath, payload, nil)

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", time.Time{}, pipeline.NewFatalError(op, "BAD_REQUEST", fmt.Errorf("tiktok: failed to marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIBaseURL+c.config.RefreshPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", time.Time{}, pipeline.NewFatalError(op, "BAD_REQUEST", fmt.Errorf("tiktok: failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.transport.Do(ctx, op, req)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := ClassifyStatus(op, resp.StatusCode); err != nil {
		if pipeline.IsTransient(err) {
			return "", time.Time{}, err
		}
		return "", time.Time{}, pipeline.NewFatalError(op, "TOKEN_REFRESH_FAILED", fmt.Errorf("%w: %w", ErrTokenRefresh, err))
	}

	var data TikTokTokenData
	if err := decodeTikTokEnvelope(op, resp.Body, &data); err != nil {
		if pipeline.IsTransient(err) {
			return "", time.Time{}, err
		}
		return "", time.Time{}, pipeline.NewFatalError(op, "TOKEN_REFRESH_FAILED", fmt.Errorf("%w: %w", ErrTokenRefresh, err))
	}
	if data.AccessToken == "" {
		return "", time.Time{}, pipeline.NewFatalError(op, "TOKEN_REFRESH_FAILED",
			fmt.Errorf("%w: empty access token", ErrTokenRefresh))
	}
	if data.RefreshToken != "" {
		c.refreshToken = data.RefreshToken
	}

	expiresAt := data.ExpiresAt(c.now())
	c.logger.Info("TikTok access token refreshed", zap.Time("expires_at", expiresAt))
	return data.AccessToken, expiresAt, nil
}

// decodeTikTokEnvelope checks the response code and decodes data into out.
func decodeTikTokEnvelope(op string, body []byte, out any) error {
	var env TikTokResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return decodeError(op, err)
	}
	if !env.IsSuccess() {
		cause := fmt.Errorf("tiktok: %d - %s", env.Code, env.Message)
		switch {
		case env.IsAuthError():
			return pipeline.NewFatalError(op, "UNAUTHORIZED", fmt.Errorf("%w: %w", ErrUnauthorized, cause))
		case env.IsRetryable():
			return pipeline.NewTransientError(op, "RATE_LIMITED", fmt.Errorf("%w: %w", ErrRateLimited, cause))
		default:
			return pipeline.NewFatalError(op, "REQUEST_REJECTED", fmt.Errorf("%w: %w", ErrRequestRejected, cause))
		}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return decodeError(op, err)
	}
	return nil
}

var _ pipeline.VendorClient = (*TikTokClient)(nil)
