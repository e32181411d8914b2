package connector

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"
)

// TikTokConfig holds configuration for the TikTok Shop Open API
type TikTokConfig struct {
	// AppKey is the application key from the TikTok Shop partner center
	AppKey string
	// AppSecret signs every request
	AppSecret string
	// AccessToken is the seller's current access token
	AccessToken string
	// RefreshToken exchanges for a new access token
	RefreshToken string
	// ShopCipher identifies the shop; resolved from the API when empty
	ShopCipher string
	// APIBaseURL is the base URL for the Open API
	APIBaseURL string
	// RefreshPath is the token refresh endpoint
	RefreshPath string
	// PageSize is the number of order ids requested per search page
	PageSize int
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// RefreshBuffer refreshes the token this long before it expires
	RefreshBuffer time.Duration
	// RequestsPerSecond and Burst throttle outgoing calls
	RequestsPerSecond float64
	Burst             int
}

const (
	// TikTokProductionAPIURL is the production API endpoint
	TikTokProductionAPIURL = "https://open-api.tiktokglobalshop.com"

	tiktokAPIVersion        = "202309"
	tiktokDefaultPageSize   = 50
	tiktokMaxPageSize       = 100
	tiktokDetailBatchSize   = 50
	tiktokSearchPath        = "/order/202309/orders/search"
	tiktokDetailPath        = "/order/202309/orders"
	tiktokShopsPath         = "/shop/202309/shops"
	tiktokDefaultRefresh    = "/authorization/202309/token/refresh"
	tiktokAccessTokenHeader = "x-tts-access-token"
)

// Errors for TikTok configuration
var (
	ErrTikTokConfigMissingAppKey       = errors.New("tiktok: app key is required")
	ErrTikTokConfigMissingAppSecret    = errors.New("tiktok: app secret is required")
	ErrTikTokConfigMissingAccessToken  = errors.New("tiktok: access token is required")
	ErrTikTokConfigMissingRefreshToken = errors.New("tiktok: refresh token is required")
)

// Validate validates the configuration and fills defaults
func (c *TikTokConfig) Validate() error {
	if c.AppKey == "" {
		return ErrTikTokConfigMissingAppKey
	}
	if c.AppSecret == "" {
		return ErrTikTokConfigMissingAppSecret
	}
	if c.AccessToken == "" {
		return ErrTikTokConfigMissingAccessToken
	}
	if c.RefreshToken == "" {
		return ErrTikTokConfigMissingRefreshToken
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = TikTokProductionAPIURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.RefreshPath == "" {
		c.RefreshPath = tiktokDefaultRefresh
	}
	if c.PageSize <= 0 {
		c.PageSize = tiktokDefaultPageSize
	}
	if c.PageSize > tiktokMaxPageSize {
		c.PageSize = tiktokMaxPageSize
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

// Sign generates the request signature: HMAC-SHA256 keyed by the app secret
// over app_secret + path + sorted(key+value) + body + app_secret. The sign
// and access_token parameters are excluded.
func (c *TikTokConfig) Sign(path string, params map[string]string, body []byte) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" || k == "access_token" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(c.AppSecret)
	builder.WriteString(path)
	for _, k := range keys {
		builder.WriteString(k)
		builder.WriteString(params[k])
	}
	builder.Write(body)
	builder.WriteString(c.AppSecret)

	h := hmac.New(sha256.New, []byte(c.AppSecret))
	h.Write([]byte(builder.String()))
	return hex.EncodeToString(h.Sum(nil))
}
