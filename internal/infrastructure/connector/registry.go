package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/config"
)

// Vendor names accepted in source configuration
const (
	VendorTikTokShop = "tiktok_shop"
	VendorMISACRM    = "misa_crm"
)

// Client is a vendor client that can also check its credentials.
type Client interface {
	pipeline.VendorClient
	Ping(ctx context.Context) error
}

// Registry builds and caches one client per configured source. Clients keep
// their token state, so a source always gets the same instance.
type Registry struct {
	sources map[string]config.SourceConfig
	logger  *zap.Logger
	opts    []ClientOption

	mu      sync.Mutex
	clients map[string]Client
}

// NewRegistry creates a registry over the configured sources
func NewRegistry(sources map[string]config.SourceConfig, logger *zap.Logger, opts ...ClientOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sources: sources,
		logger:  logger,
		opts:    opts,
		clients: make(map[string]Client),
	}
}

// Client returns the client for sourceID.
func (r *Registry) Client(sourceID string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[sourceID]; ok {
		return c, nil
	}
	src, ok := r.sources[sourceID]
	if !ok {
		return nil, pipeline.NewOperatorError("connector.client", "UNKNOWN_SOURCE",
			fmt.Errorf("%w: %q", pipeline.ErrUnknownSource, sourceID))
	}
	if err := src.CheckCredentials(); err != nil {
		return nil, err
	}

	c, err := r.build(src)
	if err != nil {
		return nil, err
	}
	r.clients[sourceID] = c
	return c, nil
}

// VendorClient adapts Client to the orchestrator's lookup signature.
func (r *Registry) VendorClient(sourceID string) (pipeline.VendorClient, error) {
	return r.Client(sourceID)
}

// Ping checks the credentials of sourceID against its vendor.
func (r *Registry) Ping(ctx context.Context, sourceID string) error {
	c, err := r.Client(sourceID)
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}

func (r *Registry) build(src config.SourceConfig) (Client, error) {
	logger := r.logger.With(zap.String("source_id", src.ID))
	var (
		c   Client
		err error
	)
	switch src.Vendor {
	case VendorTikTokShop:
		c, err = NewTikTokClient(&TikTokConfig{
			AppKey:            src.Credential("app_key"),
			AppSecret:         src.Credential("app_secret"),
			AccessToken:       src.Credential("access_token"),
			RefreshToken:      src.Credential("refresh_token"),
			ShopCipher:        src.Credential("shop_cipher"),
			APIBaseURL:        src.BaseURL,
			RefreshPath:       src.AuthEndpoint,
			PageSize:          src.PageSize,
			Timeout:           src.Timeout,
			RefreshBuffer:     src.TokenRefreshBuffer,
			RequestsPerSecond: src.RateLimit,
			Burst:             src.RateBurst,
		}, logger, r.opts...)
	case VendorMISACRM:
		c, err = NewMISAClient(&MISAConfig{
			ClientID:          src.Credential("client_id"),
			ClientSecret:      src.Credential("client_secret"),
			APIBaseURL:        src.BaseURL,
			AuthPath:          src.AuthEndpoint,
			Resource:          src.Resource,
			Paginated:         IsPaginatedResource(src.Resource),
			PageSize:          src.PageSize,
			MaxPages:          src.MaxPages,
			Timeout:           src.Timeout,
			RefreshBuffer:     src.TokenRefreshBuffer,
			RequestsPerSecond: src.RateLimit,
			Burst:             src.RateBurst,
		}, logger, r.opts...)
	default:
		return nil, pipeline.NewOperatorError("connector.client", "UNKNOWN_VENDOR",
			fmt.Errorf("%w: vendor %q for source %s", pipeline.ErrUnknownSource, src.Vendor, src.ID))
	}
	if errors.Is(err, ErrMISAConfigMissingResource) {
		return nil, pipeline.NewOperatorError("connector.client", "INVALID_SOURCE",
			fmt.Errorf("source %s: %w", src.ID, err))
	}
	if err != nil {
		return nil, pipeline.NewOperatorError("connector.client", "MISSING_CREDENTIALS",
			fmt.Errorf("%w: source %s: %w", pipeline.ErrMissingCredentials, src.ID, err))
	}
	return c, nil
}
