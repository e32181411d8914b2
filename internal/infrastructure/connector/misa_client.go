package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// MISAClient extracts one MISA CRM resource. The cursor is the next page
// number; the API has no server side change filter, so records are filtered
// by their modified timestamp.
type MISAClient struct {
	config    *MISAConfig
	transport *Transport
	tokens    *tokenCache
	logger    *zap.Logger
	now       func() time.Time
}

// NewMISAClient creates a new MISA CRM client with the given configuration
func NewMISAClient(config *MISAConfig, logger *zap.Logger, opts ...ClientOption) (*MISAClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := buildClientOptions(opts)

	c := &MISAClient{
		config:    config,
		transport: NewTransport(config.Timeout, config.RequestsPerSecond, config.Burst, o.transportOptions()...),
		logger:    logger.With(zap.String("vendor", "misa_crm"), zap.String("resource", config.Resource)),
		now:       o.now,
	}
	c.tokens = newTokenCache(c.requestToken, config.RefreshBuffer, o.now)
	return c, nil
}

// Fetch returns one page of records modified inside window. Records without
// a readable modified timestamp are kept.
func (c *MISAClient) Fetch(ctx context.Context, window pipeline.Window, cursor string) (pipeline.Page, error) {
	op := "misa.fetch" + c.config.Resource

	page := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return pipeline.Page{}, pipeline.NewFatalError(op, "INVALID_CURSOR",
				fmt.Errorf("%w: cursor %q", ErrInvalidResponse, cursor))
		}
		page = n
	}

	query := url.Values{}
	if c.config.Paginated {
		query.Set("page", strconv.Itoa(page))
		query.Set("pageSize", strconv.Itoa(c.config.PageSize))
	}

	var records []json.RawMessage
	if err := c.get(ctx, op, query, &records); err != nil {
		return pipeline.Page{}, err
	}

	kept := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		if ts, ok := modifiedAt(rec, c.config.ModifiedField); ok && !window.Contains(ts) {
			continue
		}
		kept = append(kept, rec)
	}

	next := ""
	if c.config.Paginated && len(records) >= c.config.PageSize {
		if c.config.MaxPages > 0 && page+1 >= c.config.MaxPages {
			return pipeline.Page{}, pipeline.NewFatalError(op, "PAGE_LIMIT_REACHED",
				fmt.Errorf("%w: more than %d pages of %s", ErrPageLimit, c.config.MaxPages, c.config.Resource))
		}
		next = strconv.Itoa(page + 1)
	}

	c.logger.Debug("MISA page fetched",
		zap.Int("page", page),
		zap.Int("records", len(records)),
		zap.Int("in_window", len(kept)),
		zap.Bool("has_more", next != ""),
	)
	return pipeline.Page{Records: kept, NextCursor: next}, nil
}

// Ping verifies the credentials by obtaining a token.
func (c *MISAClient) Ping(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}

// get calls the resource, refreshing the token and retrying once on 401.
func (c *MISAClient) get(ctx context.Context, op string, query url.Values, out any) error {
	target := c.config.APIBaseURL + c.config.Resource
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return pipeline.NewFatalError(op, "BAD_REQUEST", fmt.Errorf("misa: failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(misaClientIDHeader, c.config.ClientID)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.transport.Do(ctx, op, req)
		if err != nil {
			return err
		}
		err = ClassifyStatus(op, resp.StatusCode)
		if err != nil && attempt == 0 && isUnauthorized(err) {
			c.logger.Warn("MISA token rejected, refreshing", zap.Int("status", resp.StatusCode))
			if _, err := c.tokens.Refresh(ctx, token); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		return decodeMISAEnvelope(op, resp.Body, out)
	}
}

// requestToken obtains a JWT with the client credentials. The expiry comes
// from the unverified exp claim, one hour when absent.
func (c *MISAClient) requestToken(ctx context.Context) (string, time.Time, error) {
	const op = "misa.request_token"

	bodyBytes, err := json.Marshal(map[string]string{
		"client_id":     c.config.ClientID,
		"client_secret": c.config.ClientSecret,
	})
	if err != nil {
		return "", time.Time{}, pipeline.NewFatalError(op, "BAD_REQUEST", fmt.Errorf("misa: failed to marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIBaseURL+c.config.AuthPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", time.Time{}, pipeline.NewFatalError(op, "BAD_REQUEST", fmt.Errorf("misa: failed to create request: %w", err))
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

	var token string
	if err := decodeMISAEnvelope(op, resp.Body, &token); err != nil {
		return "", time.Time{}, pipeline.NewFatalError(op, "TOKEN_REFRESH_FAILED", fmt.Errorf("%w: %w", ErrTokenRefresh, err))
	}
	if token == "" {
		return "", time.Time{}, pipeline.NewFatalError(op, "TOKEN_REFRESH_FAILED",
			fmt.Errorf("%w: empty token", ErrTokenRefresh))
	}

	expiresAt := c.tokenExpiry(token)
	c.logger.Info("MISA access token obtained", zap.Time("expires_at", expiresAt))
	return token, expiresAt, nil
}

func (c *MISAClient) tokenExpiry(token string) time.Time {
	fallback := c.now().Add(misaDefaultTokenLifetime)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		c.logger.Warn("MISA token is not a readable JWT, assuming default lifetime", zap.Error(err))
		return fallback
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	return exp.Time
}

// decodeMISAEnvelope checks success and decodes data into out.
func decodeMISAEnvelope(op string, body []byte, out any) error {
	var env MISAResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return decodeError(op, err)
	}
	if !env.Success {
		return pipeline.NewFatalError(op, "REQUEST_REJECTED",
			fmt.Errorf("%w: misa: %d - %s", ErrRequestRejected, env.Code, env.Message))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return decodeError(op, err)
	}
	return nil
}

var _ pipeline.VendorClient = (*MISAClient)(nil)
