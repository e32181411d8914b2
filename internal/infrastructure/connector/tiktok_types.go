package connector

import (
	"encoding/json"
	"strconv"
	"time"
)

// TikTok response codes that are not permanent failures
const (
	tiktokCodeSuccess            = 0
	tiktokCodeInvalidToken       = 105001
	tiktokCodeExpiredToken       = 105002
	tiktokCodeTooManyRequests    = 36009004
	tiktokCodeInternalError      = 36009003
	tiktokExpireInSecondsCeiling = 1_000_000_000
)

// TikTokResponse is the common envelope of every TikTok Shop API response
type TikTokResponse struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// IsSuccess returns true if the response indicates success
func (r *TikTokResponse) IsSuccess() bool {
	return r.Code == tiktokCodeSuccess
}

// IsAuthError reports whether the access token was rejected
func (r *TikTokResponse) IsAuthError() bool {
	return r.Code == tiktokCodeInvalidToken || r.Code == tiktokCodeExpiredToken
}

// IsRetryable reports whether the vendor asked the caller to back off
func (r *TikTokResponse) IsRetryable() bool {
	return r.Code == tiktokCodeTooManyRequests || r.Code == tiktokCodeInternalError
}

// TikTokOrderSearchData is the data of an order search page
type TikTokOrderSearchData struct {
	Orders []struct {
		ID      string `json:"id"`
		OrderID string `json:"order_id"`
	} `json:"orders"`
	NextPageToken string `json:"next_page_token"`
	Cursor        string `json:"cursor"`
	HasMore       *bool  `json:"has_more"`
	TotalCount    int    `json:"total_count"`
}

// OrderIDs returns the order ids on the page in response order
func (d *TikTokOrderSearchData) OrderIDs() []string {
	ids := make([]string, 0, len(d.Orders))
	for _, o := range d.Orders {
		id := o.ID
		if id == "" {
			id = o.OrderID
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// NextCursor returns the token of the following page, or "" on the last page
func (d *TikTokOrderSearchData) NextCursor() string {
	if d.HasMore != nil && !*d.HasMore {
		return ""
	}
	if d.NextPageToken != "" {
		return d.NextPageToken
	}
	return d.Cursor
}

// MoreAnnounced reports whether the vendor explicitly set has_more to true.
func (d *TikTokOrderSearchData) MoreAnnounced() bool {
	return d.HasMore != nil && *d.HasMore
}

// TikTokOrderDetailData is the data of an order detail call. Orders are kept
// raw so the flattener sees exactly what the vendor sent.
type TikTokOrderDetailData struct {
	Orders    []json.RawMessage `json:"orders"`
	OrderList []json.RawMessage `json:"order_list"`
}

// Records returns the detailed orders
func (d *TikTokOrderDetailData) Records() []json.RawMessage {
	if len(d.Orders) > 0 {
		return d.Orders
	}
	return d.OrderList
}

// TikTokShopsData is the data of the authorized shops call
type TikTokShopsData struct {
	Shops []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Region string `json:"region"`
		Cipher string `json:"cipher"`
	} `json:"shops"`
}

// TikTokTokenData is the data of a token refresh call
type TikTokTokenData struct {
	AccessToken          string `json:"access_token"`
	AccessTokenExpireIn  int64  `json:"access_token_expire_in"`
	RefreshToken         string `json:"refresh_token"`
	RefreshTokenExpireIn int64  `json:"refresh_token_expire_in"`
	SellerName           string `json:"seller_name"`
}

// ExpiresAt converts access_token_expire_in to an absolute time. The API
// sends a unix timestamp; small values are treated as seconds from now.
func (d *TikTokTokenData) ExpiresAt(now time.Time) time.Time {
	switch {
	case d.AccessTokenExpireIn <= 0:
		return time.Time{}
	case d.AccessTokenExpireIn < tiktokExpireInSecondsCeiling:
		return now.Add(time.Duration(d.AccessTokenExpireIn) * time.Second)
	default:
		return time.Unix(d.AccessTokenExpireIn, 0)
	}
}

func unixString(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
