package connector

import (
	"errors"
	"strings"
	"time"
)

// MISAConfig holds configuration for one MISA CRM resource
type MISAConfig struct {
	ClientID     string
	ClientSecret string
	// APIBaseURL is the base URL, e.g. https://crmconnect.misa.vn/api/v2
	APIBaseURL string
	// AuthPath is the token endpoint relative to the base URL
	AuthPath string
	// Resource is the collection path, e.g. /Customers
	Resource string
	// Paginated is false for resources returned in a single response
	Paginated bool
	PageSize  int
	// MaxPages fails a run that needs more pages than this (0 = no limit)
	MaxPages int
	// ModifiedField is the record field compared against the window
	ModifiedField string

	Timeout           time.Duration
	RefreshBuffer     time.Duration
	RequestsPerSecond float64
	Burst             int
}

const (
	// MISAProductionAPIURL is the production API endpoint
	MISAProductionAPIURL = "https://crmconnect.misa.vn/api/v2"

	misaDefaultAuthPath      = "/Account"
	misaDefaultPageSize      = 100
	misaMaxPageSize          = 100
	misaDefaultModifiedField = "modified_date"
	misaDefaultTokenLifetime = time.Hour
	misaClientIDHeader       = "Clientid"
)

// Resources the MISA CRM API serves
const (
	MISAResourceCustomers  = "/Customers"
	MISAResourceSaleOrders = "/SaleOrders"
	MISAResourceContacts   = "/Contacts"
	MISAResourceProducts   = "/Products"
	MISAResourceStocks     = "/Stocks"
)

// Errors for MISA configuration
var (
	ErrMISAConfigMissingClientID     = errors.New("misa: client id is required")
	ErrMISAConfigMissingClientSecret = errors.New("misa: client secret is required")
	ErrMISAConfigMissingResource     = errors.New("misa: resource is required")
)

// Validate validates the configuration and fills defaults
func (c *MISAConfig) Validate() error {
	if c.ClientID == "" {
		return ErrMISAConfigMissingClientID
	}
	if c.ClientSecret == "" {
		return ErrMISAConfigMissingClientSecret
	}
	if c.Resource == "" {
		return ErrMISAConfigMissingResource
	}
	if !strings.HasPrefix(c.Resource, "/") {
		c.Resource = "/" + c.Resource
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = MISAProductionAPIURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.AuthPath == "" {
		c.AuthPath = misaDefaultAuthPath
	}
	if c.PageSize <= 0 {
		c.PageSize = misaDefaultPageSize
	}
	if c.PageSize > misaMaxPageSize {
		c.PageSize = misaMaxPageSize
	}
	if c.ModifiedField == "" {
		c.ModifiedField = misaDefaultModifiedField
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

// IsPaginatedResource reports whether the API pages the resource. Stocks
// come back in one response.
func IsPaginatedResource(resource string) bool {
	return !strings.EqualFold(strings.TrimSpace(resource), MISAResourceStocks)
}
