package transform

import (
	"fmt"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/config"
	"github.com/facolos/etl/internal/infrastructure/connector"
)

// Registry selects the flattener for each configured source.
type Registry struct {
	sources map[string]config.SourceConfig
}

// NewRegistry creates a registry over the configured sources
func NewRegistry(sources map[string]config.SourceConfig) *Registry {
	return &Registry{sources: sources}
}

// Flattener returns the flattener for sourceID.
func (r *Registry) Flattener(sourceID string) (pipeline.Flattener, error) {
	src, ok := r.sources[sourceID]
	if !ok {
		return nil, pipeline.NewOperatorError("transform.flattener", "UNKNOWN_SOURCE",
			fmt.Errorf("%w: %q", pipeline.ErrUnknownSource, sourceID))
	}
	return ForSource(src)
}

// ForSource picks the flattener for a vendor and resource.
func ForSource(src config.SourceConfig) (pipeline.Flattener, error) {
	switch src.Vendor {
	case connector.VendorTikTokShop:
		return NewTikTokOrderFlattener(), nil
	case connector.VendorMISACRM:
		switch src.Resource {
		case connector.MISAResourceSaleOrders:
			return NewNestedFlattener(MISASaleOrderConfig), nil
		case connector.MISAResourceCustomers:
			return NewRecordFlattener("misa_customers", "id", misaCustomerSchema, "extra_fields"), nil
		case connector.MISAResourceContacts:
			return NewRecordFlattener("misa_contacts", "id", misaContactSchema, "extra_fields"), nil
		case connector.MISAResourceProducts:
			return NewRecordFlattener("misa_products", "id", misaProductSchema, "extra_fields"), nil
		case connector.MISAResourceStocks:
			return NewRecordFlattener("misa_stocks", "stock_code", misaStockSchema, "extra_fields"), nil
		}
	}
	return nil, pipeline.NewOperatorError("transform.flattener", "NO_FLATTENER",
		fmt.Errorf("%w: no flattener for source %s (vendor %q, resource %q)",
			pipeline.ErrUnknownSource, src.ID, src.Vendor, src.Resource))
}
