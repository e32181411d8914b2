package transform

import (
	"bytes"
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// TikTok staging key columns
const (
	TikTokOrderKeyColumn    = "order_id"
	TikTokLineItemKeyColumn = "line_item_id"
)

// tiktokItemColumns are the line item columns nil-filled on orders without
// line items.
var tiktokItemColumns = []string{
	TikTokLineItemKeyColumn,
	"item_id", "item_name", "item_sku_id", "item_sku_image", "item_sku_name",
	"item_seller_sku", "item_quantity", "item_unit_price", "item_sale_price",
	"item_original_price", "item_currency", "item_is_gift", "item_platform_discount",
	"item_seller_discount", "item_display_status", "item_sku_sales_attributes",
}

// TikTokOrderFlattener flattens TikTok Shop order details into one row per
// line item.
type TikTokOrderFlattener struct{}

// NewTikTokOrderFlattener creates a TikTokOrderFlattener
func NewTikTokOrderFlattener() *TikTokOrderFlattener {
	return &TikTokOrderFlattener{}
}

// Flatten decodes one order detail.
func (f *TikTokOrderFlattener) Flatten(raw json.RawMessage) ([]pipeline.FlatRow, error) {
	const op = "flatten.tiktok_order"

	var order tiktokOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, schemaMismatch(op, "malformed order: %v", err)
	}
	orderID := order.key()
	if orderID == "" {
		return nil, schemaMismatch(op, "order has no id")
	}

	parent := orderColumns(&order)
	parent[TikTokOrderKeyColumn] = orderID

	children := make([]pipeline.ChildRecord, 0, len(order.LineItems))
	for i := range order.LineItems {
		item := &order.LineItems[i]
		key := item.key()
		if key == "" {
			return nil, schemaMismatch(op, "order %s: line item %d has no id", orderID, i)
		}
		cols := lineItemColumns(item)
		cols[TikTokLineItemKeyColumn] = key
		children = append(children, pipeline.ChildRecord{Key: key, Columns: cols})
	}

	return pipeline.ExpandChildren(orderID, parent, children, tiktokItemColumns), nil
}

func orderColumns(o *tiktokOrder) map[string]any {
	amount := o.amount()
	r := o.RecipientAddress
	return map[string]any{
		"order_status":          o.status().column(),
		"buyer_message":         o.BuyerMessage.column(),
		"cancel_reason":         o.CancelReason.column(),
		"cancel_user":           o.CancelUser.column(),
		"collection_time":       o.CollectionTime.column(),
		"create_time":           o.CreateTime.column(),
		"delivery_due_time":     o.DeliveryDueTime.column(),
		"delivery_time":         o.DeliveryTime.column(),
		"fulfillment_type":      o.FulfillmentType.column(),
		"order_line_type":       o.OrderLineType.column(),
		"payment_method":        o.PaymentMethod.column(),
		"payment_method_name":   o.PaymentMethodName.column(),
		"remark":                o.Remark.column(),
		"request_cancel_reason": o.RequestCancelReason.column(),
		"split_or_combine_tag":  o.SplitOrCombineTag.column(),
		"update_time":           o.UpdateTime.column(),
		"warehouse_id":          o.WarehouseID.column(),

		"currency":                        amount.Currency.column(),
		"original_shipping_fee":           amount.OriginalShippingFee.column(),
		"original_total_product_price":    amount.OriginalTotalProductPrice.column(),
		"seller_discount":                 amount.SellerDiscount.column(),
		"shipping_fee":                    amount.ShippingFee.column(),
		"shipping_fee_platform_discount":  amount.ShippingFeePlatformDiscount.column(),
		"shipping_fee_seller_discount":    amount.ShippingFeeSellerDiscount.column(),
		"subtotal_after_seller_discounts": amount.SubtotalAfterSellerDiscounts.column(),
		"tax_amount":                      amount.TaxAmount.column(),
		"total_amount":                    amount.TotalAmount.column(),

		"recipient_address_detail":      firstString(r.Detail, r.AddressDetail, r.FullAddress).column(),
		"recipient_address_region_code": r.RegionCode.column(),
		"recipient_address_state":       r.State.column(),
		"recipient_address_city":        r.City.column(),
		"recipient_address_town":        r.Town.column(),
		"recipient_address_district":    r.District.column(),
		"recipient_address_zipcode":     firstString(r.Zipcode, r.PostalCode).column(),
		"recipient_name":                r.Name.column(),
		"recipient_phone":               r.Phone.column(),
		"recipient_phone_number":        r.PhoneNumber.column(),
	}
}

func lineItemColumns(li *tiktokLineItem) map[string]any {
	skuName, skuImage := li.SkuName, li.SkuImage
	var attrs json.RawMessage
	if li.SkuInfo != nil {
		skuName = firstString(li.SkuInfo.SkuName, skuName)
		skuImage = firstString(li.SkuInfo.SkuImage, skuImage)
		attrs = li.SkuInfo.SalesAttributes
	}
	return map[string]any{
		"item_id":                   li.ProductID.column(),
		"item_name":                 li.ProductName.column(),
		"item_sku_id":               li.SkuID.column(),
		"item_sku_image":            skuImage.column(),
		"item_sku_name":             skuName.column(),
		"item_seller_sku":           li.SellerSku.column(),
		"item_quantity":             li.Quantity.column(),
		"item_unit_price":           li.UnitPrice.column(),
		"item_sale_price":           li.SalePrice.column(),
		"item_original_price":       li.OriginalPrice.column(),
		"item_currency":             li.Currency.column(),
		"item_is_gift":              li.IsGift.column(),
		"item_platform_discount":    li.PlatformDiscount.column(),
		"item_seller_discount":      li.SellerDiscount.column(),
		"item_display_status":       li.DisplayStatus.column(),
		"item_sku_sales_attributes": salesAttributes(attrs),
	}
}

// salesAttributes keeps a non-empty attribute list as compact JSON.
func salesAttributes(raw json.RawMessage) any {
	if isNull(raw) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil
	}
	if s := buf.String(); s == "[]" || s == "{}" {
		return nil
	}
	return datatypes.JSON(buf.Bytes())
}

var _ pipeline.Flattener = (*TikTokOrderFlattener)(nil)
