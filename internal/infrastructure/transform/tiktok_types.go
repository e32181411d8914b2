package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// tiktokOrder is the order detail shape. Both the 202309 field names and the
// older order_id / order_amount names are accepted.
type tiktokOrder struct {
	ID                  optString `json:"id"`
	OrderID             optString `json:"order_id"`
	Status              optString `json:"status"`
	OrderStatus         optString `json:"order_status"`
	BuyerMessage        optString `json:"buyer_message"`
	CancelReason        optString `json:"cancel_reason"`
	CancelUser          optString `json:"cancel_user"`
	CollectionTime      optTime   `json:"collection_time"`
	CreateTime          optTime   `json:"create_time"`
	DeliveryDueTime     optTime   `json:"delivery_due_time"`
	DeliveryTime        optTime   `json:"delivery_time"`
	FulfillmentType     optString `json:"fulfillment_type"`
	OrderLineType       optString `json:"order_line_type"`
	PaymentMethod       optString `json:"payment_method"`
	PaymentMethodName   optString `json:"payment_method_name"`
	Remark              optString `json:"remark"`
	RequestCancelReason optString `json:"request_cancel_reason"`
	SplitOrCombineTag   optString `json:"split_or_combine_tag"`
	UpdateTime          optTime   `json:"update_time"`
	WarehouseID         optString `json:"warehouse_id"`

	OrderAmount      *tiktokAmount    `json:"order_amount"`
	Payment          *tiktokAmount    `json:"payment"`
	RecipientAddress tiktokRecipient  `json:"recipient_address"`
	LineItems        []tiktokLineItem `json:"line_items"`
}

func (o *tiktokOrder) key() string {
	if o.OrderID.Valid {
		return o.OrderID.Value
	}
	return o.ID.Value
}

func (o *tiktokOrder) status() optString {
	if o.OrderStatus.Valid {
		return o.OrderStatus
	}
	return o.Status
}

func (o *tiktokOrder) amount() tiktokAmount {
	switch {
	case o.OrderAmount != nil:
		return *o.OrderAmount
	case o.Payment != nil:
		return *o.Payment
	}
	return tiktokAmount{}
}

type tiktokAmount struct {
	Currency                     optString  `json:"currency"`
	OriginalShippingFee          optDecimal `json:"original_shipping_fee"`
	OriginalTotalProductPrice    optDecimal `json:"original_total_product_price"`
	SellerDiscount               optDecimal `json:"seller_discount"`
	ShippingFee                  optDecimal `json:"shipping_fee"`
	ShippingFeePlatformDiscount  optDecimal `json:"shipping_fee_platform_discount"`
	ShippingFeeSellerDiscount    optDecimal `json:"shipping_fee_seller_discount"`
	SubtotalAfterSellerDiscounts optDecimal `json:"subtotal_after_seller_discounts"`
	TaxAmount                    optDecimal `json:"tax_amount"`
	TotalAmount                  optDecimal `json:"total_amount"`
}

type tiktokRecipient struct {
	Detail        optString `json:"detail"`
	AddressDetail optString `json:"address_detail"`
	FullAddress   optString `json:"full_address"`
	RegionCode    optString `json:"region_code"`
	State         optString `json:"state"`
	City          optString `json:"city"`
	Town          optString `json:"town"`
	District      optString `json:"district"`
	Zipcode       optString `json:"zipcode"`
	PostalCode    optString `json:"postal_code"`
	Name          optString `json:"name"`
	Phone         optString `json:"phone"`
	PhoneNumber   optString `json:"phone_number"`
}

type tiktokLineItem struct {
	ID               optString      `json:"id"`
	ProductID        optString      `json:"product_id"`
	ProductName      optString      `json:"product_name"`
	SkuID            optString      `json:"sku_id"`
	SkuName          optString      `json:"sku_name"`
	SkuImage         optString      `json:"sku_image"`
	SkuInfo          *tiktokSkuInfo `json:"sku_info"`
	SellerSku        optString      `json:"seller_sku"`
	Quantity         optInt         `json:"quantity"`
	UnitPrice        optDecimal     `json:"unit_price"`
	SalePrice        optDecimal     `json:"sale_price"`
	OriginalPrice    optDecimal     `json:"original_price"`
	Currency         optString      `json:"currency"`
	IsGift           optBool        `json:"is_gift"`
	PlatformDiscount optDecimal     `json:"platform_discount"`
	SellerDiscount   optDecimal     `json:"seller_discount"`
	DisplayStatus    optString      `json:"display_status"`
}

type tiktokSkuInfo struct {
	SkuName         optString       `json:"sku_name"`
	SkuImage        optString       `json:"sku_image"`
	SalesAttributes json.RawMessage `json:"sales_attributes"`
}

// key is the line item id, or the sku id for payloads without one.
func (li *tiktokLineItem) key() string {
	if li.ID.Valid {
		return li.ID.Value
	}
	return li.SkuID.Value
}

// optString accepts strings and scalars; null and absent stay unset.
type optString struct {
	Value string
	Valid bool
}

func (s *optString) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s.Value); err != nil {
			return err
		}
	} else {
		s.Value = string(b)
	}
	s.Valid = true
	return nil
}

func (s optString) column() any {
	if !s.Valid {
		return nil
	}
	return s.Value
}

func firstString(vals ...optString) optString {
	for _, v := range vals {
		if v.Valid && v.Value != "" {
			return v
		}
	}
	return optString{}
}

// optDecimal accepts string or numeric amounts. Empty strings stay unset;
// anything else that is not a number is rejected.
type optDecimal struct {
	Value decimal.Decimal
	Valid bool
}

func (d *optDecimal) UnmarshalJSON(b []byte) error {
	v, err := decodeScalar(b, TypeDecimal)
	if err != nil || v == nil {
		return err
	}
	d.Value, d.Valid = v.(decimal.Decimal), true
	return nil
}

func (d optDecimal) column() any {
	if !d.Valid {
		return nil
	}
	return d.Value
}

// optInt accepts whole numbers as numbers or strings.
type optInt struct {
	Value int64
	Valid bool
}

func (n *optInt) UnmarshalJSON(b []byte) error {
	v, err := decodeScalar(b, TypeInt)
	if err != nil || v == nil {
		return err
	}
	n.Value, n.Valid = v.(int64), true
	return nil
}

func (n optInt) column() any {
	if !n.Valid {
		return nil
	}
	return n.Value
}

type optBool struct {
	Value bool
	Valid bool
}

func (v *optBool) UnmarshalJSON(b []byte) error {
	parsed, err := decodeScalar(b, TypeBool)
	if err != nil || parsed == nil {
		return err
	}
	v.Value, v.Valid = parsed.(bool), true
	return nil
}

func (v optBool) column() any {
	if !v.Valid {
		return nil
	}
	return v.Value
}

// optTime accepts epoch seconds as numbers or strings, or RFC 3339 text.
type optTime struct {
	Value time.Time
	Valid bool
}

func (t *optTime) UnmarshalJSON(b []byte) error {
	v, err := decodeScalar(b, TypeTimestamp)
	if err != nil || v == nil {
		return err
	}
	t.Value, t.Valid = v.(time.Time), true
	return nil
}

func (t optTime) column() any {
	if !t.Valid {
		return nil
	}
	return t.Value
}

// decodeScalar converts one JSON value to typ. Null and absent values give a
// nil result; values that do not fit typ are an error.
func decodeScalar(b []byte, typ FieldType) (any, error) {
	if isNull(b) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	v, ok := convertValue(raw, typ)
	if !ok {
		return nil, fmt.Errorf("%s is not a valid %s", b, typ)
	}
	return v, nil
}

func isNull(b []byte) bool {
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
