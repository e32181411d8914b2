package transform

// MISA CRM field sets. Names match the staging table columns; anything else
// lands in extra_fields.

var misaCustomerSchema = Schema{
	str("id"), str("account_number"), str("account_name"), str("account_short_name"),
	str("account_type"), str("tax_code"), str("office_tel"), str("office_email"),
	str("website"), str("industry"), str("business_type"), str("billing_address"),
	str("shipping_address"), str("owner_name"), str("description"),

	num("annual_revenue"), num("debt"), num("debt_limit"), num("number_of_days_owed"),
	num("number_orders"), num("order_sales"), num("average_order_value"),
	num("average_number_of_days_between_purchases"), num("number_days_without_purchase"),
	num("billing_long"), num("billing_lat"), num("shipping_long"), num("shipping_lat"),
	num("total_score"),

	ts("purchase_date_recent"), ts("purchase_date_first"), ts("customer_since_date"),
	ts("last_interaction_date"), ts("last_visit_date"), ts("last_call_date"),
	ts("issued_on"), ts("celebrate_date"), ts("created_date"), ts("modified_date"),
	ts("last_modified_date"),

	flag("is_personal"), flag("inactive"), flag("is_public"), flag("is_distributor"),
	flag("is_portal_access"),

	str("created_by"), str("modified_by"),
}

var misaContactSchema = Schema{
	str("id"), str("contact_code"), str("contact_name"), str("first_name"), str("last_name"),
	str("salutation"), str("title"), str("department"), str("account_name"), str("mobile"),
	str("office_tel"), str("email"), str("office_email"), str("mailing_address"),
	str("shipping_address"), str("owner_name"), str("description"),

	num("mailing_long"), num("mailing_lat"), num("shipping_long"), num("shipping_lat"),
	num("total_score"), num("number_days_not_interacted"),

	ts("date_of_birth"), ts("customer_since_date"), ts("last_interaction_date"),
	ts("last_visit_date"), ts("last_call_date"), ts("created_date"), ts("modified_date"),

	flag("email_opt_out"), flag("phone_opt_out"), flag("inactive"), flag("is_public"),

	str("created_by"), str("modified_by"),
}

var misaProductSchema = Schema{
	str("id"), str("product_code"), str("product_name"), str("product_category"),
	str("unit"), str("description"), str("tax"),

	num("unit_price"), num("purchased_price"), num("unit_cost"), num("unit_price1"),
	num("unit_price2"), num("unit_price_fixed"),

	ts("created_date"), ts("modified_date"),

	flag("price_after_tax"), flag("is_use_tax"), flag("is_follow_serial_number"),
	flag("is_set_product"), flag("inactive"), flag("is_public"),

	str("created_by"), str("modified_by"),
}

var misaStockSchema = Schema{
	str("stock_code"), str("id"), str("stock_name"), str("description"),
	ts("created_date"), ts("modified_date"),
	flag("inactive"),
	str("created_by"), str("modified_by"),
}

// Sale order header fields, stored with the order_ prefix.
var misaSaleOrderSchema = Schema{
	str("sale_order_no"), str("sale_order_name"), str("account_name"), str("contact_name"),
	str("status"), str("currency_type"), str("description"), str("owner_name"),

	num("sale_order_amount"), num("total_summary"), num("tax_summary"), num("discount_summary"),
	num("to_currency_summary"), num("total_receipted_amount"), num("balance_receipt_amount"),
	num("invoiced_amount"), num("un_invoiced_amount"), num("exchange_rate"),

	ts("sale_order_date"), ts("due_date"), ts("book_date"), ts("deadline_date"),
	ts("delivery_date"), ts("paid_date"), ts("invoice_date"), ts("production_date"),
	ts("created_date"), ts("modified_date"),

	flag("is_use_currency"),
}

// Sale order line fields, stored with the item_ prefix.
var misaSaleOrderItemSchema = Schema{
	str("product_code"), str("product_name"), str("unit"), str("description"), str("stock_name"),

	num("price"), num("amount"), num("usage_unit_amount"), num("usage_unit_price"), num("total"),
	num("to_currency"), num("discount"), num("tax"), num("tax_percent"), num("discount_percent"),
	num("price_after_tax"), num("price_after_discount"), num("to_currency_after_discount"),
	num("height"), num("width"), num("length"), num("radius"), num("mass"),
	num("exist_amount"), num("shipping_amount"), num("ratio"), num("produced_quantity"),
	num("quantity_ordered"),

	ts("expire_date"),

	flag("is_promotion"),
}

// MISASaleOrderConfig flattens sale orders into misa_sale_orders_flattened.
var MISASaleOrderConfig = NestedConfig{
	Name:              "misa_sale_orders",
	ParentKeyField:    "id",
	ParentKeyColumn:   "order_id",
	ParentPrefix:      "order_",
	ParentSchema:      misaSaleOrderSchema,
	ParentExtraColumn: "order_extra_fields",
	ChildrenField:     "sale_order_product_mappings",
	ChildKeyFields:    []string{"id"},
	ChildKeyColumn:    "item_id",
	ChildPrefix:       "item_",
	ChildSchema:       misaSaleOrderItemSchema,
	ChildExtraColumn:  "item_extra_fields",
}
