package dialects

import (
	"github.com/JonMunkholm/ingest/internal/core"
)

// FBAInventory is the "Manage FBA Inventory" export. Rows are keyed by
// FNSKU, which Amazon leaves blank for listings not yet inbound, so the key
// is only trusted when every row carries it.
func FBAInventory() core.Dialect {
	return core.Dialect{
		ID:              "fba_inventory",
		Label:           "FBA Manage Inventory",
		TargetTable:     "fba_inventory_raw",
		ConflictColumns: []string{"fnsku"},
		ConditionalKey:  true,
		Detect: func(cols []string) bool {
			return core.HasAll(cols, "fnsku", "afn-fulfillable-quantity")
		},
		Fields: []core.FieldSpec{
			{Name: "sku", Type: core.FieldText, Required: true, NotNull: true},
			{Name: "fnsku", Type: core.FieldText, Required: true},
			{Name: "asin", Type: core.FieldText, Normalizer: Upper},
			{Name: "product_name", Type: core.FieldText},
			{Name: "condition", Type: core.FieldText},
			{Name: "your_price", Type: core.FieldNumeric, NonNegative: true},
			{Name: "mfn_listing_exists", Type: core.FieldBool},
			{Name: "mfn_fulfillable_quantity", Type: core.FieldInteger, NonNegative: true},
			{Name: "afn_listing_exists", Type: core.FieldBool},
			{Name: "afn_warehouse_quantity", Type: core.FieldInteger, NonNegative: true, Default: "0"},
			{Name: "afn_fulfillable_quantity", Type: core.FieldInteger, Required: true, NonNegative: true},
			{Name: "afn_unsellable_quantity", Type: core.FieldInteger, NonNegative: true, Default: "0"},
			{Name: "afn_reserved_quantity", Type: core.FieldInteger, NonNegative: true, Default: "0"},
			{Name: "afn_total_quantity", Type: core.FieldInteger, NonNegative: true},
			{Name: "per_unit_volume", Type: core.FieldNumeric, NonNegative: true},
			{Name: "afn_inbound_working_quantity", Type: core.FieldInteger, NonNegative: true, Default: "0"},
			{Name: "afn_inbound_shipped_quantity", Type: core.FieldInteger, NonNegative: true, Default: "0"},
			{Name: "afn_inbound_receiving_quantity", Type: core.FieldInteger, NonNegative: true, Default: "0"},
		},
	}
}

// FBAReturns is the FBA customer returns report. License plate numbers
// identify a returned unit but are missing on older rows.
func FBAReturns() core.Dialect {
	return core.Dialect{
		ID:              "fba_returns",
		Label:           "FBA Customer Returns",
		TargetTable:     "fba_returns_raw",
		ConflictColumns: []string{"license_plate_number"},
		ConditionalKey:  true,
		Synonyms: map[string]string{
			"lpn": "license_plate_number",
		},
		Detect: func(cols []string) bool {
			return core.HasAll(cols, "return-date", "detailed-disposition") &&
				core.HasAny(cols, "license-plate-number", "lpn")
		},
		Fields: []core.FieldSpec{
			{Name: "return_date", Type: core.FieldTimestamp, Required: true, NotNull: true},
			{Name: "order_id", Type: core.FieldText, Required: true, NotNull: true},
			{Name: "sku", Type: core.FieldText},
			{Name: "asin", Type: core.FieldText, Normalizer: Upper},
			{Name: "fnsku", Type: core.FieldText},
			{Name: "product_name", Type: core.FieldText},
			{Name: "quantity", Type: core.FieldInteger, Required: true, NotNull: true, NonNegative: true},
			{Name: "fulfillment_center_id", Type: core.FieldText},
			{Name: "detailed_disposition", Type: core.FieldText, Normalizer: Upper},
			{Name: "reason", Type: core.FieldText},
			{Name: "status", Type: core.FieldText},
			{Name: "license_plate_number", Type: core.FieldText, Required: true},
			{Name: "customer_comments", Type: core.FieldText},
		},
	}
}

// Settlement is the V2 flat-file settlement report. Lines have no natural
// key, so every load appends.
func Settlement() core.Dialect {
	return core.Dialect{
		ID:          "settlement",
		Label:       "Settlement (flat file V2)",
		TargetTable: "settlement_raw",
		Detect: func(cols []string) bool {
			return core.HasAll(cols, "settlement-id", "amount-type", "amount-description")
		},
		Fields: []core.FieldSpec{
			{Name: "settlement_id", Type: core.FieldText, Required: true, NotNull: true},
			{Name: "settlement_start_date", Type: core.FieldTimestamp},
			{Name: "settlement_end_date", Type: core.FieldTimestamp},
			{Name: "deposit_date", Type: core.FieldTimestamp},
			{Name: "total_amount", Type: core.FieldNumeric},
			{Name: "currency", Type: core.FieldText, Length: 3, Normalizer: Upper},
			{Name: "transaction_type", Type: core.FieldText},
			{Name: "order_id", Type: core.FieldText},
			{Name: "merchant_order_id", Type: core.FieldText},
			{Name: "adjustment_id", Type: core.FieldText},
			{Name: "shipment_id", Type: core.FieldText},
			{Name: "marketplace_name", Type: core.FieldText},
			{Name: "amount_type", Type: core.FieldText, Required: true},
			{Name: "amount_description", Type: core.FieldText, Required: true},
			{Name: "amount", Type: core.FieldNumeric},
			{Name: "fulfillment_id", Type: core.FieldText},
			{Name: "posted_date", Type: core.FieldDate},
			{Name: "posted_date_time", Type: core.FieldTimestamp},
			{Name: "order_item_code", Type: core.FieldText},
			{Name: "merchant_order_item_id", Type: core.FieldText},
			{Name: "merchant_adjustment_item_id", Type: core.FieldText},
			{Name: "sku", Type: core.FieldText},
			{Name: "quantity_purchased", Type: core.FieldInteger},
			{Name: "promotion_id", Type: core.FieldText},
		},
	}
}

// SalesTraffic is the Business Reports "Detail Page Sales and Traffic by
// Child Item" export. Newer exports suffix traffic columns with " - Total"
// and rename Buy Box to Featured Offer; both map to the same columns.
func SalesTraffic() core.Dialect {
	return core.Dialect{
		ID:              "sales_traffic",
		Label:           "Sales and Traffic by Child Item",
		TargetTable:     "sales_traffic_raw",
		ConflictColumns: []string{"child_asin"},
		Synonyms: map[string]string{
			"sessions - total":                    "sessions",
			"session percentage - total":          "session_percentage",
			"page views - total":                  "page_views",
			"page views percentage - total":       "page_views_percentage",
			"featured offer (buy box) percentage": "buy_box_percentage",
		},
		Detect: func(cols []string) bool {
			return core.HasAll(cols, "(child) asin") &&
				core.HasAny(cols, "sessions", "sessions - total")
		},
		Fields: []core.FieldSpec{
			{Name: "parent_asin", Type: core.FieldText, Normalizer: Upper},
			{Name: "child_asin", Type: core.FieldText, Required: true, NotNull: true, Normalizer: Upper},
			{Name: "title", Type: core.FieldText},
			{Name: "sessions", Type: core.FieldInteger, Required: true, NonNegative: true},
			{Name: "session_percentage", Type: core.FieldNumeric, NonNegative: true, Normalizer: StripPercent},
			{Name: "page_views", Type: core.FieldInteger, NonNegative: true},
			{Name: "page_views_percentage", Type: core.FieldNumeric, NonNegative: true, Normalizer: StripPercent},
			{Name: "buy_box_percentage", Type: core.FieldNumeric, NonNegative: true, Normalizer: StripPercent},
			{Name: "units_ordered", Type: core.FieldInteger, NonNegative: true},
			{Name: "units_ordered_b2b", Type: core.FieldInteger, NonNegative: true},
			{Name: "unit_session_percentage", Type: core.FieldNumeric, NonNegative: true, Normalizer: StripPercent},
			{Name: "ordered_product_sales", Type: core.FieldNumeric},
			{Name: "ordered_product_sales_b2b", Type: core.FieldNumeric},
			{Name: "total_order_items", Type: core.FieldInteger, NonNegative: true},
		},
	}
}
