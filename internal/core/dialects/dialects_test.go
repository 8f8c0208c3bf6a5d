package dialects

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/ingest/internal/core"
)

// sampleHeaders are trimmed header rows as the reports export them.
var sampleHeaders = map[string][]string{
	"fba_inventory": {
		"sku", "fnsku", "asin", "product-name", "condition", "your-price",
		"mfn-listing-exists", "mfn-fulfillable-quantity", "afn-listing-exists",
		"afn-warehouse-quantity", "afn-fulfillable-quantity", "afn-unsellable-quantity",
		"afn-reserved-quantity", "afn-total-quantity", "per-unit-volume",
	},
	"fba_returns": {
		"return-date", "order-id", "sku", "asin", "fnsku", "product-name", "quantity",
		"fulfillment-center-id", "detailed-disposition", "reason", "status",
		"license-plate-number", "customer-comments",
	},
	"settlement": {
		"settlement-id", "settlement-start-date", "settlement-end-date", "deposit-date",
		"total-amount", "currency", "transaction-type", "order-id", "amount-type",
		"amount-description", "amount", "posted-date", "sku", "quantity-purchased",
	},
	"sales_traffic": {
		"(Parent) ASIN", "(Child) ASIN", "Title", "Sessions - Total",
		"Session Percentage - Total", "Page Views - Total", "Page Views Percentage - Total",
		"Featured Offer (Buy Box) Percentage", "Units Ordered", "Unit Session Percentage",
		"Ordered Product Sales", "Total Order Items",
	},
	"supplier_pricelist": {
		"Vendor SKU", "Description", "Unit Cost", "MSRP", "Case Pack",
	},
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	var ids []string
	for _, d := range reg.All() {
		ids = append(ids, d.ID)
	}
	want := []string{"fba_inventory", "fba_returns", "settlement", "sales_traffic", "supplier_pricelist", "test_generic"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("registration order mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectionIsUnique(t *testing.T) {
	for id, header := range sampleHeaders {
		t.Run(id, func(t *testing.T) {
			cols := core.NormalizeHeaders(header)
			var matched []string
			for _, d := range All() {
				if d.Detect != nil && d.Detect(cols) {
					matched = append(matched, d.ID)
				}
			}
			if len(matched) != 1 || matched[0] != id {
				t.Errorf("detectors matching %s header = %v, want [%s]", id, matched, id)
			}
		})
	}
}

func TestTestGenericIsOverrideOnly(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}

	header := []string{"ASIN", "qty", "price"}
	if _, err := reg.Detect(header); !core.IsValidation(err) {
		t.Errorf("Detect(%v) error = %v, want ValidationError", header, err)
	}

	d, err := reg.Resolve("test_generic", header)
	if err != nil {
		t.Fatalf("Resolve(test_generic) error = %v", err)
	}
	if d.TargetTable != "test_generic_raw" {
		t.Errorf("TargetTable = %q, want test_generic_raw", d.TargetTable)
	}
}

func TestSalesTrafficNormalize(t *testing.T) {
	d := SalesTraffic()
	raw := &core.Batch{
		Columns: sampleHeaders["sales_traffic"],
		Offset:  2,
		Rows: [][]string{
			{"b00parent", "b00child1", "Widget", "1,204", "0.52%", "1,530", "0.48%", "97.5%", "31", "2.57%", "$1,234.56", "30"},
		},
	}

	canon, err := d.NormalizeBatch(raw)
	if err != nil {
		t.Fatalf("NormalizeBatch() error = %v", err)
	}
	recs, err := core.NewValidator(&d, canon.Columns).Validate(canon)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	row := recs.Values[0]
	col := func(name string) any {
		for i, c := range recs.Columns {
			if c == name {
				return row[i]
			}
		}
		t.Fatalf("column %s missing from %v", name, recs.Columns)
		return nil
	}

	if got := col("child_asin"); got != core.ToPgText("B00CHILD1") {
		t.Errorf("child_asin = %v, want B00CHILD1", got)
	}
	if got := col("sessions"); got != core.ToPgInt8("1204") {
		t.Errorf("sessions = %v, want 1204", got)
	}
	bb, ok := col("buy_box_percentage").(pgtype.Numeric)
	if !ok {
		t.Fatalf("buy_box_percentage type = %T, want pgtype.Numeric", col("buy_box_percentage"))
	}
	if f, err := bb.Float64Value(); err != nil || f.Float64 != 97.5 {
		t.Errorf("buy_box_percentage = %v (err %v), want 97.5", f.Float64, err)
	}
	if got := col("units_ordered_b2b"); got != core.ToPgInt8("") {
		t.Errorf("units_ordered_b2b = %v, want NULL", got)
	}
}

func TestSettlementRejectsBadCurrency(t *testing.T) {
	d := Settlement()
	raw := &core.Batch{
		Columns: []string{"settlement-id", "currency", "amount-type", "amount-description", "amount"},
		Offset:  2,
		Rows: [][]string{
			{"1001", "usd", "ItemPrice", "Principal", "19.99"},
			{"1001", "US", "ItemPrice", "Principal", "5.00"},
		},
	}

	canon, err := d.NormalizeBatch(raw)
	if err != nil {
		t.Fatalf("NormalizeBatch() error = %v", err)
	}
	_, err = core.NewValidator(&d, canon.Columns).Validate(canon)

	ve, ok := err.(*core.ValidationError)
	if !ok {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
	if ve.Field != "currency" || ve.Row != 3 {
		t.Errorf("ValidationError = {Field: %q, Row: %d}, want {currency, 3}", ve.Field, ve.Row)
	}
}

func TestFBAInventoryDefaultsMissingColumns(t *testing.T) {
	d := FBAInventory()
	raw := &core.Batch{
		Columns: []string{"sku", "fnsku", "afn-fulfillable-quantity"},
		Offset:  2,
		Rows:    [][]string{{"SKU-1", "X001", "12"}},
	}

	canon, err := d.NormalizeBatch(raw)
	if err != nil {
		t.Fatalf("NormalizeBatch() error = %v", err)
	}
	recs, err := core.NewValidator(&d, canon.Columns).Validate(canon)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	for i, c := range recs.Columns {
		if c == "afn_reserved_quantity" {
			if got := recs.Values[0][i]; got != core.ToPgInt8("0") {
				t.Errorf("afn_reserved_quantity = %v, want 0", got)
			}
		}
	}
}

func TestSupplierPricelistRequiresSKU(t *testing.T) {
	d := SupplierPricelist()
	raw := &core.Batch{
		Columns: []string{"Description", "Unit Cost"},
		Rows:    [][]string{{"Bolt", "0.10"}},
	}
	if _, err := d.NormalizeBatch(raw); !core.IsValidation(err) {
		t.Errorf("NormalizeBatch() error = %v, want ValidationError", err)
	}
}
