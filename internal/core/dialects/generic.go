package dialects

import "github.com/JonMunkholm/ingest/internal/core"

// SupplierPricelist accepts arbitrary supplier price sheets. Columns are
// taken from the file; the ones listed here are typed, the rest load as
// text.
func SupplierPricelist() core.Dialect {
	return core.Dialect{
		ID:          "supplier_pricelist",
		Label:       "Supplier price list",
		TargetTable: "supplier_pricelist_raw",
		FreeForm:    true,
		Synonyms: map[string]string{
			"vendor sku":  "supplier_sku",
			"item number": "supplier_sku",
			"unit cost":   "cost",
			"unit price":  "cost",
			"min order":   "moq",
			"min qty":     "moq",
		},
		Detect: func(cols []string) bool {
			return core.HasAny(cols, "supplier sku", "vendor sku", "supplier_sku") &&
				core.HasAny(cols, "cost", "unit cost", "unit price")
		},
		Fields: []core.FieldSpec{
			{Name: "supplier_sku", Type: core.FieldText, Required: true, NotNull: true},
			{Name: "cost", Type: core.FieldNumeric, NonNegative: true},
			{Name: "msrp", Type: core.FieldNumeric, NonNegative: true},
			{Name: "moq", Type: core.FieldInteger, NonNegative: true},
			{Name: "case_pack", Type: core.FieldInteger, NonNegative: true},
			{Name: "currency", Type: core.FieldText, Length: 3, Normalizer: Upper},
		},
	}
}

// TestGeneric loads any table as text columns. It is never auto-detected
// and exists for smoke tests and ad hoc loads by explicit override.
func TestGeneric() core.Dialect {
	return core.Dialect{
		ID:          "test_generic",
		Label:       "Generic (override only)",
		TargetTable: "test_generic_raw",
		FreeForm:    true,
	}
}
