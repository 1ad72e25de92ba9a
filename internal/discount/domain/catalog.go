package domain

// catalog is the fixed set of discount types offered on every proposal.
var catalog = []DiscountType{
	{ID: "senior-citizen", Name: "Senior Citizen", Category: CustomerType, DefaultAmount: 500, Priority: 40},
	{ID: "military", Name: "Military / Veteran", Category: CustomerType, DefaultAmount: 500, Priority: 30},
	{ID: "first-responder", Name: "First Responder", Category: CustomerType, DefaultAmount: 500, Priority: 20},
	{ID: "educator", Name: "Educator", Category: CustomerType, DefaultAmount: 300, Priority: 10},

	{ID: "repeat-customer", Name: "Repeat Customer", Category: Loyalty, DefaultAmount: 250, Priority: 20},
	{ID: "referral", Name: "Referral", Category: Loyalty, DefaultAmount: 200, Priority: 10},

	{ID: AutoBundleID, Name: "Bundle Savings", Category: Bundle, Priority: 100, IsSystemGenerated: true},
	{ID: "multi-service", Name: "Multi-Service Package", Category: Bundle, DefaultAmount: 750, Priority: 20},
	{ID: "seasonal-promo", Name: "Seasonal Promotion", Category: Bundle, PercentageOfSubtotal: 2, Priority: 10},
}

// Catalog returns a fresh, fully disabled copy of the discount catalog.
func Catalog() []DiscountType {
	out := make([]DiscountType, len(catalog))
	copy(out, catalog)
	return out
}

// Clone copies a discount list so callers can mutate it freely.
func Clone(types []DiscountType) []DiscountType {
	if types == nil {
		return nil
	}
	out := make([]DiscountType, len(types))
	copy(out, types)
	return out
}

// Find returns the index of id in types, or -1.
func Find(types []DiscountType, id string) int {
	for i := range types {
		if types[i].ID == id {
			return i
		}
	}
	return -1
}
