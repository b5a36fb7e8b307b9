package feed

import "fmt"

// Canonical output field names.
const (
	FieldMaterial            = "MATERIAL"
	FieldEAN                 = "EAN"
	FieldCSEID               = "CSE_ID"
	FieldCategoryName        = "CATEGORY_NAME"
	FieldRating              = "RATING"
	FieldReviewCount         = "REVIEW_COUNT"
	FieldEshop               = "ESHOP"
	FieldPrice               = "PRICE"
	FieldAvailability        = "AVAILABILITY"
	FieldShippingPrice       = "SHIPPING_PRICE"
	FieldPosition            = "POSITION"
	FieldHighlightedPosition = "HIGHLIGHTED_POSITION"
	FieldStock               = "STOCK"
	FieldTimestamp           = "TS"
	FieldSourceID            = "SOURCE_ID"
)

// InStock is the availability value that sets STOCK to 1.
const InStock = "instock"

// GroupKind identifies which observation slot a mapping group describes.
type GroupKind int

const (
	KindHighlighted GroupKind = iota
	KindObserved
	KindCheapest
	KindPositional
)

func (k GroupKind) String() string {
	switch k {
	case KindHighlighted:
		return "highlighted"
	case KindObserved:
		return "observed"
	case KindCheapest:
		return "cheapest"
	case KindPositional:
		return "positional"
	}
	return "unknown"
}

// Mapping maps one source column to a canonical field.
type Mapping struct {
	Source string
	Field  string
}

// Group is one shop-observation slot of a wide input row.
// Rank is the 1-based slot number for highlighted and observed groups, 0 otherwise.
type Group struct {
	Kind   GroupKind
	Rank   int
	Fields []Mapping
}

// Name is a short label used in logs and errors, e.g. "highlighted2".
func (g Group) Name() string {
	if g.Rank > 0 {
		return fmt.Sprintf("%s%d", g.Kind, g.Rank)
	}
	return g.Kind.String()
}

// CommonFields are read for every group.
var CommonFields = []Mapping{
	{"ItemCode", FieldMaterial},
	{"EAN", FieldEAN},
	{"AKIdentifier", FieldCSEID},
	{"AKCategoryName", FieldCategoryName},
	{"Rating", FieldRating},
	{"ReviewCount", FieldReviewCount},
}

const (
	highlightedSlots = 3
	observedSlots    = 5
)

// DefaultGroups returns the mapping groups in priority order:
// highlighted 1..3, observed 1..5, cheapest, positional.
func DefaultGroups() []Group {
	groups := make([]Group, 0, highlightedSlots+observedSlots+2)
	for i := 1; i <= highlightedSlots; i++ {
		prefix := fmt.Sprintf("Highlighted%d ", i)
		groups = append(groups, Group{Kind: KindHighlighted, Rank: i, Fields: slotFields(prefix, "EshopName")})
	}
	for i := 1; i <= observedSlots; i++ {
		prefix := fmt.Sprintf("Observed%d ", i)
		groups = append(groups, Group{Kind: KindObserved, Rank: i, Fields: slotFields(prefix, "Name")})
	}
	groups = append(groups, Group{Kind: KindCheapest, Fields: slotFields("Cheapest ", "EshopName")})
	groups = append(groups, Group{Kind: KindPositional, Fields: []Mapping{
		{"Price", FieldPrice},
		{"Position", FieldPosition},
	}})
	return groups
}

func slotFields(prefix, shopColumn string) []Mapping {
	return []Mapping{
		{prefix + shopColumn, FieldEshop},
		{prefix + "Price", FieldPrice},
		{prefix + "Stock", FieldAvailability},
		{prefix + "ShippingPrice", FieldShippingPrice},
	}
}

// SourceColumns lists every source column referenced by groups and CommonFields, in order.
func SourceColumns(groups []Group) []string {
	seen := make(map[string]bool)
	var cols []string
	add := func(m []Mapping) {
		for _, f := range m {
			if !seen[f.Source] {
				seen[f.Source] = true
				cols = append(cols, f.Source)
			}
		}
	}
	add(CommonFields)
	for _, g := range groups {
		add(g.Fields)
	}
	return cols
}
