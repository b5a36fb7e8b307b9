package feed

import (
	"fmt"
	"strconv"
)

// RawRow is one parsed input line keyed by source column name.
type RawRow map[string]string

// Record is one normalized output row keyed by canonical field name.
type Record map[string]string

// MissingColumnError reports a configured source column absent from a row.
type MissingColumnError struct {
	Column string
	Group  string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("source column %q (group %s) not present in row", e.Column, e.Group)
}

// Normalizer expands a wide feed row into one record per distinct shop.
// It is immutable after construction.
type Normalizer struct {
	groups    []Group
	common    []Mapping
	constants map[string]string
	retailer  string
}

// NewNormalizer builds a normalizer over DefaultGroups.
// retailer is the shop name forced onto the positional slot.
func NewNormalizer(retailer string, constants map[string]string) *Normalizer {
	consts := make(map[string]string, len(constants))
	for k, v := range constants {
		consts[k] = v
	}
	return &Normalizer{
		groups:    DefaultGroups(),
		common:    CommonFields,
		constants: consts,
		retailer:  retailer,
	}
}

// Groups returns the mapping groups in priority order.
func (n *Normalizer) Groups() []Group { return n.groups }

// Normalize returns the records for one row. A shop appears at most once; the
// first group naming it wins. Groups with an empty shop name are skipped, and
// the positional slot is skipped when it carries neither price nor position.
func (n *Normalizer) Normalize(row RawRow, fileTimestamp, sourceID string) ([]Record, error) {
	var results []Record
	seen := make(map[string]bool)

	for _, g := range n.groups {
		shop, err := n.extract(row, g)
		if err != nil {
			return nil, err
		}

		if g.Kind == KindPositional {
			// Deliberate: a row with no price or position for the retailer
			// yields no retailer record instead of an empty one.
			if !hasValues(shop, g.Fields) {
				continue
			}
			shop[FieldEshop] = n.retailer
			shop[FieldAvailability] = ""
		}

		name := shop[FieldEshop]
		if name == "" || seen[name] {
			continue
		}

		if g.Kind == KindHighlighted {
			shop[FieldHighlightedPosition] = strconv.Itoa(g.Rank)
		}
		if shop[FieldAvailability] == InStock {
			shop[FieldStock] = "1"
		} else {
			shop[FieldStock] = "0"
		}
		shop[FieldTimestamp] = fileTimestamp
		shop[FieldSourceID] = sourceID

		rec := make(Record, len(n.constants)+len(shop))
		for k, v := range n.constants {
			rec[k] = v
		}
		for k, v := range shop {
			rec[k] = v
		}

		seen[name] = true
		results = append(results, rec)
	}
	return results, nil
}

func (n *Normalizer) extract(row RawRow, g Group) (Record, error) {
	out := make(Record, len(n.common)+len(g.Fields)+5)
	for _, fields := range [][]Mapping{n.common, g.Fields} {
		for _, m := range fields {
			v, ok := row[m.Source]
			if !ok {
				return nil, &MissingColumnError{Column: m.Source, Group: g.Name()}
			}
			out[m.Field] = v
		}
	}
	return out, nil
}

func hasValues(rec Record, fields []Mapping) bool {
	for _, m := range fields {
		if rec[m.Field] != "" {
			return true
		}
	}
	return false
}
