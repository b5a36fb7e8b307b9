package feed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConstants = map[string]string{"COUNTRY": "HU", "DISTRCHAN": "MA", "SOURCE": "arukereso", "FREQ": "d"}

// blankRow returns a row carrying every configured column with an empty value.
func blankRow(overrides map[string]string) RawRow {
	row := make(RawRow)
	for _, c := range SourceColumns(DefaultGroups()) {
		row[c] = ""
	}
	for k, v := range overrides {
		row[k] = v
	}
	return row
}

func shops(recs []Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r[FieldEshop])
	}
	return out
}

func TestDefaultGroupsOrder(t *testing.T) {
	groups := DefaultGroups()
	require.Len(t, groups, 10)

	var names []string
	for _, g := range groups {
		names = append(names, g.Name())
	}
	assert.Equal(t, []string{
		"highlighted1", "highlighted2", "highlighted3",
		"observed1", "observed2", "observed3", "observed4", "observed5",
		"cheapest", "positional",
	}, names)

	assert.Equal(t, "Highlighted2 EshopName", groups[1].Fields[0].Source)
	assert.Equal(t, "Observed4 Name", groups[6].Fields[0].Source)
	assert.Equal(t, "Cheapest ShippingPrice", groups[8].Fields[3].Source)
}

func TestNormalizeEndToEndExample(t *testing.T) {
	n := NewNormalizer("mall.hu", testConstants)
	row := blankRow(map[string]string{
		"ItemCode":               "M-1",
		"Highlighted1 EshopName": "shopA",
		"Highlighted1 Price":     "100",
		"Highlighted1 Stock":     "instock",
		"Observed1 Name":         "shopA",
		"Observed1 Stock":        "outofstock",
		"Cheapest EshopName":     "shopB",
		"Cheapest Stock":         "instock",
	})

	recs, err := n.Normalize(row, "2024-05-01 06:00:00", "feed_1.csv")
	require.NoError(t, err)

	require.Equal(t, []string{"shopA", "shopB"}, shops(recs))

	a := recs[0]
	assert.Equal(t, "1", a[FieldHighlightedPosition])
	assert.Equal(t, "1", a[FieldStock])
	assert.Equal(t, "instock", a[FieldAvailability])
	assert.Equal(t, "100", a[FieldPrice])
	assert.Equal(t, "M-1", a[FieldMaterial])
	assert.Equal(t, "2024-05-01 06:00:00", a[FieldTimestamp])
	assert.Equal(t, "feed_1.csv", a[FieldSourceID])
	assert.Equal(t, "HU", a["COUNTRY"])
	assert.Equal(t, "arukereso", a["SOURCE"])

	b := recs[1]
	assert.Equal(t, "1", b[FieldStock])
	assert.NotContains(t, b, FieldHighlightedPosition)
}

func TestNormalizeDedupKeepsHigherPriority(t *testing.T) {
	n := NewNormalizer("mall.hu", nil)
	row := blankRow(map[string]string{
		"Observed2 Name":     "shopC",
		"Observed2 Price":    "50",
		"Observed5 Name":     "shopC",
		"Observed5 Price":    "40",
		"Cheapest EshopName": "shopC",
		"Cheapest Price":     "40",
		"Observed3 Name":     "mall.hu",
		"Observed3 Stock":    "instock",
		"Position":           "4",
	})

	recs, err := n.Normalize(row, "ts", "f")
	require.NoError(t, err)
	require.Equal(t, []string{"shopC", "mall.hu"}, shops(recs))
	assert.Equal(t, "50", recs[0][FieldPrice])
	// the retailer already came from an observed slot, so the positional slot is suppressed
	assert.Equal(t, "instock", recs[1][FieldAvailability])
	assert.NotContains(t, recs[1], FieldPosition)
}

func TestNormalizeSkipsEmptyShop(t *testing.T) {
	n := NewNormalizer("", nil)
	row := blankRow(map[string]string{
		"Highlighted1 Price": "999",
		"Highlighted1 Stock": "instock",
		"Price":              "10",
	})

	recs, err := n.Normalize(row, "ts", "f")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestNormalizeStockFlag(t *testing.T) {
	tests := []struct {
		availability string
		want         string
	}{
		{"instock", "1"},
		{"InStock", "0"},
		{"instock ", "0"},
		{"outofstock", "0"},
		{"", "0"},
	}
	n := NewNormalizer("mall.hu", nil)
	for _, tt := range tests {
		t.Run(tt.availability, func(t *testing.T) {
			recs, err := n.Normalize(blankRow(map[string]string{
				"Observed1 Name":  "shopA",
				"Observed1 Stock": tt.availability,
			}), "ts", "f")
			require.NoError(t, err)
			require.NotEmpty(t, recs)
			assert.Equal(t, tt.want, recs[0][FieldStock])
		})
	}
}

func TestNormalizeHighlightedRank(t *testing.T) {
	n := NewNormalizer("mall.hu", nil)
	recs, err := n.Normalize(blankRow(map[string]string{
		"Highlighted2 EshopName": "shopX",
		"Highlighted3 EshopName": "shopY",
	}), "ts", "f")
	require.NoError(t, err)
	require.Equal(t, []string{"shopX", "shopY"}, shops(recs))
	assert.Equal(t, "2", recs[0][FieldHighlightedPosition])
	assert.Equal(t, "3", recs[1][FieldHighlightedPosition])
}

func TestNormalizePositionalOverride(t *testing.T) {
	n := NewNormalizer("mall.hu", nil)
	recs, err := n.Normalize(blankRow(map[string]string{
		"Price":    "1234",
		"Position": "7",
	}), "ts", "f")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Equal(t, "mall.hu", r[FieldEshop])
	assert.Equal(t, "", r[FieldAvailability])
	assert.Equal(t, "0", r[FieldStock])
	assert.Equal(t, "1234", r[FieldPrice])
	assert.Equal(t, "7", r[FieldPosition])
}

func TestNormalizePositionalWithoutDataIsSkipped(t *testing.T) {
	n := NewNormalizer("mall.hu", nil)
	recs, err := n.Normalize(blankRow(map[string]string{"Position": "", "Price": ""}), "ts", "f")
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = n.Normalize(blankRow(map[string]string{"Price": "10"}), "ts", "f")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "mall.hu", recs[0][FieldEshop])
	assert.Equal(t, "", recs[0][FieldPosition])
}

func TestNormalizeMissingColumn(t *testing.T) {
	n := NewNormalizer("mall.hu", nil)
	row := blankRow(map[string]string{"Highlighted1 EshopName": "shopA"})
	delete(row, "Observed2 Stock")

	recs, err := n.Normalize(row, "ts", "f")
	require.Error(t, err)
	assert.Nil(t, recs)

	var mce *MissingColumnError
	require.True(t, errors.As(err, &mce))
	assert.Equal(t, "Observed2 Stock", mce.Column)
	assert.Equal(t, "observed2", mce.Group)
}

func TestNormalizeRowFieldsOverrideConstants(t *testing.T) {
	n := NewNormalizer("mall.hu", map[string]string{"COUNTRY": "HU", FieldEshop: "constant"})
	recs, err := n.Normalize(blankRow(map[string]string{"Position": "1"}), "ts", "f")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "mall.hu", recs[0][FieldEshop])
	assert.Equal(t, "HU", recs[0]["COUNTRY"])
}
