package feed

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

// feedFile renders a feed: timestamp line, header of every configured
// column, then one line per row map.
func feedFile(timestamp string, rows ...map[string]string) string {
	cols := SourceColumns(DefaultGroups())
	var b strings.Builder
	b.WriteString(timestamp + "\n")
	b.WriteString(strings.Join(cols, ";") + "\n")
	for _, r := range rows {
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = r[c]
		}
		b.WriteString(strings.Join(vals, ";") + "\n")
	}
	return b.String()
}

type collectSink struct {
	recs []Record
}

func (s *collectSink) Write(rec Record) error {
	s.recs = append(s.recs, rec)
	return nil
}

func newTestDriver(t *testing.T, charset string) *Driver {
	t.Helper()
	d, err := NewDriver(NewNormalizer("mall.hu", testConstants), charset)
	require.NoError(t, err)
	return d
}

func TestProcessReadsTimestampAndRows(t *testing.T) {
	d := newTestDriver(t, "")
	data := feedFile("2024-05-01 06:00:00",
		map[string]string{"ItemCode": "A", "Highlighted1 EshopName": "shopA", "Highlighted1 Stock": "instock"},
		map[string]string{"ItemCode": "B", "Observed1 Name": "shopB", "Position": "3"},
	)

	sink := &collectSink{}
	res, err := d.Process(strings.NewReader(data), "feed_1.csv", sink)
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01 06:00:00", res.Timestamp)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 3, res.Records)
	require.Len(t, sink.recs, 3)

	assert.Equal(t, "A", sink.recs[0][FieldMaterial])
	assert.Equal(t, "shopA", sink.recs[0][FieldEshop])
	assert.Equal(t, "2024-05-01 06:00:00", sink.recs[0][FieldTimestamp])
	assert.Equal(t, "feed_1.csv", sink.recs[0][FieldSourceID])
	assert.Equal(t, "shopB", sink.recs[1][FieldEshop])
	assert.Equal(t, "mall.hu", sink.recs[2][FieldEshop])
	assert.Equal(t, "3", sink.recs[2][FieldPosition])
}

func TestProcessStripsBOMAndCRLF(t *testing.T) {
	d := newTestDriver(t, "")
	data := "\xEF\xBB\xBF" + strings.ReplaceAll(feedFile("1714543200",
		map[string]string{"Cheapest EshopName": "shopC"}), "\n", "\r\n")

	sink := &collectSink{}
	res, err := d.Process(strings.NewReader(data), "f", sink)
	require.NoError(t, err)
	assert.Equal(t, "1714543200", res.Timestamp)
	require.Len(t, sink.recs, 1)
	assert.Equal(t, "shopC", sink.recs[0][FieldEshop])
}

func TestProcessEmptyFile(t *testing.T) {
	d := newTestDriver(t, "")
	_, err := d.Process(strings.NewReader(""), "f", &collectSink{})
	assert.True(t, errors.Is(err, ErrEmptyFile))
}

func TestProcessTimestampOnly(t *testing.T) {
	d := newTestDriver(t, "")
	res, err := d.Process(strings.NewReader("2024-05-01\n"), "f", &collectSink{})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", res.Timestamp)
	assert.Zero(t, res.Rows)
}

func TestProcessSchemaMismatchKeepsEarlierRecords(t *testing.T) {
	d := newTestDriver(t, "")
	data := "ts\nItemCode;EAN\nA;123\n"

	sink := &collectSink{}
	res, err := d.Process(strings.NewReader(data), "f", sink)
	require.Error(t, err)

	var mce *MissingColumnError
	assert.True(t, errors.As(err, &mce))
	assert.Equal(t, 1, res.Rows)
	assert.Empty(t, sink.recs)
}

func TestProcessShortRowsPadWithEmpty(t *testing.T) {
	d := newTestDriver(t, "")
	cols := SourceColumns(DefaultGroups())
	data := "ts\n" + strings.Join(cols, ";") + "\nA;1;2;cat;4.5;10;shopA\n"

	sink := &collectSink{}
	_, err := d.Process(strings.NewReader(data), "f", sink)
	require.NoError(t, err)
	require.Len(t, sink.recs, 1)
	assert.Equal(t, "shopA", sink.recs[0][FieldEshop])
	assert.Equal(t, "", sink.recs[0][FieldPrice])
}

func TestProcessSinkErrorStops(t *testing.T) {
	d := newTestDriver(t, "")
	data := feedFile("ts",
		map[string]string{"Observed1 Name": "a"},
		map[string]string{"Observed1 Name": "b"},
	)
	boom := errors.New("disk full")
	calls := 0
	_, err := d.Process(strings.NewReader(data), "f", SinkFunc(func(Record) error {
		calls++
		return boom
	}))
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, calls)
}

func TestProcessFileWithCharset(t *testing.T) {
	d := newTestDriver(t, "ISO-8859-2")

	utf8 := feedFile("ts", map[string]string{"AKCategoryName": "Hűtőszekrény", "Observed1 Name": "shopÁ"})
	encoded, err := charmap.ISO8859_2.NewEncoder().String(utf8)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "feed.csv")
	require.NoError(t, os.WriteFile(path, []byte(encoded), 0644))

	sink := &collectSink{}
	_, err = d.ProcessFile(path, "feed.csv", sink)
	require.NoError(t, err)
	require.Len(t, sink.recs, 1)
	assert.Equal(t, "Hűtőszekrény", sink.recs[0][FieldCategoryName])
	assert.Equal(t, "shopÁ", sink.recs[0][FieldEshop])
}

func TestProcessFileMissing(t *testing.T) {
	d := newTestDriver(t, "")
	_, err := d.ProcessFile(filepath.Join(t.TempDir(), "nope.csv"), "nope.csv", &collectSink{})
	assert.Error(t, err)
}

func TestNewDriverUnknownCharset(t *testing.T) {
	_, err := NewDriver(NewNormalizer("mall.hu", nil), "klingon-8")
	assert.Error(t, err)

	d, err := NewDriver(NewNormalizer("mall.hu", nil), "UTF-8")
	require.NoError(t, err)
	assert.Nil(t, d.enc)
}
