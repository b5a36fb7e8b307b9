package output

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/arukereso-extractor/internal/feed"
)

func TestTableWritesWantedColumnsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "tables", "results.csv")
	tbl, err := CreateTable(path, []string{"MATERIAL", "ESHOP", "HIGHLIGHTED_POSITION", "STOCK"})
	require.NoError(t, err)

	require.NoError(t, tbl.Write(feed.Record{"MATERIAL": "M1", "ESHOP": "shop;A", "STOCK": "1", "PRICE": "100", "HIGHLIGHTED_POSITION": "2"}))
	require.NoError(t, tbl.Write(feed.Record{"MATERIAL": "M2", "ESHOP": "shopB", "STOCK": "0"}))
	assert.Equal(t, 2, tbl.Rows())
	require.NoError(t, tbl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"MATERIAL,ESHOP,HIGHLIGHTED_POSITION,STOCK\n"+
			"M1,shop;A,2,1\n"+
			"M2,shopB,,0\n",
		string(data))
}

func TestCreateTableRequiresColumns(t *testing.T) {
	_, err := CreateTable(filepath.Join(t.TempDir(), "r.csv"), nil)
	assert.Error(t, err)
}

type recordingSink struct {
	recs   []feed.Record
	err    error
	closed bool
}

func (s *recordingSink) Write(rec feed.Record) error {
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return s.err
}

func TestMulti(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := Multi{a, b}
	require.NoError(t, m.Write(feed.Record{"ESHOP": "x"}))
	require.NoError(t, m.Close())
	assert.Len(t, a.recs, 1)
	assert.Len(t, b.recs, 1)
	assert.True(t, a.closed && b.closed)
}

func TestMultiStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recordingSink{err: boom}, &recordingSink{}
	m := Multi{a, b}
	assert.ErrorIs(t, m.Write(feed.Record{}), boom)
	assert.Empty(t, b.recs)
	assert.ErrorIs(t, m.Close(), boom)
	assert.True(t, b.closed)
}
