package warehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/arukereso-extractor/internal/feed"
	"github.com/ignite/arukereso-extractor/internal/pkg/logger"
)

func setupSink(t *testing.T, columns ...string) (*Sink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sink, err := NewSink(context.Background(), db, "RAW.ARUKERESO_RESULTS", columns, logger.Nop())
	require.NoError(t, err)
	return sink, mock
}

func TestSinkFlushesOnClose(t *testing.T) {
	sink, mock := setupSink(t, "MATERIAL", "ESHOP", "STOCK")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO RAW.ARUKERESO_RESULTS (MATERIAL, ESHOP, STOCK) VALUES (?, ?, ?), (?, ?, ?)")).
		WithArgs("M1", "shopA", "1", "M1", "shopB", "").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, sink.Write(feed.Record{"MATERIAL": "M1", "ESHOP": "shopA", "STOCK": "1", "PRICE": "9"}))
	require.NoError(t, sink.Write(feed.Record{"MATERIAL": "M1", "ESHOP": "shopB"}))
	require.NoError(t, sink.Close())

	assert.Equal(t, 2, sink.Written())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkFlushesFullBatches(t *testing.T) {
	sink, mock := setupSink(t, "ESHOP")

	mock.ExpectExec("INSERT INTO RAW.ARUKERESO_RESULTS").WillReturnResult(sqlmock.NewResult(0, insertBatchSize))
	mock.ExpectExec("INSERT INTO RAW.ARUKERESO_RESULTS").WillReturnResult(sqlmock.NewResult(0, 1))

	for i := 0; i < insertBatchSize+1; i++ {
		require.NoError(t, sink.Write(feed.Record{"ESHOP": fmt.Sprintf("shop%d", i)}))
	}
	assert.Equal(t, insertBatchSize, sink.Written())
	require.NoError(t, sink.Close())
	assert.Equal(t, insertBatchSize+1, sink.Written())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkCloseWithoutRows(t *testing.T) {
	sink, mock := setupSink(t, "ESHOP")
	require.NoError(t, sink.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkInsertError(t *testing.T) {
	sink, mock := setupSink(t, "ESHOP")
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("warehouse suspended"))

	require.NoError(t, sink.Write(feed.Record{"ESHOP": "a"}))
	err := sink.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse suspended")
	assert.Equal(t, 0, sink.Written())
}

func TestSinkDropsFailedBatch(t *testing.T) {
	sink, mock := setupSink(t, "ESHOP")
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("warehouse suspended"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO RAW.ARUKERESO_RESULTS (ESHOP) VALUES (?)")).
		WithArgs("b").
		WillReturnResult(sqlmock.NewResult(0, 1))

	for i := 0; i < insertBatchSize-1; i++ {
		require.NoError(t, sink.Write(feed.Record{"ESHOP": "a"}))
	}
	require.Error(t, sink.Write(feed.Record{"ESHOP": "a"}))
	assert.Equal(t, 0, sink.Written())

	require.NoError(t, sink.Write(feed.Record{"ESHOP": "b"}))
	require.NoError(t, sink.Close())
	assert.Equal(t, 1, sink.Written())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSinkRejectsBadIdentifiers(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSink(context.Background(), db, "results; DROP TABLE x", []string{"A"}, nil)
	assert.Error(t, err)
	_, err = NewSink(context.Background(), db, "RESULTS", []string{"A B"}, nil)
	assert.Error(t, err)
	_, err = NewSink(context.Background(), db, "RESULTS", nil, nil)
	assert.Error(t, err)
	_, err = NewSink(context.Background(), db, "DB.SCHEMA.RESULTS", []string{"MATERIAL", "TS"}, nil)
	assert.NoError(t, err)
}
