package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketwatch/internal/domain"
)

func testBar() domain.AggregateBar {
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	return domain.AggregateBar{
		Symbol:     "AAPL",
		StartTime:  start,
		EndTime:    start.Add(24 * time.Hour),
		Open:       decimal.NewFromFloat(100),
		High:       decimal.NewFromFloat(105),
		Low:        decimal.NewFromFloat(99),
		Close:      decimal.NewFromFloat(104),
		Volume:     1000,
		VWAP:       decimal.NewFromFloat(102.5),
		TradeCount: 50,
		Timeframe:  domain.TimeframeDay,
		Source:     "polygon",
		Sequence:   1,
	}
}

func TestBarSink_WriteBars_InsertsAndCommits(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	bar := testBar()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO aggregate_bars")
	mock.ExpectExec("INSERT INTO aggregate_bars").
		WithArgs(string(bar.Symbol), bar.StartTime, bar.EndTime,
			bar.Open.String(), bar.High.String(), bar.Low.String(), bar.Close.String(),
			bar.Volume, bar.VWAP.String(), bar.TradeCount, int(bar.Timeframe), string(bar.Source), bar.Sequence).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sink := NewBarSink(db, time.Second)
	err = sink.WriteBars(context.Background(), bar.Symbol, []domain.AggregateBar{bar})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBarSink_WriteBars_EmptyIsNoop(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	sink := NewBarSink(db, time.Second)
	require.NoError(t, sink.WriteBars(context.Background(), "AAPL", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBarSink_WriteBars_ExecFailureRollsBack(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	bar := testBar()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO aggregate_bars")
	mock.ExpectExec("INSERT INTO aggregate_bars").WillReturnError(assertSQLError{"constraint violation"})
	mock.ExpectRollback()

	sink := NewBarSink(db, time.Second)
	err = sink.WriteBars(context.Background(), bar.Symbol, []domain.AggregateBar{bar})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBarSink_CountForSymbol(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	mock.ExpectQuery("SELECT COUNT").WithArgs("AAPL").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	sink := NewBarSink(db, time.Second)
	count, err := sink.CountForSymbol(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type assertSQLError struct{ msg string }

func (e assertSQLError) Error() string { return e.msg }
