package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
	"github.com/shogotsuneto/go-simple-es-indexer/market"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, Postgres), mock
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("postgres")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = ParseDialect("sqlite")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", Postgres.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))
	assert.Equal(t, "SELECT a FROM t WHERE b = ? AND c = ?", SQLite.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))
}

func TestUpsertSQL(t *testing.T) {
	got := upsertSQL("t", []string{"a", "b"}, []string{"c", "d"}, "id")
	assert.Equal(t,
		"INSERT INTO t (a, b, c, d) VALUES (?, ?, ?, ?) ON CONFLICT (a, b) DO UPDATE SET c = excluded.c, d = excluded.d RETURNING id",
		got)
}

func TestWithTx_CommitsOffsetUpdate(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(Postgres.rebind(updateOffsetSQL))).
		WithArgs(int64(11), "create_offer", int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"executed_offset"}).AddRow(11))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), time.Second, func(ctx context.Context, tx market.Tx) error {
		got, err := tx.UpdateOffset(ctx, "create_offer", 11)
		require.NoError(t, err)
		assert.Equal(t, int64(11), got)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_MissingOffsetRowRollsBack(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE event_offsets SET executed_offset = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"executed_offset"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT executed_offset FROM event_offsets WHERE stream = $1")).
		WithArgs("create_offer").
		WillReturnRows(sqlmock.NewRows([]string{"executed_offset"}))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), time.Second, func(ctx context.Context, tx market.Tx) error {
		_, err := tx.UpdateOffset(ctx, "create_offer", 11)
		return err
	})

	var notFound *indexer.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "event_offset", notFound.Entity)
	assert.Equal(t, "create_offer", notFound.Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_OffsetNeverMovesBackwards(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE event_offsets SET executed_offset = $1")).
		WithArgs(int64(11), "create_offer", int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"executed_offset"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT executed_offset FROM event_offsets WHERE stream = $1")).
		WithArgs("create_offer").
		WillReturnRows(sqlmock.NewRows([]string{"executed_offset"}).AddRow(20))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), time.Second, func(ctx context.Context, tx market.Tx) error {
		got, err := tx.UpdateOffset(ctx, "create_offer", 11)
		require.NoError(t, err)
		assert.Equal(t, int64(20), got)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_UpsertOffer(t *testing.T) {
	s, mock := newMock(t)
	opened := time.UnixMicro(1_700_000_000_000_000)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO offers (token_id, offerer, opened_at, id, collection_id, price, quantity, currency, ended_at, status) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (token_id, offerer, opened_at) DO UPDATE SET")).
		WithArgs("token-1", "0xbuyer", opened.UTC(), "offer-1", "collection-1", "100", int64(2), "0x1::coin::Coin", sqlmock.AnyArg(), "CREATED").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("offer-1", "CREATED"))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), time.Second, func(ctx context.Context, tx market.Tx) error {
		got, err := tx.UpsertOffer(ctx, market.Offer{
			ID:           "offer-1",
			CollectionID: "collection-1",
			TokenID:      "token-1",
			Offerer:      "0xbuyer",
			Price:        "100",
			Quantity:     2,
			Currency:     "0x1::coin::Coin",
			OpenedAt:     opened,
			EndedAt:      opened.Add(time.Hour),
			Status:       market.OfferStatusCreated,
		})
		if err != nil {
			return err
		}
		assert.Equal(t, market.OfferStatusCreated, got.Status)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_FindTokenMissing(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM tokens WHERE creator = $1 AND collection = $2 AND name = $3")).
		WithArgs("0xcreator", "apes", "ape #1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "collection_id", "property_version", "description", "uri", "maximum"}))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), time.Second, func(ctx context.Context, tx market.Tx) error {
		_, err := tx.FindToken(ctx, market.TokenDataID{Creator: "0xcreator", Collection: "apes", Name: "ape #1"})
		return err
	})

	var notFound *indexer.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "token", notFound.Entity)
	assert.Equal(t, "0xcreator::apes::ape #1", notFound.Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = s.WithTx(context.Background(), time.Second, func(ctx context.Context, tx market.Tx) error {
			panic("boom")
		})
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	called := false
	err := s.WithTx(context.Background(), time.Second, func(ctx context.Context, tx market.Tx) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
	assert.False(t, called)
	assert.False(t, indexer.IsRetryable(err))
}

func TestWithTx_CommitError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := s.WithTx(context.Background(), time.Second, func(ctx context.Context, tx market.Tx) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to commit transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_Timeout(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), 20*time.Millisecond, func(ctx context.Context, tx market.Tx) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var timeout *indexer.TransactionTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 20*time.Millisecond, timeout.Timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, indexer.IsRetryable(err))
}

func TestWithTx_ParentCancellationIsNotATimeout(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithTx(ctx, time.Second, func(ctx context.Context, tx market.Tx) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, indexer.IsRetryable(err))
}

func TestEnsureStreams(t *testing.T) {
	s, mock := newMock(t)

	for _, stream := range []string{"token_create", "create_offer"} {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_offsets (stream, executed_offset) VALUES ($1, $2) ON CONFLICT (stream) DO NOTHING")).
			WithArgs(stream, indexer.NoOffset).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	require.NoError(t, s.EnsureStreams(context.Background(), "token_create", "create_offer"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadState(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT stream, executed_offset FROM event_offsets ORDER BY stream")).
		WillReturnRows(sqlmock.NewRows([]string{"stream", "executed_offset"}).
			AddRow("create_offer", 10).
			AddRow("token_create", -1))

	state, err := s.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), state.Offset("create_offer"))
	assert.Equal(t, indexer.NoOffset, state.Offset("token_create"))
	assert.True(t, state.Has("token_create"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetOffset_UnknownStream(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE event_offsets SET executed_offset = $1 WHERE stream = $2")).
		WithArgs(int64(5), "nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetOffset(context.Background(), "nope", 5)
	var notFound *indexer.NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursor(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT cursor_value FROM consumer_cursors WHERE name = $1")).
		WithArgs("indexer").
		WillReturnRows(sqlmock.NewRows([]string{"cursor_value"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO consumer_cursors (name, cursor_value, updated_at) VALUES ($1, $2, $3)")).
		WithArgs("indexer", []byte("42"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cursor, err := s.LoadCursor(context.Background(), "indexer")
	require.NoError(t, err)
	assert.Empty(t, cursor)

	require.NoError(t, s.SaveCursor(context.Background(), "indexer", []byte("42")))
	require.NoError(t, mock.ExpectationsWereMet())
}
