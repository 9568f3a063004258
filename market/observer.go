package market

import (
	"context"
	"strconv"
	"time"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
)

// Streams handled by this package.
const (
	StreamTokenCreate         indexer.Kind = "token_create"
	StreamCreateOffer         indexer.Kind = "create_offer"
	StreamCurationOfferCreate indexer.Kind = "curation_offer_create"
	StreamCurationOfferAccept indexer.Kind = "curation_offer_accept"
	StreamCollectionCreate    indexer.Kind = "multiple_collective_created"
)

// Streams lists every stream in this package.
func Streams() []indexer.Kind {
	return []indexer.Kind{
		StreamTokenCreate,
		StreamCreateOffer,
		StreamCurationOfferCreate,
		StreamCurationOfferAccept,
		StreamCollectionCreate,
	}
}

// Options configures the observers built by Handlers.
type Options struct {
	CurationRoot string        // curation contract address, part of curation natural keys
	AptosChain   string        // default "APTOS"
	EVMChain     string        // default "ETHEREUM"
	TxTimeout    time.Duration // default DefaultTxTimeout
}

// Handlers binds one observer per stream to store.
func Handlers(store Store, opts Options) []indexer.Handler {
	return []indexer.Handler{
		indexer.Bind[TokenCreated](&TokenCreateObserver{Store: store, Chain: opts.AptosChain, Timeout: opts.TxTimeout}),
		indexer.Bind[OfferCreated](&OfferCreateObserver{Store: store, Timeout: opts.TxTimeout}),
		indexer.Bind[CurationOfferCreated](&CurationOfferCreateObserver{Store: store, Root: opts.CurationRoot, Timeout: opts.TxTimeout}),
		indexer.Bind[CurationOfferAccepted](&CurationOfferAcceptObserver{Store: store, Root: opts.CurationRoot, Chain: opts.EVMChain, Timeout: opts.TxTimeout}),
		indexer.Bind[CollectionCreated](&CollectionCreateObserver{Store: store, Chain: opts.EVMChain, Timeout: opts.TxTimeout}),
	}
}

// apply runs fn and the offset advance of one event in a single transaction
// and returns the advanced state. fn must call advanceOffset.
func apply[T any](
	ctx context.Context,
	store Store,
	timeout time.Duration,
	stream indexer.Kind,
	state indexer.State,
	ev indexer.Event[T],
	fn func(ctx context.Context, tx Tx) (int64, error),
) (indexer.State, bool, error) {
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}

	var next indexer.State
	err := store.WithTx(ctx, timeout, func(ctx context.Context, tx Tx) error {
		// The offset must not regress; check before anything is written.
		var err error
		if next, err = state.Advance(stream, ev.SequenceNumber); err != nil {
			return err
		}
		_, err = fn(ctx, tx)
		return err
	})
	if err != nil {
		return state, false, indexer.Annotate(err, stream, ev.SequenceNumber, ev.Data)
	}
	return next, true, nil
}

// advanceOffset moves the stream's offset row to seq and checks the stored value.
// A row already past seq is left alone and reported as a violation.
func advanceOffset(ctx context.Context, tx Tx, stream indexer.Kind, seq int64) (int64, error) {
	got, err := tx.UpdateOffset(ctx, stream, seq)
	if err != nil {
		return 0, err
	}
	if got != seq {
		return 0, &indexer.InvariantViolation{
			Entity: "event_offset",
			Key:    string(stream),
			Field:  "executed_offset",
			Want:   strconv.FormatInt(seq, 10),
			Got:    strconv.FormatInt(got, 10),
		}
	}
	return got, nil
}

func statusViolation(entity, key, want, got string) error {
	return &indexer.InvariantViolation{Entity: entity, Key: key, Field: "status", Want: want, Got: got}
}
