package market

import (
	"context"
	"time"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
)

// DefaultTxTimeout bounds every apply transaction.
const DefaultTxTimeout = 60 * time.Second

// Store opens scoped transactions. WithTx commits when fn returns nil and
// rolls back on every other exit, including an expired timeout, which is
// reported as *indexer.TransactionTimeout.
type Store interface {
	WithTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write surface observers use. All calls made through one Tx belong
// to the same transaction. Upserts write the full field set on both insert and
// conflict and return the stored row id and status.
// Lookups and updates of missing rows return *indexer.NotFoundError.
type Tx interface {
	FindToken(ctx context.Context, id TokenDataID) (Token, error)
	UpsertToken(ctx context.Context, t Token) (Token, error)
	UpsertOffer(ctx context.Context, o Offer) (Offer, error)
	UpsertCurationOffer(ctx context.Context, o CurationOffer) (CurationOffer, error)
	FindCurationOffer(ctx context.Context, index int64, root string) (CurationOffer, error)
	UpdateCurationOfferStatus(ctx context.Context, index int64, root string, status CurationOfferStatus, updatedAt time.Time) (CurationOffer, error)
	UpsertCurationExhibit(ctx context.Context, e CurationExhibit) (CurationExhibit, error)
	UpsertCollection(ctx context.Context, c Collection) (Collection, error)
	UpsertNotification(ctx context.Context, n Notification) (Notification, error)
	UpdateOffset(ctx context.Context, stream indexer.Kind, seq int64) (int64, error)
}
