package market

import (
	"context"
	"errors"
	"time"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
)

// OfferCreated is emitted when a buyer offers coins for a token.
// Timestamps are in microseconds.
type OfferCreated struct {
	TokenID            TokenID      `json:"token_id"`
	CoinTypeInfo       CoinTypeInfo `json:"coin_type_info"`
	CoinAmountPerToken Amount       `json:"coin_amount_per_token"`
	TokenAmount        Quantity     `json:"token_amount"`
	CoinOwner          string       `json:"coin_owner"`
	Timestamp          Micros       `json:"timestamp"`
	ExpirationTime     Micros       `json:"expiration_time"`
}

func (d *OfferCreated) Validate() error {
	id := d.TokenID.TokenDataID
	if id.Creator == "" || id.Collection == "" || id.Name == "" {
		return errors.New("token_id is incomplete")
	}
	if d.CoinOwner == "" {
		return errors.New("coin_owner is required")
	}
	if d.CoinAmountPerToken == "" {
		return errors.New("coin_amount_per_token is required")
	}
	return nil
}

// OfferCreateObserver indexes offers on existing tokens.
// The token must have been indexed before; otherwise the event fails with
// *indexer.NotFoundError.
type OfferCreateObserver struct {
	Store   Store
	Timeout time.Duration
}

func (o *OfferCreateObserver) Stream() indexer.Kind { return StreamCreateOffer }

func (o *OfferCreateObserver) ProcessAll(ctx context.Context, state indexer.State, events []indexer.Event[OfferCreated]) (indexer.State, error) {
	return indexer.Fold[OfferCreated](ctx, o, state, events)
}

func (o *OfferCreateObserver) Process(ctx context.Context, state indexer.State, ev indexer.Event[OfferCreated]) (indexer.State, bool, error) {
	data := ev.Data
	return apply(ctx, o.Store, o.Timeout, o.Stream(), state, ev, func(ctx context.Context, tx Tx) (int64, error) {
		token, err := tx.FindToken(ctx, data.TokenID.TokenDataID)
		if err != nil {
			return 0, err
		}

		offer := Offer{
			CollectionID: token.CollectionID,
			TokenID:      token.ID,
			Offerer:      data.CoinOwner,
			Price:        data.CoinAmountPerToken,
			Quantity:     int64(data.TokenAmount),
			Currency:     data.CoinTypeInfo.Currency(),
			OpenedAt:     data.Timestamp.Time(),
			EndedAt:      data.ExpirationTime.Time(),
			Status:       OfferStatusCreated,
		}
		offer.ID = EntityID("offer", offer.Key())

		stored, err := tx.UpsertOffer(ctx, offer)
		if err != nil {
			return 0, err
		}
		if stored.Status != OfferStatusCreated {
			return 0, statusViolation("offer", offer.Key(), string(OfferStatusCreated), string(stored.Status))
		}

		return advanceOffset(ctx, tx, o.Stream(), ev.SequenceNumber)
	})
}
