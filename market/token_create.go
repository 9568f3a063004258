package market

import (
	"context"
	"errors"
	"time"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
)

// TokenCreated is emitted when token data is minted.
type TokenCreated struct {
	ID          TokenDataID `json:"id"`
	Description string      `json:"description"`
	URI         string      `json:"uri"`
	Maximum     Amount      `json:"maximum"`
}

func (d *TokenCreated) Validate() error {
	if d.ID.Creator == "" || d.ID.Collection == "" || d.ID.Name == "" {
		return errors.New("id is incomplete")
	}
	return nil
}

// TokenCreateObserver indexes tokens, the parents of offers.
type TokenCreateObserver struct {
	Store   Store
	Chain   string
	Timeout time.Duration
}

func (o *TokenCreateObserver) Stream() indexer.Kind { return StreamTokenCreate }

func (o *TokenCreateObserver) ProcessAll(ctx context.Context, state indexer.State, events []indexer.Event[TokenCreated]) (indexer.State, error) {
	return indexer.Fold[TokenCreated](ctx, o, state, events)
}

func (o *TokenCreateObserver) Process(ctx context.Context, state indexer.State, ev indexer.Event[TokenCreated]) (indexer.State, bool, error) {
	chain := o.Chain
	if chain == "" {
		chain = "APTOS"
	}
	id := ev.Data.ID
	maximum := ev.Data.Maximum
	if maximum == "" {
		maximum = "0"
	}

	token := Token{
		ID:           EntityID("token", chain, id.Creator, id.Collection, id.Name),
		CollectionID: EntityID("collection", chain, id.Creator, id.Collection),
		TokenDataID:  id,
		Description:  ev.Data.Description,
		URI:          ev.Data.URI,
		Maximum:      maximum,
	}

	return apply(ctx, o.Store, o.Timeout, o.Stream(), state, ev, func(ctx context.Context, tx Tx) (int64, error) {
		if _, err := tx.UpsertToken(ctx, token); err != nil {
			return 0, err
		}
		return advanceOffset(ctx, tx, o.Stream(), ev.SequenceNumber)
	})
}
