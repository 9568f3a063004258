package market

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
)

// zeroAddress is the currency of exhibits priced in the native coin.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// CurationOfferAccepted is emitted when the invited owner accepts a curation
// offer. Timestamps are in seconds.
type CurationOfferAccepted struct {
	ID               Quantity `json:"id"`
	Collection       string   `json:"collection"`
	TokenID          Amount   `json:"token_id"`
	From             string   `json:"from"`
	To               string   `json:"to"`
	Price            Amount   `json:"price"`
	GalleryID        Quantity `json:"gallery_id"`
	ExhibitExpiredAt Seconds  `json:"exhibit_expired_at"`
	Timestamp        Seconds  `json:"timestamp"`
}

func (d *CurationOfferAccepted) Validate() error {
	if d.From == "" {
		return errors.New("from is required")
	}
	if d.TokenID == "" || d.Price == "" {
		return errors.New("token_id and price are required")
	}
	return nil
}

// CurationOfferAcceptObserver marks the offer accepted, reserves the exhibit
// and notifies the curator. The offer must exist.
type CurationOfferAcceptObserver struct {
	Store   Store
	Root    string
	Chain   string
	Timeout time.Duration
}

func (o *CurationOfferAcceptObserver) Stream() indexer.Kind { return StreamCurationOfferAccept }

func (o *CurationOfferAcceptObserver) ProcessAll(ctx context.Context, state indexer.State, events []indexer.Event[CurationOfferAccepted]) (indexer.State, error) {
	return indexer.Fold[CurationOfferAccepted](ctx, o, state, events)
}

func (o *CurationOfferAcceptObserver) Process(ctx context.Context, state indexer.State, ev indexer.Event[CurationOfferAccepted]) (indexer.State, bool, error) {
	if o.Root == "" {
		return state, false, errors.New("curation root is not configured")
	}
	chain := o.Chain
	if chain == "" {
		chain = "ETHEREUM"
	}
	data := ev.Data
	index := int64(data.ID)
	updatedAt := data.Timestamp.Time()

	detail, err := json.Marshal(struct {
		Chain        string `json:"chain"`
		CollectionID string `json:"collectionId"`
		TokenID      string `json:"tokenId"`
	}{chain, data.Collection, data.TokenID.String()})
	if err != nil {
		return state, false, err
	}
	notification := Notification{
		Receiver:  data.From,
		Type:      NotificationCurationOfferAccepted,
		Timestamp: updatedAt,
		Title:     "Your offer has been accepted",
		Content:   "From Mixverse",
		Unread:    true,
		Detail:    string(detail),
	}
	notification.ID = EntityID("notification", notification.Key())

	return apply(ctx, o.Store, o.Timeout, o.Stream(), state, ev, func(ctx context.Context, tx Tx) (int64, error) {
		offer, err := tx.FindCurationOffer(ctx, index, o.Root)
		if err != nil {
			return 0, err
		}

		updated, err := tx.UpdateCurationOfferStatus(ctx, index, o.Root, CurationOfferStatusAccepted, updatedAt)
		if err != nil {
			return 0, err
		}
		if updated.Status != CurationOfferStatusAccepted {
			return 0, statusViolation("curation_offer", offer.Key(), string(CurationOfferStatusAccepted), string(updated.Status))
		}

		exhibit := CurationExhibit{
			Index:        index,
			Root:         o.Root,
			Chain:        chain,
			GalleryIndex: int64(data.GalleryID),
			Curator:      data.From,
			Collection:   data.Collection,
			TokenName:    data.TokenID.String(),
			Origin:       data.To,
			Price:        data.Price,
			Currency:     zeroAddress,
			Decimals:     18,
			ExpiredAt:    data.ExhibitExpiredAt.Time(),
			URL:          offer.URL,
			Detail:       offer.Detail,
			Status:       ExhibitStatusReserved,
			UpdatedAt:    updatedAt,
		}
		exhibit.ID = EntityID("curation_exhibit", exhibit.Key())

		stored, err := tx.UpsertCurationExhibit(ctx, exhibit)
		if err != nil {
			return 0, err
		}
		if stored.Status != ExhibitStatusReserved {
			return 0, statusViolation("curation_exhibit", exhibit.Key(), string(ExhibitStatusReserved), string(stored.Status))
		}

		offset, err := advanceOffset(ctx, tx, o.Stream(), ev.SequenceNumber)
		if err != nil {
			return 0, err
		}

		if _, err := tx.UpsertNotification(ctx, notification); err != nil {
			return 0, err
		}
		return offset, nil
	})
}
