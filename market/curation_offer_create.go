package market

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
)

// CurationOfferCreated is emitted when a curator invites a token owner to
// exhibit in a gallery. Timestamps are in seconds.
type CurationOfferCreated struct {
	ID                         Quantity `json:"id"`
	GalleryID                  Quantity `json:"gallery_id"`
	TokenID                    TokenID  `json:"token_id"`
	Source                     string   `json:"source"`
	Destination                string   `json:"destination"`
	Price                      Amount   `json:"price"`
	CommissionFeerateNumerator Quantity `json:"commission_feerate_numerator"`
	CommissionFeerateDenom     Quantity `json:"commission_feerate_denominator"`
	OfferStartAt               Seconds  `json:"offer_start_at"`
	OfferExpiredAt             Seconds  `json:"offer_expired_at"`
	ExhibitDuration            Quantity `json:"exhibit_duration"`
	URL                        string   `json:"url"`
	Detail                     string   `json:"detail"`
}

func (d *CurationOfferCreated) Validate() error {
	if d.Destination == "" {
		return errors.New("destination is required")
	}
	if d.CommissionFeerateDenom == 0 {
		return errors.New("commission_feerate_denominator must not be zero")
	}
	if d.Price == "" {
		return errors.New("price is required")
	}
	return nil
}

// CurationOfferCreateObserver indexes curation offers keyed by (index, root)
// and notifies the invited owner.
type CurationOfferCreateObserver struct {
	Store   Store
	Root    string
	Timeout time.Duration
}

func (o *CurationOfferCreateObserver) Stream() indexer.Kind { return StreamCurationOfferCreate }

func (o *CurationOfferCreateObserver) ProcessAll(ctx context.Context, state indexer.State, events []indexer.Event[CurationOfferCreated]) (indexer.State, error) {
	return indexer.Fold[CurationOfferCreated](ctx, o, state, events)
}

func (o *CurationOfferCreateObserver) Process(ctx context.Context, state indexer.State, ev indexer.Event[CurationOfferCreated]) (indexer.State, bool, error) {
	if o.Root == "" {
		return state, false, errors.New("curation root is not configured")
	}
	data := ev.Data

	rate, err := FeeRate(data.CommissionFeerateNumerator, data.CommissionFeerateDenom)
	if err != nil {
		return state, false, indexer.Annotate(err, o.Stream(), ev.SequenceNumber, data)
	}

	startAt := data.OfferStartAt.Time()
	offer := CurationOffer{
		Index:             int64(data.ID),
		Root:              o.Root,
		GalleryIndex:      int64(data.GalleryID),
		Collection:        data.TokenID.TokenDataID.Collection,
		TokenName:         data.TokenID.TokenDataID.Name,
		TokenCreator:      data.TokenID.TokenDataID.Creator,
		PropertyVersion:   int64(data.TokenID.PropertyVersion),
		Source:            data.Source,
		Destination:       data.Destination,
		Price:             data.Price,
		CommissionFeeRate: rate,
		OfferStartAt:      startAt,
		OfferExpiredAt:    data.OfferExpiredAt.Time(),
		ExhibitDuration:   int64(data.ExhibitDuration),
		Status:            CurationOfferStatusPending,
		UpdatedAt:         startAt,
		URL:               data.URL,
		Detail:            data.Detail,
	}
	offer.ID = EntityID("curation_offer", offer.Key())

	detail, err := json.Marshal(struct {
		Index int64  `json:"index"`
		Root  string `json:"root"`
	}{offer.GalleryIndex, offer.Root})
	if err != nil {
		return state, false, err
	}
	notification := Notification{
		Receiver:  data.Destination,
		Type:      NotificationCurationOfferReceived,
		Timestamp: startAt,
		Title:     "You have received an offer",
		Content:   "From Mixverse",
		Unread:    true,
		Detail:    string(detail),
	}
	notification.ID = EntityID("notification", notification.Key())

	return apply(ctx, o.Store, o.Timeout, o.Stream(), state, ev, func(ctx context.Context, tx Tx) (int64, error) {
		stored, err := tx.UpsertCurationOffer(ctx, offer)
		if err != nil {
			return 0, err
		}
		if stored.Status != CurationOfferStatusPending {
			return 0, statusViolation("curation_offer", offer.Key(), string(CurationOfferStatusPending), string(stored.Status))
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
