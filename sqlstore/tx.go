package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
	"github.com/shogotsuneto/go-simple-es-indexer/market"
)

// tx implements market.Tx on a single *sql.Tx.
type tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// upsertSQL builds an INSERT that overwrites every non-key column on conflict
// with the natural key.
func upsertSQL(table string, key, cols []string, returning string) string {
	all := append(append([]string{}, key...), cols...)
	set := make([]string, len(cols))
	for i, c := range cols {
		set[i] = c + " = excluded." + c
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING %s",
		table,
		strings.Join(all, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", "),
		strings.Join(key, ", "),
		strings.Join(set, ", "),
		returning,
	)
}

var (
	upsertTokenSQL = upsertSQL("tokens",
		[]string{"creator", "collection", "name"},
		[]string{"id", "collection_id", "property_version", "description", "uri", "maximum"},
		"id")
	upsertOfferSQL = upsertSQL("offers",
		[]string{"token_id", "offerer", "opened_at"},
		[]string{"id", "collection_id", "price", "quantity", "currency", "ended_at", "status"},
		"id, status")
	upsertCurationOfferSQL = upsertSQL("curation_offers",
		[]string{"offer_index", "root"},
		[]string{"id", "gallery_index", "collection", "token_name", "token_creator", "property_version",
			"source", "destination", "price", "commission_fee_rate", "offer_start_at", "offer_expired_at",
			"exhibit_duration", "status", "updated_at", "url", "detail"},
		"id, status")
	upsertCurationExhibitSQL = upsertSQL("curation_exhibits",
		[]string{"exhibit_index", "root"},
		[]string{"id", "chain", "gallery_index", "curator", "collection", "token_creator", "token_name",
			"property_version", "origin", "price", "currency", "decimals", "expired_at", "location",
			"url", "detail", "status", "updated_at"},
		"id, status")
	upsertCollectionSQL = upsertSQL("collections",
		[]string{"chain", "creator", "name"},
		[]string{"id", "metadata_type", "category", "tags", "contract", "description", "uri",
			"maximum", "supply", "royalty", "standard"},
		"id")
	upsertNotificationSQL = upsertSQL("notifications",
		[]string{"receiver", "type", "notified_at"},
		[]string{"id", "title", "content", "image", "unread", "detail"},
		"id")
)

const (
	findTokenSQL = `SELECT id, collection_id, property_version, description, uri, maximum
		FROM tokens WHERE creator = ? AND collection = ? AND name = ?`
	findCurationOfferSQL = `SELECT id, gallery_index, collection, token_name, token_creator, property_version,
		source, destination, price, commission_fee_rate, offer_start_at, offer_expired_at,
		exhibit_duration, status, updated_at, url, detail
		FROM curation_offers WHERE offer_index = ? AND root = ?`
	updateCurationOfferStatusSQL = `UPDATE curation_offers SET status = ?, updated_at = ?
		WHERE offer_index = ? AND root = ? RETURNING id, status`
	updateOffsetSQL = `UPDATE event_offsets SET executed_offset = ?
		WHERE stream = ? AND executed_offset <= ? RETURNING executed_offset`
	findOffsetSQL = `SELECT executed_offset FROM event_offsets WHERE stream = ?`
)

func (t *tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

func (t *tx) FindToken(ctx context.Context, id market.TokenDataID) (market.Token, error) {
	tok := market.Token{TokenDataID: id}
	var maximum string
	err := t.queryRow(ctx, findTokenSQL, id.Creator, id.Collection, id.Name).
		Scan(&tok.ID, &tok.CollectionID, &tok.PropertyVersion, &tok.Description, &tok.URI, &maximum)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Token{}, &indexer.NotFoundError{Entity: "token", Key: id.String()}
	}
	if err != nil {
		return market.Token{}, fmt.Errorf("failed to find token: %w", err)
	}
	tok.Maximum = market.Amount(maximum)
	return tok, nil
}

func (t *tx) UpsertToken(ctx context.Context, tok market.Token) (market.Token, error) {
	id := tok.TokenDataID
	err := t.queryRow(ctx, upsertTokenSQL,
		id.Creator, id.Collection, id.Name,
		tok.ID, tok.CollectionID, tok.PropertyVersion, tok.Description, tok.URI, tok.Maximum.String(),
	).Scan(&tok.ID)
	if err != nil {
		return market.Token{}, fmt.Errorf("failed to upsert token: %w", err)
	}
	return tok, nil
}

func (t *tx) UpsertOffer(ctx context.Context, o market.Offer) (market.Offer, error) {
	var status string
	err := t.queryRow(ctx, upsertOfferSQL,
		o.TokenID, o.Offerer, o.OpenedAt.UTC(),
		o.ID, o.CollectionID, o.Price.String(), o.Quantity, o.Currency, o.EndedAt.UTC(), string(o.Status),
	).Scan(&o.ID, &status)
	if err != nil {
		return market.Offer{}, fmt.Errorf("failed to upsert offer: %w", err)
	}
	o.Status = market.OfferStatus(status)
	return o, nil
}

func (t *tx) UpsertCurationOffer(ctx context.Context, o market.CurationOffer) (market.CurationOffer, error) {
	var status string
	err := t.queryRow(ctx, upsertCurationOfferSQL,
		o.Index, o.Root,
		o.ID, o.GalleryIndex, o.Collection, o.TokenName, o.TokenCreator, o.PropertyVersion,
		o.Source, o.Destination, o.Price.String(), o.CommissionFeeRate.String(), o.OfferStartAt.UTC(), o.OfferExpiredAt.UTC(),
		o.ExhibitDuration, string(o.Status), o.UpdatedAt.UTC(), o.URL, o.Detail,
	).Scan(&o.ID, &status)
	if err != nil {
		return market.CurationOffer{}, fmt.Errorf("failed to upsert curation offer: %w", err)
	}
	o.Status = market.CurationOfferStatus(status)
	return o, nil
}

func (t *tx) FindCurationOffer(ctx context.Context, index int64, root string) (market.CurationOffer, error) {
	o := market.CurationOffer{Index: index, Root: root}
	var price, rate, status string
	err := t.queryRow(ctx, findCurationOfferSQL, index, root).Scan(
		&o.ID, &o.GalleryIndex, &o.Collection, &o.TokenName, &o.TokenCreator, &o.PropertyVersion,
		&o.Source, &o.Destination, &price, &rate, &o.OfferStartAt, &o.OfferExpiredAt,
		&o.ExhibitDuration, &status, &o.UpdatedAt, &o.URL, &o.Detail,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return market.CurationOffer{}, &indexer.NotFoundError{Entity: "curation_offer", Key: o.Key()}
	}
	if err != nil {
		return market.CurationOffer{}, fmt.Errorf("failed to find curation offer: %w", err)
	}
	o.Price = market.Amount(price)
	o.CommissionFeeRate = market.Amount(rate)
	o.Status = market.CurationOfferStatus(status)
	return o, nil
}

func (t *tx) UpdateCurationOfferStatus(ctx context.Context, index int64, root string, status market.CurationOfferStatus, updatedAt time.Time) (market.CurationOffer, error) {
	o := market.CurationOffer{Index: index, Root: root}
	var stored string
	err := t.queryRow(ctx, updateCurationOfferStatusSQL, string(status), updatedAt.UTC(), index, root).Scan(&o.ID, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return market.CurationOffer{}, &indexer.NotFoundError{Entity: "curation_offer", Key: o.Key()}
	}
	if err != nil {
		return market.CurationOffer{}, fmt.Errorf("failed to update curation offer status: %w", err)
	}
	o.Status = market.CurationOfferStatus(stored)
	o.UpdatedAt = updatedAt
	return o, nil
}

func (t *tx) UpsertCurationExhibit(ctx context.Context, e market.CurationExhibit) (market.CurationExhibit, error) {
	var status string
	err := t.queryRow(ctx, upsertCurationExhibitSQL,
		e.Index, e.Root,
		e.ID, e.Chain, e.GalleryIndex, e.Curator, e.Collection, e.TokenCreator, e.TokenName,
		e.PropertyVersion, e.Origin, e.Price.String(), e.Currency, e.Decimals, e.ExpiredAt.UTC(), e.Location,
		e.URL, e.Detail, string(e.Status), e.UpdatedAt.UTC(),
	).Scan(&e.ID, &status)
	if err != nil {
		return market.CurationExhibit{}, fmt.Errorf("failed to upsert curation exhibit: %w", err)
	}
	e.Status = market.ExhibitStatus(status)
	return e, nil
}

func (t *tx) UpsertCollection(ctx context.Context, c market.Collection) (market.Collection, error) {
	royalty, err := json.Marshal(c.Royalty)
	if err != nil {
		return market.Collection{}, fmt.Errorf("failed to marshal royalty: %w", err)
	}
	err = t.queryRow(ctx, upsertCollectionSQL,
		c.Chain, c.Creator, c.Name,
		c.ID, c.MetadataType, c.Category, c.Tags, c.Contract, c.Description, c.URI,
		c.Maximum.String(), c.Supply.String(), string(royalty), c.Standard,
	).Scan(&c.ID)
	if err != nil {
		return market.Collection{}, fmt.Errorf("failed to upsert collection: %w", err)
	}
	return c, nil
}

func (t *tx) UpsertNotification(ctx context.Context, n market.Notification) (market.Notification, error) {
	err := t.queryRow(ctx, upsertNotificationSQL,
		n.Receiver, string(n.Type), n.Timestamp.UTC(),
		n.ID, n.Title, n.Content, n.Image, n.Unread, n.Detail,
	).Scan(&n.ID)
	if err != nil {
		return market.Notification{}, fmt.Errorf("failed to upsert notification: %w", err)
	}
	return n, nil
}

// UpdateOffset sets the stream's offset row and returns the stored value.
// The row must have been seeded by Migrate or EnsureStreams. It never moves
// backwards: when the row is already past seq it is returned unchanged.
func (t *tx) UpdateOffset(ctx context.Context, stream indexer.Kind, seq int64) (int64, error) {
	var got int64
	err := t.queryRow(ctx, updateOffsetSQL, seq, string(stream), seq).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		err = t.queryRow(ctx, findOffsetSQL, string(stream)).Scan(&got)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, &indexer.NotFoundError{Entity: "event_offset", Key: string(stream)}
		}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update offset of %s to %d: %w", stream, seq, err)
	}
	return got, nil
}
