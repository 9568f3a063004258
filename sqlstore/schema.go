package sqlstore

import (
	"context"
	"fmt"
	"strings"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
)

// schema is written once for both dialects; column types that differ are
// filled in by Dialect.types.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS event_offsets (
		stream TEXT PRIMARY KEY,
		executed_offset BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS consumer_cursors (
		name TEXT PRIMARY KEY,
		cursor_value {{bytes}} NOT NULL,
		updated_at {{time}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		collection_id TEXT NOT NULL,
		creator TEXT NOT NULL,
		collection TEXT NOT NULL,
		name TEXT NOT NULL,
		property_version BIGINT NOT NULL,
		description TEXT NOT NULL,
		uri TEXT NOT NULL,
		maximum {{amount}} NOT NULL,
		UNIQUE (creator, collection, name)
	)`,
	`CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		collection_id TEXT NOT NULL,
		token_id TEXT NOT NULL,
		offerer TEXT NOT NULL,
		price {{amount}} NOT NULL,
		quantity BIGINT NOT NULL,
		currency TEXT NOT NULL,
		opened_at {{time}} NOT NULL,
		ended_at {{time}} NOT NULL,
		status TEXT NOT NULL,
		UNIQUE (token_id, offerer, opened_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_offers_offerer ON offers(offerer)`,
	`CREATE TABLE IF NOT EXISTS curation_offers (
		id TEXT PRIMARY KEY,
		offer_index BIGINT NOT NULL,
		root TEXT NOT NULL,
		gallery_index BIGINT NOT NULL,
		collection TEXT NOT NULL,
		token_name TEXT NOT NULL,
		token_creator TEXT NOT NULL,
		property_version BIGINT NOT NULL,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		price {{amount}} NOT NULL,
		commission_fee_rate {{amount}} NOT NULL,
		offer_start_at {{time}} NOT NULL,
		offer_expired_at {{time}} NOT NULL,
		exhibit_duration BIGINT NOT NULL,
		status TEXT NOT NULL,
		updated_at {{time}} NOT NULL,
		url TEXT NOT NULL,
		detail TEXT NOT NULL,
		UNIQUE (offer_index, root)
	)`,
	`CREATE TABLE IF NOT EXISTS curation_exhibits (
		id TEXT PRIMARY KEY,
		exhibit_index BIGINT NOT NULL,
		root TEXT NOT NULL,
		chain TEXT NOT NULL,
		gallery_index BIGINT NOT NULL,
		curator TEXT NOT NULL,
		collection TEXT NOT NULL,
		token_creator TEXT NOT NULL,
		token_name TEXT NOT NULL,
		property_version BIGINT NOT NULL,
		origin TEXT NOT NULL,
		price {{amount}} NOT NULL,
		currency TEXT NOT NULL,
		decimals INTEGER NOT NULL,
		expired_at {{time}} NOT NULL,
		location TEXT NOT NULL,
		url TEXT NOT NULL,
		detail TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at {{time}} NOT NULL,
		UNIQUE (exhibit_index, root)
	)`,
	`CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		chain TEXT NOT NULL,
		creator TEXT NOT NULL,
		name TEXT NOT NULL,
		metadata_type TEXT NOT NULL,
		category TEXT NOT NULL,
		tags TEXT NOT NULL,
		contract TEXT NOT NULL,
		description TEXT NOT NULL,
		uri TEXT NOT NULL,
		maximum {{amount}} NOT NULL,
		supply {{amount}} NOT NULL,
		royalty TEXT NOT NULL,
		standard TEXT NOT NULL,
		UNIQUE (chain, creator, name)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		receiver TEXT NOT NULL,
		type TEXT NOT NULL,
		notified_at {{time}} NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		image TEXT NOT NULL,
		unread BOOLEAN NOT NULL,
		detail TEXT NOT NULL,
		UNIQUE (receiver, type, notified_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_receiver ON notifications(receiver)`,
}

// Migrate creates the tables and seeds an offset row for every stream.
// It is safe to run repeatedly; existing offsets are left untouched.
func (s *Store) Migrate(ctx context.Context, streams ...indexer.Kind) error {
	r := s.dialect.types()
	for _, query := range schema {
		query = r.Replace(query)
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query %q: %w", firstLine(query), err)
		}
	}
	return s.EnsureStreams(ctx, streams...)
}

func firstLine(q string) string {
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		return strings.TrimSpace(q[:i])
	}
	return q
}
