// Package market holds the marketplace observers: tokens, offers, curation
// offers and exhibits, collections, and the notifications they imply.
//
// Every observer writes fresh field sets derived only from the event, under
// natural keys taken from the event, so replaying an event is a no-op.
// Observers depend on the Store and Tx interfaces; sqlstore implements them.
package market
