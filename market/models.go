package market

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OfferStatus string

// Only OfferStatusCreated is written by this package; the rest belong to other streams.
const (
	OfferStatusCreated   OfferStatus = "CREATED"
	OfferStatusFulfilled OfferStatus = "FULFILLED"
	OfferStatusCancelled OfferStatus = "CANCELLED"
	OfferStatusExpired   OfferStatus = "EXPIRED"
)

type CurationOfferStatus string

const (
	CurationOfferStatusPending  CurationOfferStatus = "pending"
	CurationOfferStatusAccepted CurationOfferStatus = "accepted"
)

type ExhibitStatus string

const ExhibitStatusReserved ExhibitStatus = "reserved"

type NotificationType string

const (
	NotificationCurationOfferReceived NotificationType = "CurationOfferReceivedFromInviter"
	NotificationCurationOfferAccepted NotificationType = "CurationOfferAccepted"
)

// TokenDataID names a token by its creator, collection and name.
type TokenDataID struct {
	Creator    string `json:"creator"`
	Collection string `json:"collection"`
	Name       string `json:"name"`
}

func (id TokenDataID) String() string {
	return id.Creator + "::" + id.Collection + "::" + id.Name
}

// TokenID is the compound on-chain token identity.
type TokenID struct {
	TokenDataID     TokenDataID `json:"token_data_id"`
	PropertyVersion Quantity    `json:"property_version"`
}

// CoinTypeInfo identifies the coin an offer is priced in.
type CoinTypeInfo struct {
	AccountAddress string `json:"account_address"`
	ModuleName     string `json:"module_name"`
	StructName     string `json:"struct_name"`
}

// Currency renders the coin type as address::module::struct.
// Module and struct names may arrive hex encoded.
func (c CoinTypeInfo) Currency() string {
	return c.AccountAddress + "::" + unhex(c.ModuleName) + "::" + unhex(c.StructName)
}

func unhex(s string) string {
	if !strings.HasPrefix(s, "0x") {
		return s
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return s
	}
	return string(b)
}

// Token is an indexed token; the parent of offers.
type Token struct {
	ID              string
	CollectionID    string
	TokenDataID     TokenDataID
	PropertyVersion int64
	Description     string
	URI             string
	Maximum         Amount
}

type Offer struct {
	ID           string
	CollectionID string
	TokenID      string
	Offerer      string
	Price        Amount
	Quantity     int64
	Currency     string
	OpenedAt     time.Time
	EndedAt      time.Time
	Status       OfferStatus
}

func (o Offer) Key() string {
	return o.TokenID + "/" + o.Offerer + "/" + strconv.FormatInt(o.OpenedAt.UnixMicro(), 10)
}

type CurationOffer struct {
	ID                string
	Index             int64
	Root              string
	GalleryIndex      int64
	Collection        string
	TokenName         string
	TokenCreator      string
	PropertyVersion   int64
	Source            string
	Destination       string
	Price             Amount
	CommissionFeeRate Amount
	OfferStartAt      time.Time
	OfferExpiredAt    time.Time
	ExhibitDuration   int64
	Status            CurationOfferStatus
	UpdatedAt         time.Time
	URL               string
	Detail            string
}

func (o CurationOffer) Key() string { return curationKey(o.Index, o.Root) }

type CurationExhibit struct {
	ID              string
	Index           int64
	Root            string
	Chain           string
	GalleryIndex    int64
	Curator         string
	Collection      string
	TokenCreator    string
	TokenName       string
	PropertyVersion int64
	Origin          string
	Price           Amount
	Currency        string
	Decimals        int
	ExpiredAt       time.Time
	Location        string
	URL             string
	Detail          string
	Status          ExhibitStatus
	UpdatedAt       time.Time
}

func (e CurationExhibit) Key() string { return curationKey(e.Index, e.Root) }

type Collection struct {
	ID           string
	Chain        string
	Creator      string
	Name         string
	MetadataType string
	Category     string
	Tags         string
	Contract     string
	Description  string
	URI          string
	Maximum      Amount
	Supply       Amount
	Royalty      map[string]string
	Standard     string
}

func (c Collection) Key() string { return c.Chain + "/" + c.Creator + "/" + c.Name }

// Notification is written alongside the entity that implies it and is keyed
// by receiver, type and timestamp so a redelivered event does not duplicate it.
type Notification struct {
	ID        string
	Receiver  string
	Type      NotificationType
	Timestamp time.Time
	Title     string
	Content   string
	Image     string
	Unread    bool
	Detail    string
}

func (n Notification) Key() string {
	return n.Receiver + "/" + string(n.Type) + "/" + strconv.FormatInt(n.Timestamp.UnixMicro(), 10)
}

func curationKey(index int64, root string) string {
	return strconv.FormatInt(index, 10) + "/" + root
}

// EntityID derives a stable row id from an entity name and its natural key,
// so a replayed event writes an identical row.
func EntityID(entity string, key ...string) string {
	name := entity + "\x00" + strings.Join(key, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
