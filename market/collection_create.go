package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	indexer "github.com/shogotsuneto/go-simple-es-indexer"
)

// CollectionCreated is emitted by the multiple-collective contract.
type CollectionCreated struct {
	Root        string   `json:"root"`
	Creator     string   `json:"creator"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
	URI         string   `json:"uri"`
	Payees      []string `json:"payees"`
	Royalties   []Amount `json:"royalties"`
	Maximum     Amount   `json:"maximum"`
}

func (d *CollectionCreated) Validate() error {
	if d.Root == "" || d.Creator == "" || d.Name == "" {
		return fmt.Errorf("root, creator and name are required")
	}
	if len(d.Payees) != len(d.Royalties) {
		return fmt.Errorf("%d payees but %d royalties", len(d.Payees), len(d.Royalties))
	}
	return nil
}

// CollectionCreateObserver indexes collections keyed by (chain, creator, name).
type CollectionCreateObserver struct {
	Store   Store
	Chain   string
	Timeout time.Duration
}

func (o *CollectionCreateObserver) Stream() indexer.Kind { return StreamCollectionCreate }

func (o *CollectionCreateObserver) ProcessAll(ctx context.Context, state indexer.State, events []indexer.Event[CollectionCreated]) (indexer.State, error) {
	return indexer.Fold[CollectionCreated](ctx, o, state, events)
}

func (o *CollectionCreateObserver) Process(ctx context.Context, state indexer.State, ev indexer.Event[CollectionCreated]) (indexer.State, bool, error) {
	chain := o.Chain
	if chain == "" {
		chain = "ETHEREUM"
	}
	data := ev.Data

	royalty := make(map[string]string, len(data.Payees))
	for i, payee := range data.Payees {
		royalty[payee] = data.Royalties[i].String()
	}
	maximum := data.Maximum
	if maximum == "" {
		maximum = "0"
	}

	collection := Collection{
		ID:           data.Root,
		Chain:        chain,
		Creator:      data.Creator,
		Name:         data.Name,
		MetadataType: "IMAGE",
		Category:     data.Category,
		Tags:         strings.Join(data.Tags, ","),
		Contract:     data.Root,
		Description:  data.Description,
		URI:          data.URI,
		Maximum:      maximum,
		Supply:       "0",
		Royalty:      royalty,
		Standard:     "ERC721",
	}

	return apply(ctx, o.Store, o.Timeout, o.Stream(), state, ev, func(ctx context.Context, tx Tx) (int64, error) {
		if _, err := tx.UpsertCollection(ctx, collection); err != nil {
			return 0, err
		}
		return advanceOffset(ctx, tx, o.Stream(), ev.SequenceNumber)
	})
}
