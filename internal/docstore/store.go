// Package docstore is the document store the lease and checkpoint records live in.
// Every backend offers plain reads and writes plus a transaction in which reads and
// the writes that depend on them commit together or not at all.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	appErrors "github.com/unclebandit/weekly-plan-dispatcher/internal/errors"
)

// Collections used by the dispatcher
const (
	CollectionLeases    = "leases"
	CollectionCampaigns = "campaigns"
)

// Reader and Writer are shared by stores and transactions
type Reader interface {
	Get(ctx context.Context, collection, id string, dst any) error
}

type Writer interface {
	Set(ctx context.Context, collection, id string, doc any, opts ...SetOption) error
	Delete(ctx context.Context, collection, id string) error
}

// Tx is handed to RunTransaction callbacks. Writes are only visible to other
// callers once the callback returns nil and the commit succeeds.
type Tx interface {
	Reader
	Writer
}

type Store interface {
	Reader
	Writer
	// RunTransaction fails with ErrConflict when a document read inside fn was
	// created or changed by someone else before commit.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

type setOptions struct {
	merge bool
}

type SetOption func(*setOptions)

// WithMerge overlays the top-level fields of doc onto the stored document
func WithMerge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

func collectOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// encodeDoc produces the body to store for doc, merging into existing when asked
func encodeDoc(existing []byte, found bool, doc any, o setOptions) ([]byte, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if !o.merge || !found {
		return body, nil
	}

	base := map[string]json.RawMessage{}
	if err := json.Unmarshal(existing, &base); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	patch := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &patch); err != nil {
		return nil, fmt.Errorf("merge requires an object document: %w", err)
	}
	for k, v := range patch {
		base[k] = v
	}
	return json.Marshal(base)
}

func decodeDoc(body []byte, dst any) error {
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

func notFound(collection, id string) error {
	return fmt.Errorf("%s/%s: %w", collection, id, appErrors.ErrNotFound)
}
