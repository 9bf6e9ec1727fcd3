package kv

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
)

// IndexStore maps a job id to the key of its record in the jobs bucket.
type IndexStore struct {
	store *Store
}

// NewIndexStore creates a new IndexStore.
func NewIndexStore(kv jetstream.KeyValue) *IndexStore {
	return &IndexStore{store: NewStore(kv)}
}

// Claim records id -> key. It returns the key already recorded for id when
// the entry exists, or "" when this call created it.
func (x *IndexStore) Claim(ctx context.Context, id, key string) (string, error) {
	_, err := x.store.Create(ctx, id, []byte(key))
	if err != nil {
		if IsConflict(err) {
			data, _, getErr := x.store.Get(ctx, id)
			if getErr != nil {
				return "", getErr
			}
			return string(data), nil
		}
		return "", err
	}
	return "", nil
}

// Lookup returns the record key of id.
func (x *IndexStore) Lookup(ctx context.Context, id string) (string, error) {
	data, _, err := x.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Release removes the entry for id.
func (x *IndexStore) Release(ctx context.Context, id string) error {
	return x.store.Delete(ctx, id)
}

// Set overwrites the entry for id.
func (x *IndexStore) Set(ctx context.Context, id, key string) error {
	_, err := x.store.Put(ctx, id, []byte(key))
	return err
}
