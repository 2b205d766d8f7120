// Package storage defines the transactional document-store port the rest of
// the system is written against. The store is treated as an opaque external
// capability: point reads, point writes, single-equality-predicate scans, and
// atomic read-modify-write transactions with retry-on-conflict.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names shared by every component that touches the document store.
const (
	CollectionProjects      = "projects"
	CollectionWorkItems     = "work_items"
	CollectionActivity      = "activity"
	CollectionNotifications = "notifications"
)

// ErrNotFound and ErrContention are the gateway's typed failures.
var (
	ErrNotFound   = errors.New("document not found")
	ErrContention = errors.New("transaction contention")
)

// Ref addresses one document inside a collection.
type Ref struct {
	Collection string
	ID         string
}

// String renders the ref for logs and error wrapping.
func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Document is one decoded document body plus its address.
type Document struct {
	Ref  Ref
	Data map[string]any
}

// Reader provides point reads.
type Reader interface {
	Get(ctx context.Context, ref Ref) (Document, error)
}

// Writer provides point writes and deletes.
type Writer interface {
	Put(ctx context.Context, ref Ref, data map[string]any) error
	Delete(ctx context.Context, ref Ref) error
}

// Tx is the transactional read/write handle passed to RunTransaction callbacks.
// Reads observe a consistent snapshot; writes commit atomically or not at all.
type Tx interface {
	Reader
	Writer
}

// Gateway is the full document-store capability.
//
// Scan supports exactly one equality predicate per call; anything richer is
// composed client-side (see internal/query). RunTransaction retries the whole
// callback a bounded number of times on write conflict and surfaces
// ErrContention once the budget is exhausted, so callbacks must be idempotent
// up to their writes.
type Gateway interface {
	Reader
	Writer
	Scan(ctx context.Context, collection, field string, value any) ([]Document, error)
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Encode round-trips a typed value through JSON into a document body so that
// persisted field names always match the struct's json tags, which are the
// names scans and fan-in predicates address.
func Encode(src any) (map[string]any, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Decode unmarshals a document body into a typed destination.
func Decode(doc Document, dest any) error {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", doc.Ref, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", doc.Ref, err)
	}
	return nil
}
