// Package sequence mints strictly increasing, never-reused work item keys
// scoped to a parent project. The per-project counter is the only contended
// shared state in the system and is protected solely by the storage layer's
// transaction isolation; no application-level lock is introduced.
package sequence

import (
	"context"
	"fmt"

	"github.com/hylla/traq/internal/domain"
	"github.com/hylla/traq/internal/storage"
)

// Allocator advances per-project counters inside storage transactions.
type Allocator struct {
	gw storage.Gateway
}

// NewAllocator constructs an allocator over the given gateway.
func NewAllocator(gw storage.Gateway) *Allocator {
	return &Allocator{gw: gw}
}

// Allocate mints the next sequence value and formatted key for the project,
// inside its own storage transaction. Callers that also persist an entity
// against the minted key should use NextInTx within one shared transaction
// instead, so key and entity commit atomically.
//
// Returns storage.ErrNotFound when the project does not exist at transaction
// time and storage.ErrContention when the gateway's retry budget is spent.
func (a *Allocator) Allocate(ctx context.Context, tenantID, projectID string) (int64, string, error) {
	var (
		seq int64
		key string
	)
	err := a.gw.RunTransaction(ctx, func(tx storage.Tx) error {
		var txErr error
		seq, key, txErr = a.NextInTx(ctx, tx, tenantID, projectID)
		return txErr
	})
	if err != nil {
		return 0, "", err
	}
	return seq, key, nil
}

// NextInTx reads the project's counter, advances it, persists the project
// back, and returns the new value plus the formatted "<PREFIX>-<N>" key, all
// against the supplied transaction handle. If the project has no key prefix
// yet, a deterministic fallback is derived from the display name and
// persisted in the same write, so every later allocation reuses it: the
// prefix must never change once a key has been minted against it.
func (a *Allocator) NextInTx(ctx context.Context, tx storage.Tx, tenantID, projectID string) (int64, string, error) {
	ref := storage.Ref{Collection: storage.CollectionProjects, ID: projectID}
	doc, err := tx.Get(ctx, ref)
	if err != nil {
		return 0, "", err
	}
	var project domain.Project
	if err := storage.Decode(doc, &project); err != nil {
		return 0, "", err
	}
	if project.TenantID != tenantID {
		return 0, "", fmt.Errorf("%w: %s", storage.ErrNotFound, ref)
	}

	if project.KeyPrefix == "" {
		project.KeyPrefix = domain.FallbackKeyPrefix(project.Name)
	}
	if !domain.ValidKeyPrefix(project.KeyPrefix) {
		return 0, "", domain.ErrInvalidKeyPrefix
	}

	project.IssueCounter++
	key := fmt.Sprintf("%s-%d", project.KeyPrefix, project.IssueCounter)

	data, err := storage.Encode(project)
	if err != nil {
		return 0, "", err
	}
	if err := tx.Put(ctx, ref, data); err != nil {
		return 0, "", err
	}
	return project.IssueCounter, key, nil
}
