// Package leadloader batches lead lookups issued while rendering import rows.
package leadloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

type LeadLoader struct {
	Loader      *dataloader.Loader
	workspaceID uuid.UUID
}

// NewLeadLoader builds a loader scoped to one workspace. Keys are lead ids in string form.
func NewLeadLoader(repo repository.LeadRepository, workspaceID uuid.UUID) *LeadLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				results := make([]*dataloader.Result, len(keys))
				for j := range results {
					results[j] = &dataloader.Result{Error: fmt.Errorf("invalid UUID: %w", err)}
				}
				return results
			}
			ids[i] = id
		}

		leads, err := repo.GetByIDs(ctx, workspaceID, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		leadMap := make(map[uuid.UUID]domain.Lead, len(leads))
		for _, l := range leads {
			leadMap[l.ID] = l
		}

		// Results must line up with keys.
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if l, ok := leadMap[id]; ok {
				results[i] = &dataloader.Result{Data: l}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(2*time.Millisecond))
	return &LeadLoader{Loader: loader, workspaceID: workspaceID}
}

// WorkspaceID returns the workspace the loader reads from.
func (l *LeadLoader) WorkspaceID() uuid.UUID {
	return l.workspaceID
}

// LoadMany resolves ids in one batch. Ids that do not exist are absent from the result.
func (l *LeadLoader) LoadMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Lead, error) {
	out := make(map[uuid.UUID]domain.Lead, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}
	values, errs := l.Loader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	for _, v := range values {
		if lead, ok := v.(domain.Lead); ok {
			out[lead.ID] = lead
		}
	}
	return out, nil
}

type ctxKey string

const leadLoaderKey ctxKey = "leadLoader"

// WithContext stores the loader on ctx.
func WithContext(ctx context.Context, l *LeadLoader) context.Context {
	return context.WithValue(ctx, leadLoaderKey, l)
}

// FromContext retrieves the request loader, if one was attached.
func FromContext(ctx context.Context) *LeadLoader {
	if l, ok := ctx.Value(leadLoaderKey).(*LeadLoader); ok {
		return l
	}
	return nil
}
