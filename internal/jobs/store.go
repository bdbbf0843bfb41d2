package jobs

import "context"

// Store persists job handles keyed by (table id, period) so that repeated runs
// reuse server-side jobs instead of submitting them again.
type Store interface {
	// Get returns the cached handle unless the entry is absent or already data_loaded.
	Get(ctx context.Context, key Key) (jobID string, ok bool, err error)
	// Save registers a freshly submitted job with status created, replacing any previous entry.
	Save(ctx context.Context, key Key, jobID string) error
	// UpdateStatus moves an existing entry to status. Missing keys are a silent no-op.
	UpdateStatus(ctx context.Context, key Key, status Status) error
	// Clear removes the entry and reports whether one existed.
	Clear(ctx context.Context, key Key) (bool, error)
	// AddExisting registers a handle obtained outside this client.
	AddExisting(ctx context.Context, key Key, jobID string, status Status) error
	// Put writes entry verbatim. Used when migrating cache files between backends.
	Put(ctx context.Context, entry Entry) error
	// List returns every entry by storage key.
	List(ctx context.Context) (map[string]Entry, error)
}

func MarkRetrieved(ctx context.Context, s Store, key Key) error {
	return s.UpdateStatus(ctx, key, StatusRetrieved)
}

func MarkLoaded(ctx context.Context, s Store, key Key) error {
	return s.UpdateStatus(ctx, key, StatusLoaded)
}

func MarkFailed(ctx context.Context, s Store, key Key) error {
	return s.UpdateStatus(ctx, key, StatusFailed)
}
