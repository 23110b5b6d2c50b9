package workflow

import (
	"context"
	"database/sql"

	"github.com/nlesc/mdstudio/pkg/dbstore"
)

// CollectionSnapshotter persists Graph snapshots through the generic
// dbstore.Collection, one row per workflow run, into the "cerise"
// collection — named, like the source platform's, for workflow-job
// tracking rather than for any of the domain collections (users, clients,
// schemas) it sits alongside.
type CollectionSnapshotter struct {
	runs *dbstore.Collection[Graph]
}

// NewCollectionSnapshotter wraps an already-open *sql.DB.
func NewCollectionSnapshotter(db *sql.DB, driver dbstore.Driver) *CollectionSnapshotter {
	return &CollectionSnapshotter{runs: dbstore.NewCollection[Graph](db, driver, "cerise")}
}

// EnsureSchema creates the backing table if it does not already exist.
func (c *CollectionSnapshotter) EnsureSchema(ctx context.Context) error {
	return c.runs.EnsureSchema(ctx)
}

// Save persists g under its RunID, overwriting any prior snapshot.
func (c *CollectionSnapshotter) Save(ctx context.Context, g *Graph) error {
	return c.runs.Put(ctx, g.RunID, *g)
}

// Load fetches the most recently saved snapshot for runID, for resuming a
// workflow: re-entering Run skips every node already in a terminal status
// and treats it as having produced its stored output.
func (c *CollectionSnapshotter) Load(ctx context.Context, runID string) (*Graph, error) {
	g, err := c.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
