package workflow_test

import (
	"context"
	"testing"

	"github.com/nlesc/mdstudio/pkg/dbstore"
	"github.com/nlesc/mdstudio/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionSnapshotter_SaveLoadRoundTrip(t *testing.T) {
	db, err := dbstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	snap := workflow.NewCollectionSnapshotter(db, dbstore.DriverSQLite)
	require.NoError(t, snap.EnsureSchema(ctx))

	g := workflow.NewGraph("run-1")
	require.NoError(t, g.AddNode(&workflow.Node{NID: "A", TaskName: "A", TaskType: "noop", Status: workflow.StatusCompleted, OutputData: map[string]any{"x": float64(1)}}))
	require.NoError(t, g.AddEdge(workflow.Edge{From: g.Root, To: "A"}))

	require.NoError(t, snap.Save(ctx, g))

	loaded, err := snap.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, workflow.StatusCompleted, loaded.Nodes["A"].Status)
	assert.Equal(t, float64(1), loaded.Nodes["A"].OutputData["x"])
	assert.Len(t, loaded.Edges, 1)
}

func TestCollectionSnapshotter_LoadUnknownRunErrors(t *testing.T) {
	db, err := dbstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	snap := workflow.NewCollectionSnapshotter(db, dbstore.DriverSQLite)
	require.NoError(t, snap.EnsureSchema(ctx))

	_, err = snap.Load(ctx, "does-not-exist")
	assert.Error(t, err)
}

// TestEngine_ResumesSkippingCompletedNodes covers reloading a persisted
// graph where one node already completed: Run must not redispatch it and
// must still drive its not-yet-started children to completion.
func TestEngine_ResumesSkippingCompletedNodes(t *testing.T) {
	db, err := dbstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	snap := workflow.NewCollectionSnapshotter(db, dbstore.DriverSQLite)
	require.NoError(t, snap.EnsureSchema(ctx))

	g := workflow.NewGraph("run-resume")
	require.NoError(t, g.AddNode(&workflow.Node{NID: "A", TaskName: "A", TaskType: "noop", Status: workflow.StatusCompleted, OutputData: map[string]any{"x": float64(9)}}))
	require.NoError(t, g.AddNode(&workflow.Node{NID: "B", TaskName: "B", TaskType: "capture"}))
	require.NoError(t, g.AddEdge(workflow.Edge{From: g.Root, To: "A"}))
	require.NoError(t, g.AddEdge(workflow.Edge{From: "A", To: "B"}))
	require.NoError(t, snap.Save(ctx, g))

	loaded, err := snap.Load(ctx, "run-resume")
	require.NoError(t, err)

	aDispatched := false
	var captured map[string]any
	runners := map[string]workflow.TaskRunner{
		"noop": workflow.NewFuncRunner(func(ctx context.Context, n *workflow.Node, in map[string]any) (map[string]any, error) {
			aDispatched = true
			return map[string]any{}, nil
		}),
		"capture": workflow.NewFuncRunner(func(ctx context.Context, n *workflow.Node, in map[string]any) (map[string]any, error) {
			captured = in
			return map[string]any{}, nil
		}),
	}

	e := workflow.NewEngine(loaded, runners, snap)
	require.NoError(t, e.Run(ctx))

	assert.False(t, aDispatched, "already-completed node must not be redispatched")
	assert.Equal(t, map[string]any{"x": float64(9)}, captured)
}
