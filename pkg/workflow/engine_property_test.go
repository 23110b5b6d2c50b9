//go:build property
// +build property

package workflow_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nlesc/mdstudio/pkg/workflow"
)

// TestRetryBudgetExhaustsExactlyKPlusOneAttempts checks that a node with
// retry_count k and an always-failing runner is dispatched exactly k+1
// times before landing on failed with its retry budget spent.
func TestRetryBudgetExhaustsExactlyKPlusOneAttempts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("a node retries exactly retry_count+1 times before failing", prop.ForAll(
		func(k int) bool {
			g := workflow.NewGraph(fmt.Sprintf("run-retry-%d", k))
			if err := g.AddNode(&workflow.Node{NID: "T", TaskName: "T", TaskType: "alwaysfail", RetryCount: k}); err != nil {
				return false
			}
			if err := g.AddEdge(workflow.Edge{From: g.Root, To: "T"}); err != nil {
				return false
			}

			var attempts int32
			runners := map[string]workflow.TaskRunner{
				"alwaysfail": workflow.NewFuncRunner(func(ctx context.Context, n *workflow.Node, in map[string]any) (map[string]any, error) {
					atomic.AddInt32(&attempts, 1)
					return nil, fmt.Errorf("boom")
				}),
			}

			e := workflow.NewEngine(g, runners, nil)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.Run(ctx); err != nil {
				return false
			}

			return int(atomic.LoadInt32(&attempts)) == k+1 &&
				g.Nodes["T"].Status == workflow.StatusFailed &&
				g.Nodes["T"].RetryCount == 0
		},
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

// TestEngineAlwaysTerminatesWithAllNodesInTerminalStatus checks that for a
// linear chain of arbitrary length, Run always completes and every node
// lands on completed: no task is left ready or active once Done fires.
func TestEngineAlwaysTerminatesWithAllNodesInTerminalStatus(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("every task in a linear chain reaches a terminal status and the engine terminates", prop.ForAll(
		func(n int) bool {
			g := workflow.NewGraph(fmt.Sprintf("run-chain-%d", n))
			prev := g.Root
			var ids []string
			for i := 0; i < n; i++ {
				nid := fmt.Sprintf("node-%d", i)
				ids = append(ids, nid)
				if err := g.AddNode(&workflow.Node{NID: nid, TaskName: nid, TaskType: "noop"}); err != nil {
					return false
				}
				if err := g.AddEdge(workflow.Edge{From: prev, To: nid}); err != nil {
					return false
				}
				prev = nid
			}

			runners := map[string]workflow.TaskRunner{
				"noop": workflow.NewFuncRunner(func(ctx context.Context, n *workflow.Node, in map[string]any) (map[string]any, error) {
					return map[string]any{}, nil
				}),
			}

			e := workflow.NewEngine(g, runners, nil)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.Run(ctx); err != nil {
				return false
			}

			select {
			case <-e.Done():
			default:
				return false
			}

			for _, nid := range ids {
				switch g.Nodes[nid].Status {
				case workflow.StatusCompleted, workflow.StatusFailed, workflow.StatusAborted, workflow.StatusDisabled:
				default:
					return false
				}
				if g.Nodes[nid].Active {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}
