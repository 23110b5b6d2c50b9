package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WorkdirProvider allocates the storage location a node with store_output
// set writes its artifacts under, returning the identifier recorded on
// Node.Workdir. Swapping providers lets a deployment move node output from
// local disk to shared/object storage without touching the engine.
type WorkdirProvider interface {
	Allocate(ctx context.Context, g *Graph, n *Node) (string, error)
}

// LocalWorkdirProvider creates one directory per task under the graph's
// Workdir, the default used when an Engine has no provider set explicitly.
type LocalWorkdirProvider struct{}

// Allocate creates root/task-<nid>-<taskid> and returns its path.
func (LocalWorkdirProvider) Allocate(ctx context.Context, g *Graph, n *Node) (string, error) {
	if g.Workdir == "" {
		return "", fmt.Errorf("workflow: node %q requests store_output but the workflow has no workdir", n.NID)
	}
	dir := filepath.Join(g.Workdir, fmt.Sprintf("task-%s-%s", n.NID, n.Session.TaskID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
