package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nlesc/mdstudio/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	bytes []byte
	err   error
}

func (r stubResolver) Resolve(ctx context.Context, name string) ([]byte, error) {
	return r.bytes, r.err
}

func TestWASMRunner_RunPropagatesResolverError(t *testing.T) {
	resolveErr := errors.New("module not found")
	r, err := workflow.NewWASMRunner(context.Background(), stubResolver{err: resolveErr})
	require.NoError(t, err)
	defer r.Close(context.Background())

	_, err = r.Run(context.Background(), &workflow.Node{NID: "T", CustomFunc: "missing.module"}, map[string]any{})
	assert.ErrorIs(t, err, resolveErr)
}

func TestWASMRunner_RunRejectsInvalidModule(t *testing.T) {
	r, err := workflow.NewWASMRunner(context.Background(), stubResolver{bytes: []byte("not a wasm module")})
	require.NoError(t, err)
	defer r.Close(context.Background())

	_, err = r.Run(context.Background(), &workflow.Node{NID: "T", CustomFunc: "broken.module"}, map[string]any{})
	assert.Error(t, err)
}
