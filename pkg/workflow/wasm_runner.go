package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// ModuleResolver resolves a node's CustomFunc into a compiled WASM module's
// bytes, e.g. from a content-addressed pack store.
type ModuleResolver interface {
	Resolve(ctx context.Context, name string) ([]byte, error)
}

// WASMRunner executes a node's work as a WASI command module: input is
// JSON on stdin, output is JSON on stdout. The runtime is deny-by-default —
// no filesystem, no network, no env vars — so a task_type backed by this
// runner can only compute over the input it is given.
type WASMRunner struct {
	runtime wazero.Runtime
	modules ModuleResolver
}

// NewWASMRunner constructs a WASMRunner resolving modules through modules.
func NewWASMRunner(ctx context.Context, modules ModuleResolver) (*WASMRunner, error) {
	r := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return nil, fmt.Errorf("workflow: instantiating wasi: %w", err)
	}
	return &WASMRunner{runtime: r, modules: modules}, nil
}

func (r *WASMRunner) Run(ctx context.Context, node *Node, input map[string]any) (map[string]any, error) {
	wasmBytes, err := r.modules.Resolve(ctx, node.CustomFunc)
	if err != nil {
		return nil, fmt.Errorf("workflow: resolving module %q: %w", node.CustomFunc, err)
	}

	compiled, err := r.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("workflow: compiling module %q: %w", node.CustomFunc, err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	stdin, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("workflow: encoding wasm input: %w", err)
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName(node.NID).
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(stdin)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := r.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("workflow: module %q timed out: %w", node.CustomFunc, ctx.Err())
		}
		return nil, fmt.Errorf("workflow: running module %q: %w (stderr: %s)", node.CustomFunc, err, stderr.String())
	}
	defer func() { _ = mod.Close(ctx) }()

	var out map[string]any
	if stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
			return nil, fmt.Errorf("workflow: decoding module %q output: %w", node.CustomFunc, err)
		}
	}
	return out, nil
}

// Cancel relies on ctx being cancelled before InstantiateModule returns;
// wazero has no separate interrupt primitive for a running module.
func (r *WASMRunner) Cancel(ctx context.Context, node *Node) error { return nil }

// Close releases the wazero runtime and every module compiled into it.
func (r *WASMRunner) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}
