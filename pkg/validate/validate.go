// Package validate compiles JSON Schemas and validates values against them,
// resolving endpoint://, resource:// and claims:// references through a
// schema store. The compile-once, validate-many cache is grounded on the
// teacher's policy firewall, which compiled a tool's parameter schema once
// at registration time and validated every subsequent call against the
// cached *jsonschema.Schema.
package validate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nlesc/mdstudio/pkg/apierr"
	"github.com/nlesc/mdstudio/pkg/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Resolver is the subset of schema.Store the validator needs to dereference
// endpoint://, resource:// and claims:// URIs.
type Resolver interface {
	FindLatest(ctx context.Context, key schema.Key, maxVersion int) (*schema.Document, error)
}

// Validator validates JSON values against schema bodies or references,
// caching compiled schemas by content hash.
type Validator struct {
	resolver Resolver

	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// New builds a Validator backed by resolver for reference resolution.
func New(resolver Resolver) *Validator {
	return &Validator{
		resolver: resolver,
		cache:    make(map[string]*jsonschema.Schema),
	}
}

func (v *Validator) compile(body json.RawMessage) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(body)
	key := hex.EncodeToString(sum[:])

	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.cache[key]; ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := "mem://" + key
	if err := compiler.AddResource(url, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("validate: add schema resource: %w", err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("validate: compile schema: %w", err)
	}
	v.cache[key] = s
	return s, nil
}

// ValidateBody validates value against a schema body directly, with no
// reference resolution. It is a pure function of its arguments aside from
// the compiled-schema cache.
func (v *Validator) ValidateBody(schemaBody json.RawMessage, value any) *apierr.Validation {
	compiled, err := v.compile(schemaBody)
	if err != nil {
		return &apierr.Validation{Path: "$", Expected: "compilable schema", Actual: err.Error()}
	}
	if err := compiled.Validate(value); err != nil {
		return toValidation(err)
	}
	return nil
}

// ValidateRef resolves ref (an endpoint://, resource:// or claims:// URI)
// through the Resolver and validates value against it. A missing schema
// produces the distinct schema_not_found error kind rather than
// invalid_input, so callers can tell "bad request" apart from
// "misconfigured platform."
func (v *Validator) ValidateRef(ctx context.Context, ref string, value any) *apierr.Error {
	parsed, err := schema.ParseRef(ref)
	if err != nil {
		return apierr.New(apierr.KindSchemaNotFound, "%s", err.Error())
	}

	doc, err := v.resolver.FindLatest(ctx, parsed.Key, parsed.Version)
	if err != nil {
		return apierr.New(apierr.KindSchemaNotFound, "no schema for %s: %s", ref, err)
	}

	if vErr := v.ValidateBody(doc.Body, value); vErr != nil {
		return (&apierr.Error{Kind: apierr.KindInvalidInput, Message: "validation failed"}).WithValidation(vErr)
	}
	return nil
}

func toValidation(err error) *apierr.Validation {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &apierr.Validation{Path: "$", Actual: err.Error()}
	}
	leaf := deepestCause(ve)
	path := "$"
	if len(leaf.InstanceLocation) > 0 {
		path = "/" + joinPath(leaf.InstanceLocation)
	}
	return &apierr.Validation{Path: path, Actual: leaf.Message}
}

func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}
