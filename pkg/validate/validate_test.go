package validate_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nlesc/mdstudio/pkg/apierr"
	"github.com/nlesc/mdstudio/pkg/schema"
	"github.com/nlesc/mdstudio/pkg/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginSchema = `{
	"type": "object",
	"properties": {"username": {"type": "string"}, "password": {"type": "string"}},
	"required": ["username", "password"]
}`

func TestValidator_ValidateBody(t *testing.T) {
	v := validate.New(schema.NewMemoryStore())

	ok := v.ValidateBody(json.RawMessage(loginSchema), map[string]any{"username": "alice", "password": "hunter2"})
	assert.Nil(t, ok)

	bad := v.ValidateBody(json.RawMessage(loginSchema), map[string]any{"username": "alice"})
	require.NotNil(t, bad)
	assert.NotEmpty(t, bad.Actual)
}

func TestValidator_ValidateRef(t *testing.T) {
	ctx := context.Background()
	store := schema.NewMemoryStore()
	key := schema.Key{Vendor: "mdstudio", Component: "auth", Type: schema.TypeEndpoint, Name: "login"}
	_, err := store.Upsert(ctx, key, json.RawMessage(loginSchema), "schema")
	require.NoError(t, err)

	v := validate.New(store)

	verr := v.ValidateRef(ctx, "endpoint://mdstudio/auth/login", map[string]any{"username": "alice", "password": "x"})
	assert.Nil(t, verr)

	verr = v.ValidateRef(ctx, "endpoint://mdstudio/auth/login", map[string]any{"username": "alice"})
	require.NotNil(t, verr)
	assert.Equal(t, apierr.KindInvalidInput, verr.Kind)

	verr = v.ValidateRef(ctx, "endpoint://mdstudio/auth/does-not-exist", map[string]any{})
	require.NotNil(t, verr)
	assert.Equal(t, apierr.KindSchemaNotFound, verr.Kind)
}
