package obslog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nlesc/mdstudio/pkg/obslog"
	"github.com/stretchr/testify/assert"
)

func TestNew_ReturnsTaggedLogger(t *testing.T) {
	logger := obslog.New("schema")
	assert.NotNil(t, logger)
}

func TestCallContext_DoesNotPanicOnAnyOutcome(t *testing.T) {
	logger := obslog.New("test")
	ctx := context.Background()

	assert.NotPanics(t, func() { obslog.CallContext(ctx, logger, "mdstudio.x", true, nil) })
	assert.NotPanics(t, func() { obslog.CallContext(ctx, logger, "mdstudio.x", false, nil) })
	assert.NotPanics(t, func() { obslog.CallContext(ctx, logger, "mdstudio.x", false, errors.New("boom")) })
}
