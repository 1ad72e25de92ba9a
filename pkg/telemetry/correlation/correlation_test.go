package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnsureCorrelationID(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	assert.NotEmpty(t, cid)
	assert.Equal(t, cid, ExtractCorrelationID(ctx))

	again, same := EnsureCorrelationID(ctx)
	assert.Equal(t, cid, same)
	assert.Equal(t, cid, ExtractCorrelationID(again))
}

func TestDetachedContext_DropsCancellation(t *testing.T) {
	parent, cancel := context.WithTimeout(ContextWithCorrelationID(context.Background(), "abc"), time.Millisecond)
	cancel()

	detached := DetachedContext(parent)
	assert.NoError(t, detached.Err())
	assert.Equal(t, "abc", ExtractCorrelationID(detached))
}
