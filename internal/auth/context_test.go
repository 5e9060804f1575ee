// ABOUTME: Tests for identity context helpers
// ABOUTME: Verifies round trip and the empty default

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityContext(t *testing.T) {
	assert.Equal(t, "", IdentityFrom(context.Background()))

	ctx := WithIdentity(context.Background(), "alice")
	assert.Equal(t, "alice", IdentityFrom(ctx))
}
