package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_EmptyOperations(t *testing.T) {
	r := NewRegistry()

	assert.Zero(t, r.Len())
	assert.Empty(t, r.Sessions())

	r.Unregister("missing", nil)
	r.CloseAll("nothing to close")
	assert.Zero(t, r.Len())
}
