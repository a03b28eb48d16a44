package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityTokenOwnership(t *testing.T) {
	tok := &PriorityToken{}
	assert.Empty(t, tok.Owner())

	tok.Acquire("cam1")
	assert.Equal(t, "cam1", tok.Owner())

	// A later claim displaces the earlier one.
	tok.Acquire("cam2")
	assert.Equal(t, "cam2", tok.Owner())

	// Releasing a stale claim is a no-op.
	tok.Release("cam1")
	assert.Equal(t, "cam2", tok.Owner())

	tok.Release("cam2")
	assert.Empty(t, tok.Owner())
}

func TestApplyPriorityWithoutToken(t *testing.T) {
	c, _ := testController(t, simCameraConfig())
	c.applyPriority() // nil token must be a no-op
}
