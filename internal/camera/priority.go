package camera

import "sync"

// PriorityToken marks one camera as owning the device budget, typically
// while it feeds a video session on a small host. Controllers check the
// token once per tick and throttle their acquisition to the background
// rate while another camera holds it.
type PriorityToken struct {
	mu    sync.Mutex
	owner string
}

// Acquire claims the token for a camera. A later claim displaces an
// earlier one; there is no queue.
func (t *PriorityToken) Acquire(cameraID string) {
	t.mu.Lock()
	t.owner = cameraID
	t.mu.Unlock()
}

// Release clears the token if the camera still holds it.
func (t *PriorityToken) Release(cameraID string) {
	t.mu.Lock()
	if t.owner == cameraID {
		t.owner = ""
	}
	t.mu.Unlock()
}

// Owner returns the camera currently holding the token, or "".
func (t *PriorityToken) Owner() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owner
}

// applyPriority throttles this camera's acquisition while another camera
// holds the shared priority token.
func (c *Controller) applyPriority() {
	tok := c.deps.Priority
	if tok == nil {
		return
	}
	owner := tok.Owner()
	c.raw.SlowDown(owner != "" && owner != c.cameraID)
}
