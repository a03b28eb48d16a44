package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/perchcam/perchcam/internal/encoder"
	"github.com/perchcam/perchcam/internal/logger"
	"github.com/perchcam/perchcam/internal/stream"
)

// VideoSession feeds raw frames into an encoder session at the encoder's
// framerate on its own goroutine. While one is active the controller
// suppresses still-frame persistence.
type VideoSession struct {
	cameraID  string
	raw       *stream.RawWorker
	sess      encoder.Session
	framerate int
	started   time.Time
	logger    *logger.Logger

	mu     sync.Mutex
	stopC  chan struct{}
	doneC  chan struct{}
	lastID uint64
	path   string
	err    error
}

// newVideoSession begins an encoder session sized to the current raw frame
// and starts the feed loop.
func newVideoSession(ctx context.Context, cameraID string, raw *stream.RawWorker,
	enc encoder.Encoder, framerate int, log *logger.Logger) (*VideoSession, error) {

	f := raw.ReadLatest("video/"+cameraID, stream.PriorityInteractive)
	if f == nil || f.Empty() {
		return nil, fmt.Errorf("no frame available to start session")
	}

	sess, err := enc.Begin(ctx, cameraID, f.Width, f.Height)
	if err != nil {
		return nil, err
	}
	if framerate <= 0 {
		framerate = 10
	}

	v := &VideoSession{
		cameraID:  cameraID,
		raw:       raw,
		sess:      sess,
		framerate: framerate,
		started:   time.Now(),
		logger:    log.Named("video").WithFields(zap.String("camera_id", cameraID)),
		stopC:     make(chan struct{}),
		doneC:     make(chan struct{}),
	}
	go v.feedLoop()
	return v, nil
}

// feedLoop pushes the newest raw frame into the encoder at the session
// framerate. The encoder expects a constant rate, so the last frame is
// repeated when no fresh one arrived.
func (v *VideoSession) feedLoop() {
	defer close(v.doneC)

	ticker := time.NewTicker(time.Second / time.Duration(v.framerate))
	defer ticker.Stop()

	for {
		select {
		case <-v.stopC:
			return
		case <-ticker.C:
			f := v.raw.ReadLatest("video/"+v.cameraID, stream.PriorityInteractive)
			if f == nil || f.Empty() {
				continue
			}
			if err := v.sess.Feed(f); err != nil {
				v.mu.Lock()
				v.err = err
				v.mu.Unlock()
				v.logger.Warn("Session feed failed", "error", err)
				return
			}
			v.mu.Lock()
			v.lastID = f.ID
			v.mu.Unlock()
		}
	}
}

// Age returns how long the session has been running.
func (v *VideoSession) Age() time.Duration {
	return time.Since(v.started)
}

// End stops feeding and finalizes the clip.
func (v *VideoSession) End() (string, error) {
	v.signalStop()
	<-v.doneC
	v.mu.Lock()
	feedErr := v.err
	v.mu.Unlock()
	if feedErr != nil {
		v.sess.Cancel()
		return "", feedErr
	}
	return v.sess.End()
}

// Cancel stops feeding and discards the clip.
func (v *VideoSession) Cancel() {
	v.signalStop()
	<-v.doneC
	v.sess.Cancel()
}

func (v *VideoSession) signalStop() {
	v.mu.Lock()
	select {
	case <-v.stopC:
	default:
		close(v.stopC)
	}
	v.mu.Unlock()
}

// StartRecording begins a video session. Fails when the camera is in error
// or a session is already running.
func (c *Controller) StartRecording(ctx context.Context) error {
	if c.inError() {
		return fmt.Errorf("camera %s is in error, not recording", c.cameraID)
	}
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return fmt.Errorf("camera %s is already recording", c.cameraID)
	}
	framerate := c.pipe.DefaultFPS
	c.mu.Unlock()

	sess, err := newVideoSession(ctx, c.cameraID, c.raw, c.deps.Encoder,
		int(framerate), c.logger)
	if err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	if c.deps.Priority != nil {
		c.deps.Priority.Acquire(c.cameraID)
	}
	c.publish("recording_started", nil)
	c.logger.Info("Recording started")
	return nil
}

// StopRecording finalizes the active session and returns the clip path.
func (c *Controller) StopRecording() (string, error) {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess == nil {
		return "", fmt.Errorf("camera %s is not recording", c.cameraID)
	}
	if c.deps.Priority != nil {
		c.deps.Priority.Release(c.cameraID)
	}

	path, err := sess.End()
	if err != nil {
		c.publish("recording_failed", map[string]any{"error": err.Error()})
		return "", err
	}
	c.publish("recording_finished", map[string]any{"path": path})
	c.logger.Info("Recording finished", "path", path)
	return path, nil
}

// stopRecording tears down any active session; cancel discards the clip.
func (c *Controller) stopRecording(cancel bool) {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess == nil {
		return
	}
	if c.deps.Priority != nil {
		c.deps.Priority.Release(c.cameraID)
	}
	if cancel {
		sess.Cancel()
		c.publish("recording_cancelled", nil)
		return
	}
	if path, err := sess.End(); err == nil {
		c.publish("recording_finished", map[string]any{"path": path})
	}
}

// feedSession enforces the clip length cap and reports whether a session
// is active, which suppresses still persistence for this tick.
func (c *Controller) feedSession(now time.Time) bool {
	c.mu.RLock()
	sess := c.session
	maxClip := time.Duration(c.cfg.MaxClipSeconds) * time.Second
	c.mu.RUnlock()
	if sess == nil {
		return false
	}
	if maxClip > 0 && sess.Age() >= maxClip {
		c.logger.Info("Clip length cap reached, finalizing recording",
			"age", sess.Age().Truncate(time.Second).String())
		if _, err := c.StopRecording(); err != nil {
			c.logger.Warn("Recording finalize failed", "error", err)
		}
		return true
	}
	return true
}
