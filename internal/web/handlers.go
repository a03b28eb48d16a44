package web

import (
	"bytes"
	"image/png"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/perchcam/perchcam/internal/camera"
	"github.com/perchcam/perchcam/internal/device"
	"github.com/perchcam/perchcam/internal/stream"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListCameras(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cameras": s.cameras.List()})
}

func (s *Server) handleCameraStatus(c *gin.Context) {
	ctrl, ok := s.cameras.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown camera"})
		return
	}
	c.JSON(http.StatusOK, ctrl.Status())
}

// handleReadLatest serves the newest frame of one derived stream as PNG.
// The consumer id keeps the stream's liveness tracking working across
// polling readers; absent ids get a one-off identity.
func (s *Server) handleReadLatest(c *gin.Context) {
	key := camera.StreamKey{
		Kind: stream.Kind(c.Param("kind")),
		Res:  stream.ResolutionClass(c.Param("res")),
	}
	switch key.Kind {
	case stream.KindRaw, stream.KindNormalized, stream.KindAnnotated, stream.KindOverlay:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stream kind"})
		return
	}
	switch key.Res {
	case stream.ResFull, stream.ResThumb:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resolution"})
		return
	}

	consumerID := c.Query("consumer")
	if consumerID == "" {
		consumerID = "anon-" + uuid.New().String()
	}
	wait := c.Query("wait") == "true" || c.Query("wait") == "1"

	f, erroring, err := s.cameras.ReadLatest(c.Request.Context(),
		c.Param("id"), key, consumerID, wait)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, f.RGBA()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "frame encode failed"})
		return
	}

	c.Header("X-Frame-Id", strconv.FormatUint(f.ID, 10))
	c.Header("X-Stream-Erroring", boolString(erroring))
	if f.Stale {
		c.Header("X-Frame-Stale", "true")
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) handleStartRecording(c *gin.Context) {
	ctrl, ok := s.cameras.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown camera"})
		return
	}
	if err := ctrl.StartRecording(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recording": true})
}

func (s *Server) handleStopRecording(c *gin.Context) {
	ctrl, ok := s.cameras.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown camera"})
		return
	}
	path, err := ctrl.StopRecording()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recording": false, "clip": path})
}

// handleFlagDetection lets the detection collaborator flag a camera; the
// scheduler picks the flag up on its next sampling tick.
func (s *Server) handleFlagDetection(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.cameras.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown camera"})
		return
	}
	if err := s.store.FlagDetection(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flagged": true})
}

// handleListDevices reports the local capture devices visible on the host,
// as an aid when configuring camera sources.
func (s *Server) handleListDevices(c *gin.Context) {
	devices, err := device.DiscoverLocal("")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) handleConfigReload(c *gin.Context) {
	if err := s.cfgService.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloaded": true})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
