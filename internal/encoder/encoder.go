package encoder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perchcam/perchcam/internal/device"
	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
)

// Encoder turns fed frames into video clips. The capture side decides when
// to begin, feed and end a session; the encoder owns the codec parameters.
type Encoder interface {
	Begin(ctx context.Context, cameraID string, width, height int) (Session, error)
}

// Session is one in-flight clip. Feed pushes frames in capture order; End
// finalizes the clip and returns the output path; Cancel discards it.
type Session interface {
	Feed(f *frame.Frame) error
	End() (string, error)
	Cancel()
}

// FFmpegEncoder encodes clips by piping raw RGBA frames into an ffmpeg
// child process.
type FFmpegEncoder struct {
	ffmpeg    *device.FFmpeg
	outputDir string
	framerate int
	logger    *logger.Logger
}

// NewFFmpegEncoder creates an encoder writing clips under outputDir.
func NewFFmpegEncoder(ffmpeg *device.FFmpeg, outputDir string, framerate int, log *logger.Logger) (*FFmpegEncoder, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create clip directory: %w", err)
	}
	if framerate <= 0 {
		framerate = 10
	}
	return &FFmpegEncoder{
		ffmpeg:    ffmpeg,
		outputDir: outputDir,
		framerate: framerate,
		logger:    log.Named("encoder"),
	}, nil
}

// Begin starts a clip session for the given frame dimensions. All frames
// fed into the session must match them.
func (e *FFmpegEncoder) Begin(ctx context.Context, cameraID string, width, height int) (Session, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid clip dimensions %dx%d", width, height)
	}

	outPath := filepath.Join(e.outputDir,
		fmt.Sprintf("%s_%s_%s.mp4", cameraID,
			time.Now().Format("20060102_150405"), uuid.New().String()[:8]))

	cmd := e.ffmpeg.BuildCommand(ctx, []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fmt.Sprintf("%d", e.framerate),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	})

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	e.logger.Info("Clip session started", "camera_id", cameraID, "path", outPath)
	return &ffmpegSession{
		cmd:      cmd,
		stdin:    stdin,
		path:     outPath,
		width:    width,
		height:   height,
		cameraID: cameraID,
		logger:   e.logger,
	}, nil
}

type ffmpegSession struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	path     string
	width    int
	height   int
	cameraID string
	frames   int
	done     bool
	logger   *logger.Logger
}

// Feed writes one frame into the encoder. Frames with mismatched
// dimensions are rejected rather than corrupting the stream.
func (s *ffmpegSession) Feed(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return fmt.Errorf("session already finished")
	}
	if f == nil || f.Empty() {
		return fmt.Errorf("empty frame")
	}
	if f.Width != s.width || f.Height != s.height {
		return fmt.Errorf("frame %dx%d does not match session %dx%d",
			f.Width, f.Height, s.width, s.height)
	}
	if _, err := s.stdin.Write(f.Pix); err != nil {
		return fmt.Errorf("failed to feed frame: %w", err)
	}
	s.frames++
	return nil
}

// End finalizes the clip and returns its path.
func (s *ffmpegSession) End() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return s.path, nil
	}
	s.done = true
	s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		os.Remove(s.path)
		return "", fmt.Errorf("encoder failed: %w", err)
	}
	s.logger.Info("Clip session finished", "camera_id", s.cameraID,
		"path", s.path, "frames", s.frames)
	return s.path, nil
}

// Cancel aborts the session and removes any partial output.
func (s *ffmpegSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.stdin.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	os.Remove(s.path)
	s.logger.Info("Clip session cancelled", "camera_id", s.cameraID)
}
