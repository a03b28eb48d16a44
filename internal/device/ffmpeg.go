package device

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/perchcam/perchcam/internal/logger"
)

// FFmpeg wraps the ffmpeg executable used by the exec-backed device
// handlers and the session encoder.
type FFmpeg struct {
	logger *logger.Logger
	path   string
}

// NewFFmpeg locates the ffmpeg executable and returns a wrapper around it.
func NewFFmpeg(log *logger.Logger) (*FFmpeg, error) {
	wrapper := &FFmpeg{logger: log, path: "ffmpeg"}

	path, err := wrapper.detect()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.path = path

	log.Info("ffmpeg wrapper initialized", "path", path)
	return wrapper, nil
}

// detect finds the ffmpeg executable in PATH or common locations.
func (f *FFmpeg) detect() (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}
	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

// BuildCommand builds an ffmpeg command bound to the given context.
func (f *FFmpeg) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.path, args...)
}

// Version returns the ffmpeg version line.
func (f *FFmpeg) Version() (string, error) {
	output, err := exec.Command(f.path, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}
	return "unknown", nil
}

// Probe runs a quick input probe to check that a source is readable.
func (f *FFmpeg) Probe(ctx context.Context, input string) error {
	args := []string{
		"-hide_banner",
		"-probesize", "32",
		"-analyzeduration", "1000000",
		"-i", input,
		"-f", "null",
		"-",
	}
	cmd := f.BuildCommand(ctx, args)
	output, err := cmd.CombinedOutput()
	if err != nil {
		out := string(output)
		if strings.Contains(out, "Connection refused") ||
			strings.Contains(out, "No such file") ||
			strings.Contains(out, "Invalid data found") {
			return fmt.Errorf("invalid input %s: %w", input, err)
		}
		return fmt.Errorf("input probe failed for %s: %w", input, err)
	}
	return nil
}
