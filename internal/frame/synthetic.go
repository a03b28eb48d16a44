package frame

import (
	"image/color"
	"time"
)

// ErrorKind identifies one of the fixed synthetic error frames a derived
// stream can serve in place of a live frame.
type ErrorKind string

const (
	ErrorNone         ErrorKind = ""
	ErrorNotConnected ErrorKind = "device not connected"
	ErrorOffline      ErrorKind = "camera offline"
	ErrorStream       ErrorKind = "stream error"
)

// Maintenance describes the message overlay served while a derived stream
// is frozen for maintenance.
type Maintenance struct {
	Active bool
	Line1  string
	Line2  string
	Color  color.RGBA
}

var (
	errorBackground       = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	errorForeground       = color.RGBA{R: 255, G: 80, B: 80, A: 255}
	maintenanceBackground = color.RGBA{R: 24, G: 40, B: 64, A: 255}
	defaultMaintColor     = color.RGBA{R: 255, G: 214, B: 64, A: 255}
)

// NewErrorFrame synthesizes a deterministic error frame of the given kind,
// annotated with the most recent error detail so the stream itself is
// diagnosable.
func NewErrorFrame(kind ErrorKind, detail string, width, height int) *Frame {
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 240
	}
	f := New(width, height)
	f.Timestamp = time.Now()
	f.ErrorLabel = string(kind)
	Fill(f, errorBackground)
	DrawText(f, 8, height/2-8, string(kind), errorForeground)
	if detail != "" {
		if len(detail) > width/7 {
			detail = detail[:width/7]
		}
		DrawText(f, 8, height/2+10, detail, captionColor)
	}
	return f
}

// NewMaintenanceFrame synthesizes the static frame served while a stream is
// in maintenance mode.
func NewMaintenanceFrame(m Maintenance, width, height int) *Frame {
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 240
	}
	col := m.Color
	if col == (color.RGBA{}) {
		col = defaultMaintColor
	}
	f := New(width, height)
	f.Timestamp = time.Now()
	f.Maintenance = true
	Fill(f, maintenanceBackground)
	DrawText(f, 8, height/2-8, m.Line1, col)
	DrawText(f, 8, height/2+10, m.Line2, col)
	return f
}
