package archive

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
)

// FrameMeta is the metadata stored alongside a persisted still frame.
type FrameMeta struct {
	ID           string
	CameraID     string
	Timestamp    time.Time
	Similarity   float64
	DetectRect   frame.Rect
	HasDetection bool
	Path         string
}

// Store persists still frames and their metadata in SQLite, with the pixel
// data written as PNG files next to the database.
type Store struct {
	db        *sql.DB
	stillsDir string
	logger    *logger.Logger
}

// NewStore opens (or creates) the archive under dataDir.
func NewStore(dataDir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	stillsDir := filepath.Join(dataDir, "stills")
	if err := os.MkdirAll(stillsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stills directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "perchcam.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	s := &Store{
		db:        db,
		stillsDir: stillsDir,
		logger:    log.Named("archive"),
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS frames (
		id            TEXT PRIMARY KEY,
		camera_id     TEXT NOT NULL,
		timestamp     DATETIME NOT NULL,
		similarity    REAL NOT NULL,
		detect_x      REAL NOT NULL,
		detect_y      REAL NOT NULL,
		detect_w      REAL NOT NULL,
		detect_h      REAL NOT NULL,
		has_detection INTEGER NOT NULL DEFAULT 0,
		path          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_frames_camera_time
		ON frames(camera_id, timestamp DESC);

	CREATE TABLE IF NOT EXISTS detection_flags (
		camera_id  TEXT PRIMARY KEY,
		pending    INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create archive tables: %w", err)
	}
	return nil
}

// SaveFrame persists a still frame and returns the stored metadata.
func (s *Store) SaveFrame(ctx context.Context, f *frame.Frame, meta FrameMeta) (FrameMeta, error) {
	if f == nil || f.Empty() {
		return FrameMeta{}, fmt.Errorf("refusing to persist empty frame")
	}

	meta.ID = uuid.New().String()
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	meta.Path = filepath.Join(s.stillsDir,
		fmt.Sprintf("%s_%s_%s.png", meta.CameraID,
			meta.Timestamp.Format("20060102_150405"), meta.ID[:8]))

	var buf bytes.Buffer
	if err := png.Encode(&buf, f.RGBA()); err != nil {
		return FrameMeta{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := os.WriteFile(meta.Path, buf.Bytes(), 0o644); err != nil {
		return FrameMeta{}, fmt.Errorf("failed to write frame file: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frames (id, camera_id, timestamp, similarity,
			detect_x, detect_y, detect_w, detect_h, has_detection, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.CameraID, meta.Timestamp, meta.Similarity,
		meta.DetectRect.X, meta.DetectRect.Y, meta.DetectRect.W, meta.DetectRect.H,
		meta.HasDetection, meta.Path)
	if err != nil {
		os.Remove(meta.Path)
		return FrameMeta{}, fmt.Errorf("failed to insert frame metadata: %w", err)
	}

	s.logger.Debug("Frame persisted", "camera_id", meta.CameraID, "id", meta.ID,
		"similarity", meta.Similarity)
	return meta, nil
}

// LatestMeta returns the newest persisted metadata for a camera. The second
// return value is false when the camera has no persisted frames yet.
func (s *Store) LatestMeta(ctx context.Context, cameraID string) (FrameMeta, bool, error) {
	var m FrameMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT id, camera_id, timestamp, similarity,
			detect_x, detect_y, detect_w, detect_h, has_detection, path
		FROM frames WHERE camera_id = ?
		ORDER BY timestamp DESC LIMIT 1`, cameraID).
		Scan(&m.ID, &m.CameraID, &m.Timestamp, &m.Similarity,
			&m.DetectRect.X, &m.DetectRect.Y, &m.DetectRect.W, &m.DetectRect.H,
			&m.HasDetection, &m.Path)
	if err == sql.ErrNoRows {
		return FrameMeta{}, false, nil
	}
	if err != nil {
		return FrameMeta{}, false, fmt.Errorf("failed to read latest frame metadata: %w", err)
	}
	return m, true, nil
}

// LoadFrame reads a persisted frame's pixels back from disk.
func (s *Store) LoadFrame(meta FrameMeta) (*frame.Frame, error) {
	data, err := os.ReadFile(meta.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame file: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame file: %w", err)
	}
	f := frame.FromImage(img)
	f.CameraID = meta.CameraID
	f.Timestamp = meta.Timestamp
	return f, nil
}

// FlagDetection marks a camera as having a detected object. It raises the
// camera's pending flag and marks the newest persisted record. Called out
// of band by the detection collaborator, never on the capture hot path.
func (s *Store) FlagDetection(ctx context.Context, cameraID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detection_flags (camera_id, pending, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(camera_id) DO UPDATE SET pending = 1, updated_at = excluded.updated_at`,
		cameraID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set detection flag: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE frames SET has_detection = 1
		WHERE id = (SELECT id FROM frames WHERE camera_id = ?
			ORDER BY timestamp DESC LIMIT 1)`, cameraID)
	if err != nil {
		return fmt.Errorf("failed to mark latest frame: %w", err)
	}
	return nil
}

// ConsumeDetection reads and clears the camera's pending detection flag.
func (s *Store) ConsumeDetection(ctx context.Context, cameraID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE detection_flags SET pending = 0, updated_at = ?
		WHERE camera_id = ? AND pending = 1`, time.Now(), cameraID)
	if err != nil {
		return false, fmt.Errorf("failed to consume detection flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteOlderThan removes persisted frames (rows and files) older than the
// cutoff and returns how many were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path FROM frames WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired frames: %w", err)
	}
	type victim struct{ id, path string }
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.path); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	for _, v := range victims {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM frames WHERE id = ?`, v.id); err != nil {
			return deleted, fmt.Errorf("failed to delete frame %s: %w", v.id, err)
		}
		os.Remove(v.path)
		deleted++
	}
	return deleted, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
