package camera

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/perchcam/perchcam/internal/config"
	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
)

// Manager owns one Controller per configured camera and applies
// configuration reloads across the fleet.
type Manager struct {
	logger     *logger.Logger
	deps       Deps
	cfgService *config.Service

	mu          sync.RWMutex
	controllers map[string]*Controller

	runCtx context.Context
	cancel context.CancelFunc
}

// NewManager creates the camera fleet manager.
func NewManager(cfgService *config.Service, deps Deps, log *logger.Logger) *Manager {
	return &Manager{
		logger:      log.Named("manager"),
		deps:        deps,
		cfgService:  cfgService,
		controllers: make(map[string]*Controller),
	}
}

// Name implements the managed service interface.
func (m *Manager) Name() string { return "camera-manager" }

// Start creates and starts a controller per configured camera and hooks
// configuration reloads.
func (m *Manager) Start(ctx context.Context) error {
	m.runCtx, m.cancel = context.WithCancel(context.Background())

	cfg := m.cfgService.Get()
	for _, cam := range cfg.Cameras {
		if err := m.addCamera(cam, cfg.Pipeline); err != nil {
			return err
		}
	}

	m.cfgService.Watch(m.onConfigChange)
	m.logger.Info("Camera manager started", "cameras", len(cfg.Cameras))
	return nil
}

// Stop stops every controller.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		controllers = append(controllers, c)
	}
	m.controllers = make(map[string]*Controller)
	m.mu.Unlock()

	for _, c := range controllers {
		if err := c.Stop(ctx); err != nil {
			m.logger.Error("Camera stop failed", "camera_id", c.ID(), "error", err)
		}
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.logger.Info("Camera manager stopped")
	return nil
}

func (m *Manager) addCamera(cam config.CameraConfig, pipe config.PipelineConfig) error {
	c := NewController(cam, pipe, m.deps, m.logger)
	if err := c.Start(m.runCtx); err != nil {
		return fmt.Errorf("failed to start camera %s: %w", cam.ID, err)
	}
	m.mu.Lock()
	m.controllers[cam.ID] = c
	m.mu.Unlock()
	return nil
}

// onConfigChange reconciles the fleet against a new configuration:
// removed cameras stop, surviving cameras reload, new cameras start.
func (m *Manager) onConfigChange(ctx context.Context, oldCfg, newCfg *config.Config) error {
	m.mu.RLock()
	existing := make(map[string]*Controller, len(m.controllers))
	for id, c := range m.controllers {
		existing[id] = c
	}
	m.mu.RUnlock()

	wanted := make(map[string]bool, len(newCfg.Cameras))
	for _, cam := range newCfg.Cameras {
		wanted[cam.ID] = true
		if c, ok := existing[cam.ID]; ok {
			if err := c.Reload(ctx, cam, newCfg.Pipeline); err != nil {
				m.logger.Error("Camera reload failed", "camera_id", cam.ID, "error", err)
			}
			continue
		}
		if err := m.addCamera(cam, newCfg.Pipeline); err != nil {
			m.logger.Error("Camera add failed", "camera_id", cam.ID, "error", err)
		}
	}

	for id, c := range existing {
		if wanted[id] {
			continue
		}
		m.logger.Info("Camera removed by reload", "camera_id", id)
		if err := c.Stop(ctx); err != nil {
			m.logger.Error("Camera stop failed", "camera_id", id, "error", err)
		}
		m.mu.Lock()
		delete(m.controllers, id)
		m.mu.Unlock()
	}
	return nil
}

// Get returns the controller for a camera id.
func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[id]
	return c, ok
}

// List returns status snapshots for every camera, sorted by id.
func (m *Manager) List() []Status {
	m.mu.RLock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		controllers = append(controllers, c)
	}
	m.mu.RUnlock()

	statuses := make([]Status, 0, len(controllers))
	for _, c := range controllers {
		statuses = append(statuses, c.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].CameraID < statuses[j].CameraID
	})
	return statuses
}

// ReadLatest serves one consumer read against a camera's derived stream.
func (m *Manager) ReadLatest(ctx context.Context, cameraID string, key StreamKey, consumerID string, wait bool) (*frame.Frame, bool, error) {
	c, ok := m.Get(cameraID)
	if !ok {
		return nil, false, fmt.Errorf("unknown camera %s", cameraID)
	}
	return c.ReadLatest(ctx, key, consumerID, wait)
}
