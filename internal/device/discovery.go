package device

import (
	"os"
	"path/filepath"
	"strings"
)

// LocalDevice is one video capture device found on the host.
type LocalDevice struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// DiscoverLocal scans devDir (default /dev) for V4L2 capture devices.
// Device names come from sysfs when available.
func DiscoverLocal(devDir string) ([]LocalDevice, error) {
	if devDir == "" {
		devDir = "/dev"
	}
	matches, err := filepath.Glob(filepath.Join(devDir, "video*"))
	if err != nil {
		return nil, err
	}

	devices := make([]LocalDevice, 0, len(matches))
	for _, path := range matches {
		devices = append(devices, LocalDevice{
			Path: path,
			Name: sysfsName(filepath.Base(path)),
		})
	}
	return devices, nil
}

// sysfsName reads the device's product name from sysfs; empty when
// unavailable.
func sysfsName(dev string) string {
	data, err := os.ReadFile(filepath.Join("/sys/class/video4linux", dev, "name"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
