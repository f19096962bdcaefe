package director

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ivlev/geostory/internal/system"
)

// ScenariosDir is where generated scenarios go and where the newest one is
// looked up when no input is given.
var ScenariosDir = filepath.Join("input", "scenarios")

// GenerateScenarioPath creates a timestamped scenario filename in dir
func GenerateScenarioPath(dir string) string {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(dir, fmt.Sprintf("scenario_%s.yaml", timestamp))
}

// FindLatestScenario finds the most recent scenario file in dir
func FindLatestScenario(dir string) (string, error) {
	path, err := system.FindLatest(dir, ".yaml", ".yml")
	if err != nil {
		return "", fmt.Errorf("no scenario found: %w", err)
	}
	return path, nil
}
