package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ev-insight/internal/artifact"
)

// ModelVersion is one registered artifact file.
type ModelVersion struct {
	Version   string           `json:"version"`
	Path      string           `json:"path"`
	TrainedAt time.Time        `json:"trained_at"`
	AddedAt   time.Time        `json:"added_at"`
	Metrics   artifact.Metrics `json:"metrics"`
	IsActive  bool             `json:"is_active"`
}

// ModelManager keeps the registry of artifact versions in
// model_versions.json inside the models directory, newest first.
type ModelManager struct {
	mu           sync.Mutex
	modelsDir    string
	versionsFile string
	versions     []ModelVersion
}

// NewModelManager opens the registry in modelsDir, starting empty when none exists.
func NewModelManager(modelsDir string) (*ModelManager, error) {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}

	mm := &ModelManager{
		modelsDir:    modelsDir,
		versionsFile: filepath.Join(modelsDir, "model_versions.json"),
		versions:     make([]ModelVersion, 0),
	}

	if err := mm.loadVersions(); err != nil {
		log.Warn().Err(err).Msg("Failed to load model versions, starting fresh")
	}

	return mm, nil
}

// AddVersion validates the artifact at path and registers it under its own
// version string. A version can only be registered once.
func (mm *ModelManager) AddVersion(path string) (ModelVersion, error) {
	a, err := artifact.Load(path)
	if err != nil {
		return ModelVersion{}, err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	for _, v := range mm.versions {
		if v.Version == a.Version {
			return ModelVersion{}, fmt.Errorf("version %s already registered", a.Version)
		}
	}

	version := ModelVersion{
		Version:   a.Version,
		Path:      path,
		TrainedAt: a.TrainedAt,
		AddedAt:   time.Now(),
		Metrics:   a.Metrics,
	}
	mm.versions = append([]ModelVersion{version}, mm.versions...)

	return version, mm.saveVersions()
}

// ActivateVersion marks version active and returns it.
func (mm *ModelManager) ActivateVersion(version string) (ModelVersion, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.activate(version)
}

func (mm *ModelManager) activate(version string) (ModelVersion, error) {
	idx := -1
	for i := range mm.versions {
		mm.versions[i].IsActive = mm.versions[i].Version == version
		if mm.versions[i].IsActive {
			idx = i
		}
	}
	if idx == -1 {
		return ModelVersion{}, fmt.Errorf("version %s not found", version)
	}

	return mm.versions[idx], mm.saveVersions()
}

// Rollback activates the version registered before the active one.
func (mm *ModelManager) Rollback() (ModelVersion, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if len(mm.versions) < 2 {
		return ModelVersion{}, fmt.Errorf("no previous version available for rollback")
	}

	currentIdx := -1
	for i, v := range mm.versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		return ModelVersion{}, fmt.Errorf("no active version found")
	}
	if currentIdx+1 >= len(mm.versions) {
		return ModelVersion{}, fmt.Errorf("no previous version available")
	}

	return mm.activate(mm.versions[currentIdx+1].Version)
}

// CurrentVersion returns the active version, if any.
func (mm *ModelManager) CurrentVersion() (ModelVersion, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	for _, v := range mm.versions {
		if v.IsActive {
			return v, true
		}
	}
	return ModelVersion{}, false
}

// Version looks up a registered version.
func (mm *ModelManager) Version(version string) (ModelVersion, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	for _, v := range mm.versions {
		if v.Version == version {
			return v, true
		}
	}
	return ModelVersion{}, false
}

// ListVersions returns a copy of the registry, newest first.
func (mm *ModelManager) ListVersions() []ModelVersion {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return append([]ModelVersion(nil), mm.versions...)
}

func (mm *ModelManager) loadVersions() error {
	data, err := os.ReadFile(mm.versionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	return json.Unmarshal(data, &mm.versions)
}

func (mm *ModelManager) saveVersions() error {
	data, err := json.MarshalIndent(mm.versions, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(mm.versionsFile, data, 0o600)
}
