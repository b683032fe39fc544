// Package registry is the workspace's durable record of known projects.
//
// One JSON file holds one record per project: pipeline status, the hashes
// of the last resolved plan, materialized view and generated bridge, and
// the last build outcome. Every pipeline stage boundary updates the record
// atomically (write-to-temp then rename), so a crash never leaves a
// half-written registry. The file is read once at startup to resume state.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors for registry operations.
var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrProjectExists     = errors.New("project already exists")
	ErrInvalidName       = errors.New("invalid name: must be alphanumeric with hyphens/underscores")
	ErrPathTraversal     = errors.New("path traversal detected")
	ErrRegistryCorrupted = errors.New("registry file corrupted")
)

// Status is a project's position in the pipeline.
type Status string

const (
	// StatusUncreated is the zero state of a project not yet registered.
	StatusUncreated Status = "uncreated"
	// StatusConfigured means the project's plan resolved successfully.
	StatusConfigured Status = "configured"
	// StatusBuilding means a build is currently running.
	StatusBuilding Status = "building"
	// StatusBuilt means the last build succeeded.
	StatusBuilt Status = "built"
	// StatusFailed means the last pipeline run failed.
	StatusFailed Status = "failed"
)

// namePattern validates project names.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Record is the persisted state of one project.
type Record struct {
	UUID           string     `json:"uuid"`
	Name           string     `json:"name"`
	CreatedAt      time.Time  `json:"created_at"`
	SourceRef      string     `json:"source_ref,omitempty"`
	Status         Status     `json:"status"`
	ConfigHash     string     `json:"config_hash,omitempty"`
	ViewHash       string     `json:"view_hash,omitempty"`
	BridgeHash     string     `json:"bridge_hash,omitempty"`
	BrandingPrefix string     `json:"branding_prefix,omitempty"`
	LastBuild      *time.Time `json:"last_build,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// registryData is the persisted file structure.
type registryData struct {
	Version  int                `json:"version"`
	Projects map[string]*Record `json:"projects"`
}

// Registry manages project records with durable, atomic persistence.
type Registry struct {
	mu       sync.RWMutex
	filePath string
	data     *registryData
}

// New opens (or creates) the registry file under the given state directory.
func New(stateDir string) (*Registry, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	r := &Registry{
		filePath: filepath.Join(stateDir, "registry.json"),
		data: &registryData{
			Version:  1,
			Projects: make(map[string]*Record),
		},
	}

	if err := r.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return r, nil
}

// ValidateName checks if a project name is safe for filesystem paths.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: name too long (max 255)", ErrInvalidName)
	}
	if !namePattern.MatchString(name) {
		return ErrInvalidName
	}
	if name == "." || name == ".." {
		return ErrPathTraversal
	}
	for _, c := range name {
		if c == '/' || c == '\\' || c == '\x00' {
			return ErrPathTraversal
		}
	}
	if filepath.Clean(name) != name {
		return ErrPathTraversal
	}
	return nil
}

// Create registers a new project. Fails if the name is already taken.
func (r *Registry) Create(name, sourceRef string) (*Record, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data.Projects[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectExists, name)
	}

	rec := &Record{
		UUID:      uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		SourceRef: sourceRef,
		Status:    StatusConfigured,
	}
	r.data.Projects[name] = rec

	if err := r.save(); err != nil {
		delete(r.data.Projects, name)
		return nil, err
	}
	return rec.clone(), nil
}

// Get returns a copy of the project record.
func (r *Registry) Get(name string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.data.Projects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	return rec.clone(), nil
}

// List returns copies of all records, sorted by project name.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.data.Projects))
	for _, rec := range r.data.Projects {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete removes a project record.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.data.Projects[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	delete(r.data.Projects, name)

	if err := r.save(); err != nil {
		r.data.Projects[name] = rec
		return err
	}
	return nil
}

// UpdateStage applies a mutation to a project's record and persists it
// atomically. This is the single write path used at pipeline stage
// boundaries; the record is never left half-written.
func (r *Registry) UpdateStage(name string, fn func(*Record)) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.data.Projects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}

	updated := rec.clone()
	fn(updated)
	// Name and identity are immutable.
	updated.Name = rec.Name
	updated.UUID = rec.UUID
	updated.CreatedAt = rec.CreatedAt

	r.data.Projects[name] = updated
	if err := r.save(); err != nil {
		r.data.Projects[name] = rec
		return nil, err
	}
	return updated.clone(), nil
}

// BrandingInUse reports whether a branding identifier prefix is claimed by
// a project other than the named one. Implements config.BrandingIndex.
func (r *Registry) BrandingInUse(prefix, project string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, rec := range r.data.Projects {
		if name != project && rec.BrandingPrefix == prefix {
			return true
		}
	}
	return false
}

func (rec *Record) clone() *Record {
	c := *rec
	if rec.LastBuild != nil {
		t := *rec.LastBuild
		c.LastBuild = &t
	}
	return &c
}

// load reads the registry from disk.
func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}

	var rd registryData
	if err := json.Unmarshal(data, &rd); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryCorrupted, err)
	}
	if rd.Projects == nil {
		rd.Projects = make(map[string]*Record)
	}
	r.data = &rd
	return nil
}

// save writes the registry to disk atomically.
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tmpPath := r.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmpPath, r.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename registry: %w", err)
	}
	return nil
}
