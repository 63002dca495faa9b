// Package profile supplies tenants' strategic profiles.
package profile

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// Provider returns a tenant's strategic profile. A missing profile is
// (nil, nil): enrichment that depends on it is skipped.
type Provider interface {
	Get(ctx context.Context, tenantID string) (*model.StrategicProfile, error)
}

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FileProvider reads <dir>/<tenant>.yaml and caches what it reads.
type FileProvider struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*model.StrategicProfile
}

// NewFileProvider creates a FileProvider. An empty dir means no tenant has
// a profile.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir, cache: make(map[string]*model.StrategicProfile)}
}

// Get implements Provider.
func (p *FileProvider) Get(_ context.Context, tenantID string) (*model.StrategicProfile, error) {
	if p.dir == "" {
		return nil, nil
	}
	if !tenantPattern.MatchString(tenantID) {
		return nil, eris.Errorf("profile: invalid tenant id %q", tenantID)
	}

	p.mu.RLock()
	prof, ok := p.cache[tenantID]
	p.mu.RUnlock()
	if ok {
		return prof, nil
	}

	data, err := os.ReadFile(filepath.Join(p.dir, tenantID+".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "profile: read %s", tenantID)
	}

	prof = &model.StrategicProfile{}
	if err := yaml.Unmarshal(data, prof); err != nil {
		return nil, eris.Wrapf(err, "profile: parse %s", tenantID)
	}
	if prof.TenantID == "" {
		prof.TenantID = tenantID
	}

	p.mu.Lock()
	p.cache[tenantID] = prof
	p.mu.Unlock()
	return prof, nil
}

// Static serves fixed profiles, keyed by tenant id.
type Static map[string]*model.StrategicProfile

// Get implements Provider.
func (s Static) Get(_ context.Context, tenantID string) (*model.StrategicProfile, error) {
	return s[tenantID], nil
}
