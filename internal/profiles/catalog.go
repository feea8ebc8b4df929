package profiles

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shre-db/linked-squad/go/assistant/internal/metrics"
)

//go:embed samples/*.yaml
var samplesFS embed.FS

// Summary describes a catalog entry without its data.
type Summary struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source"`
}

// LoadError aggregates per-file failures of a directory load.
type LoadError struct {
	Failures []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %d profile file(s): %s", len(e.Failures), strings.Join(e.Failures, "; "))
}

type entry struct {
	profile *Profile
	source  string
}

// Catalog is an in-memory Provider backed by the built-in sample profiles and an
// optional directory of YAML profile files.
type Catalog struct {
	mu       sync.RWMutex
	builtin  map[string]entry
	fromDir  map[string]entry
	dir      string
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCatalog loads the built-in samples and, when dir is set, every YAML file in it.
func NewCatalog(dir string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		builtin: make(map[string]entry),
		fromDir: make(map[string]entry),
		dir:     dir,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	err := fs.WalkDir(samplesFS, "samples", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isYAML(path) {
			return err
		}
		data, err := samplesFS.ReadFile(path)
		if err != nil {
			return err
		}
		p, err := decodeProfile(bytes.NewReader(data), path)
		if err != nil {
			return fmt.Errorf("builtin %s: %w", path, err)
		}
		c.builtin[p.ID] = entry{profile: p, source: "builtin"}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if dir != "" {
		if err := c.Reload(); err != nil {
			return nil, err
		}
	}
	c.updateSize()
	return c, nil
}

// Fetch implements Provider. URLs and bare slugs are both accepted.
func (c *Catalog) Fetch(ctx context.Context, identifier string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slug := Slug(identifier)

	c.mu.RLock()
	e, ok := c.fromDir[slug]
	if !ok {
		e, ok = c.builtin[slug]
	}
	c.mu.RUnlock()

	if !ok {
		metrics.ProfileLookups.WithLabelValues("not_found").Inc()
		return nil, &NotFoundError{Identifier: identifier, Suggestions: c.urls()}
	}
	metrics.ProfileLookups.WithLabelValues("found").Inc()
	p := *e.profile
	return &p, nil
}

// List returns the loaded profiles sorted by id.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Summary, 0, len(c.builtin)+len(c.fromDir))
	add := func(e entry) {
		out = append(out, Summary{ID: e.profile.ID, URL: e.profile.URL, Name: e.profile.Name(), Source: e.source})
	}
	for id, e := range c.builtin {
		if _, shadowed := c.fromDir[id]; !shadowed {
			add(e)
		}
	}
	for _, e := range c.fromDir {
		add(e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Size returns the number of distinct profiles.
func (c *Catalog) Size() int {
	return len(c.List())
}

// Reload re-reads the profile directory, replacing every directory entry.
// Built-in samples are kept.
func (c *Catalog) Reload() error {
	if c.dir == "" {
		return nil
	}
	info, err := os.Stat(c.dir)
	if err != nil {
		return fmt.Errorf("stat profile directory %s: %w", c.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("profile path %s is not a directory", c.dir)
	}

	loaded := make(map[string]entry)
	var failures []string
	walkFn := func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, walkErr))
			return nil
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}
		p, err := loadFile(path)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		if _, dup := loaded[p.ID]; dup {
			failures = append(failures, fmt.Sprintf("%s: duplicate profile id %q", path, p.ID))
			return nil
		}
		loaded[p.ID] = entry{profile: p, source: path}
		return nil
	}
	if err := filepath.WalkDir(c.dir, walkFn); err != nil {
		return fmt.Errorf("walk profile directory %s: %w", c.dir, err)
	}

	c.mu.Lock()
	c.fromDir = loaded
	c.mu.Unlock()
	c.updateSize()

	c.logger.Info("Profile catalog loaded",
		zap.String("dir", c.dir),
		zap.Int("profiles", len(loaded)),
		zap.Int("failures", len(failures)),
	)
	if len(failures) > 0 {
		return &LoadError{Failures: failures}
	}
	return nil
}

func (c *Catalog) urls() []string {
	list := c.List()
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.URL)
	}
	return out
}

func (c *Catalog) updateSize() {
	metrics.ProfileCatalogSize.Set(float64(c.Size()))
}

func loadFile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile %s: %w", path, err)
	}
	defer f.Close()
	return decodeProfile(f, path)
}

func decodeProfile(r io.Reader, path string) (*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	p.ID = Slug(p.ID)
	if p.URL == "" {
		p.URL = "https://www.linkedin.com/in/" + p.ID
	}
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	return &p, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
