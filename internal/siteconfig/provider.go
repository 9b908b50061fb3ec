// Package siteconfig loads per-site crawl configurations.
package siteconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/webcrawl-engine/internal/site"
)

// ErrNotFound is returned when no configuration exists for a hostname.
var ErrNotFound = errors.New("site config not found")

// Provider resolves site configurations by hostname.
type Provider interface {
	Site(ctx context.Context, hostname string) (site.Config, error)
	Sites(ctx context.Context) ([]site.Config, error)
}

// Static serves a fixed set of configurations.
type Static struct {
	mu    sync.RWMutex
	sites map[string]site.Config
	order []string
}

var _ Provider = (*Static)(nil)

// NewStatic indexes cfgs by hostname. Later entries replace earlier ones.
func NewStatic(cfgs ...site.Config) (*Static, error) {
	s := &Static{sites: make(map[string]site.Config, len(cfgs))}
	for _, cfg := range cfgs {
		if err := s.Put(cfg); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put validates cfg and stores it under its hostname.
func (s *Static) Put(cfg site.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("site %q: %w", cfg.HomeLink, err)
	}
	host := cfg.Hostname()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[host]; !ok {
		s.order = append(s.order, host)
	}
	s.sites[host] = cfg
	return nil
}

// Site implements Provider.
func (s *Static) Site(_ context.Context, hostname string) (site.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.sites[strings.ToLower(hostname)]
	if !ok {
		return site.Config{}, fmt.Errorf("%w: %s", ErrNotFound, hostname)
	}
	return cfg, nil
}

// Sites implements Provider, in insertion order.
func (s *Static) Sites(context.Context) ([]site.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]site.Config, 0, len(s.order))
	for _, host := range s.order {
		out = append(out, s.sites[host])
	}
	return out, nil
}

// LoadDir reads every .yaml and .yml file in dir. A file holds either one
// site config or a list of them.
func LoadDir(dir string, logger *zap.Logger) (*Static, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read site config dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	s, _ := NewStatic() //nolint:errcheck // no configs, no error
	for _, name := range names {
		path := filepath.Join(dir, name)
		cfgs, err := readFile(path)
		if err != nil {
			return nil, err
		}
		for _, cfg := range cfgs {
			if err := s.Put(cfg); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
		logger.Debug("loaded site configs", zap.String("file", path), zap.Int("sites", len(cfgs)))
	}
	logger.Info("site configs loaded", zap.String("dir", dir), zap.Int("sites", len(s.order)))
	return s, nil
}

func readFile(path string) ([]site.Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config dir
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes one YAML document holding a site config or a list of them.
func Parse(data []byte) ([]site.Config, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse site config: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var cfgs []site.Config
		if err := root.Decode(&cfgs); err != nil {
			return nil, fmt.Errorf("decode site configs: %w", err)
		}
		return withDefaults(cfgs), nil
	}
	var cfg site.Config
	if err := root.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode site config: %w", err)
	}
	return withDefaults([]site.Config{cfg}), nil
}

func withDefaults(cfgs []site.Config) []site.Config {
	for i := range cfgs {
		if cfgs[i].Auth == nil {
			cfgs[i].Auth = site.DefaultConfig(cfgs[i].HomeLink).Auth
		}
	}
	return cfgs
}

// Resolve returns the configuration for hostname, falling back to
// site.DefaultConfig for an https home page when p has none.
func Resolve(ctx context.Context, p Provider, hostname string) (site.Config, error) {
	if p != nil {
		cfg, err := p.Site(ctx, hostname)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return site.Config{}, err
		}
	}
	return site.DefaultConfig("https://" + hostname + "/"), nil
}
