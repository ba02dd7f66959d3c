package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docenrich/enhance"
	"github.com/hazyhaar/docenrich/horosafe"
	"github.com/hazyhaar/docenrich/registry"
)

// DomainOther is the primary domain of a profile with no domain enabled.
const DomainOther = "other"

// Flags is an ordered map of 0/1 switches. Keys starting with "_" are
// comments and ignored.
type Flags struct {
	keys []string
	on   map[string]bool
}

// NewFlags enables the given keys, in order.
func NewFlags(enabled ...string) Flags {
	f := Flags{on: map[string]bool{}}
	for _, k := range enabled {
		f.Set(k, true)
	}
	return f
}

// Set records key as enabled or disabled.
func (f *Flags) Set(key string, on bool) {
	if f.on == nil {
		f.on = map[string]bool{}
	}
	if _, ok := f.on[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.on[key] = on
}

// Enabled returns the enabled keys in file order.
func (f Flags) Enabled() []string {
	var out []string
	for _, k := range f.keys {
		if f.on[k] {
			out = append(out, k)
		}
	}
	return out
}

// UnmarshalYAML keeps the key order and rejects values other than 0 or 1.
func (f *Flags) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		if strings.HasPrefix(key, "_") {
			continue
		}
		var v int
		if err := val.Decode(&v); err != nil || (v != 0 && v != 1) {
			return fmt.Errorf("line %d: %s must be 0 or 1, got %q", val.Line, key, val.Value)
		}
		f.Set(key, v == 1)
	}
	return nil
}

// MarshalJSON writes the switches as a 0/1 object.
func (f Flags) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, len(f.keys))
	for _, k := range f.keys {
		if f.on[k] {
			m[k] = 1
		} else {
			m[k] = 0
		}
	}
	return json.Marshal(m)
}

// Profile is a client profile, profiles/{namespace}.yaml.
type Profile struct {
	ClientName         string `yaml:"client_name" json:"client_name"`
	ClientID           string `yaml:"client_id" json:"client_id"`
	Description        string `yaml:"description" json:"description"`
	Version            string `yaml:"version" json:"version"`
	EnhancementTypes   Flags  `yaml:"enhancement_types" json:"enhancement_types"`
	Domains            Flags  `yaml:"domains" json:"domains"`
	DomainHint         string `yaml:"domain_hint" json:"domain_hint,omitempty"`
	CustomInstructions string `yaml:"custom_instructions" json:"custom_instructions,omitempty"`
}

// EnabledTypes returns the enabled enhancement type ids.
func (p *Profile) EnabledTypes() []string { return p.EnhancementTypes.Enabled() }

// PrimaryDomain returns the first enabled domain, DomainOther when none.
func (p *Profile) PrimaryDomain() string {
	if d := p.Domains.Enabled(); len(d) > 0 {
		return d[0]
	}
	return DomainOther
}

// Selection turns the profile into an executor selection. An explicit
// domain_hint wins over the primary domain.
func (p *Profile) Selection() enhance.Selection {
	hint := p.DomainHint
	if hint == "" {
		hint = p.PrimaryDomain()
	}
	return enhance.Selection{
		TypeIDs:            p.EnabledTypes(),
		DomainHint:         hint,
		CustomInstructions: p.CustomInstructions,
	}
}

// Validate checks the version format.
func (p *Profile) Validate() error {
	if p.Version != "" {
		for _, r := range p.Version {
			if r < '0' || r > '9' {
				return fmt.Errorf("version must be an integer string, got %q", p.Version)
			}
		}
	}
	return nil
}

// ParseProfile decodes a profile file.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("orchestrator: profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: profile: %w", err)
	}
	return &p, nil
}

// Profiles loads client profiles from a directory and caches them until
// Reload.
type Profiles struct {
	dir    string
	reg    *registry.Registry
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*Profile
}

// NewProfiles reads profiles from dir. reg supplies the fallback profile.
func NewProfiles(dir string, reg *registry.Registry, logger *slog.Logger) *Profiles {
	if reg == nil {
		reg = registry.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Profiles{dir: dir, reg: reg, logger: logger, cache: map[string]*Profile{}}
}

// Get returns the profile of namespace. A namespace without a file gets
// the registry defaults.
func (ps *Profiles) Get(namespace string) (*Profile, error) {
	if err := horosafe.ValidateIdentifier(namespace); err != nil {
		return nil, fmt.Errorf("orchestrator: namespace: %w", err)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if p, ok := ps.cache[namespace]; ok {
		return p, nil
	}

	p, err := ps.read(namespace)
	if errors.Is(err, os.ErrNotExist) {
		ps.logger.Warn("orchestrator: no profile, using registry defaults", "namespace", namespace)
		p = ps.fallback(namespace)
	} else if err != nil {
		return nil, err
	}
	ps.cache[namespace] = p
	return p, nil
}

func (ps *Profiles) read(namespace string) (*Profile, error) {
	if ps.dir == "" {
		return nil, os.ErrNotExist
	}
	path, err := horosafe.SafePath(ps.dir, namespace+".yaml")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, filepath.Base(path))
	}
	if p.ClientID == "" {
		p.ClientID = namespace
	}
	return p, nil
}

func (ps *Profiles) fallback(namespace string) *Profile {
	return &Profile{
		ClientName:       namespace,
		ClientID:         namespace,
		Description:      "registry defaults",
		Version:          "1",
		EnhancementTypes: NewFlags(ps.reg.DefaultSelection()...),
		Domains:          NewFlags(),
	}
}

// List returns the namespaces that have a profile file.
func (ps *Profiles) List() ([]string, error) {
	if ps.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(ps.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list profiles: %w", err)
	}
	var out []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".yaml")
		if ok && !e.IsDir() && horosafe.ValidateIdentifier(name) == nil {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Reload drops the cache.
func (ps *Profiles) Reload() {
	ps.mu.Lock()
	ps.cache = map[string]*Profile{}
	ps.mu.Unlock()
}
