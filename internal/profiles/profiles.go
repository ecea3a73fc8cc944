// Package profiles loads parameter presets that are merged into DSL lines.
package profiles

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
)

//go:embed builtin/*.json builtin/*.yaml
var builtinFS embed.FS

var ErrNotFound = errors.New("profile not found")

// Profile is a named set of param defaults.
type Profile struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Defaults    map[string]any `json:"defaults" yaml:"defaults"`

	// Source is the file the profile was read from.
	Source string `json:"-" yaml:"-"`
}

// Store resolves profiles from the embedded built-ins and an optional user
// directory. User profiles shadow built-ins with the same name.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Decode parses a profile file. ext selects the format (".json", ".yaml",
// ".yml"); the profile name defaults to the file stem.
func Decode(data []byte, ext, source string) (Profile, error) {
	var p Profile
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Profile{}, fmt.Errorf("invalid profile %s: %w", source, err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&p); err != nil {
			return Profile{}, fmt.Errorf("invalid profile %s: %w", source, err)
		}
	default:
		return Profile{}, fmt.Errorf("invalid profile %s: unsupported extension %q", source, ext)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(path.Base(filepath.ToSlash(source)), path.Ext(source))
	}
	p.Source = source
	if err := Validate(p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks that every default is a scalar.
func Validate(p Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("invalid profile %s: name must be a non-empty string", p.Source)
	}
	keys := make([]string, 0, len(p.Defaults))
	for k := range p.Defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch p.Defaults[k].(type) {
		case nil, string, bool, int, int64, float64, json.Number:
		default:
			return fmt.Errorf("invalid profile %s: defaults.%s must be string|number|boolean|null", p.Source, k)
		}
	}
	for i, tag := range p.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("invalid profile %s: tags[%d] must be a non-empty string", p.Source, i)
		}
	}
	return nil
}

type loaded struct {
	profiles map[string]Profile
	// broken maps a file stem to its load error so Read can report it.
	broken  map[string]error
	invalid []error
}

func (s *Store) load() (loaded, error) {
	out := loaded{profiles: map[string]Profile{}, broken: map[string]error{}}
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return out, err
	}
	if err := loadFS(&out, sub, "builtin:"); err != nil {
		return out, err
	}
	if s.Dir == "" {
		return out, nil
	}
	info, err := os.Stat(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if !info.IsDir() {
		return out, fmt.Errorf("profiles path is not a directory: %s", s.Dir)
	}
	return out, loadFS(&out, os.DirFS(s.Dir), s.Dir+string(filepath.Separator))
}

func loadFS(out *loaded, fsys fs.FS, prefix string) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}
	for _, e := range entries {
		ext := strings.ToLower(path.Ext(e.Name()))
		if e.IsDir() || (ext != ".json" && ext != ".yaml" && ext != ".yml") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return err
		}
		p, err := Decode(data, ext, prefix+e.Name())
		if err != nil {
			out.invalid = append(out.invalid, err)
			out.broken[stem] = err
			delete(out.profiles, stem)
			continue
		}
		delete(out.broken, p.Name)
		out.profiles[p.Name] = p
	}
	return nil
}

// All returns every valid profile sorted by name. Invalid files are skipped
// and reported in the second return value.
func (s *Store) All() ([]Profile, []error, error) {
	l, err := s.load()
	if err != nil {
		return nil, nil, err
	}
	out := make([]Profile, 0, len(l.profiles))
	for _, p := range l.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, l.invalid, nil
}

// List returns profile names, filtered by tag (case-insensitive) when tag is
// non-empty.
func (s *Store) List(tag string) ([]string, []error, error) {
	return s.filter(func(p Profile) bool {
		if tag == "" {
			return true
		}
		for _, t := range p.Tags {
			if strings.EqualFold(t, tag) {
				return true
			}
		}
		return false
	})
}

// Search matches query against names, descriptions and tags.
func (s *Store) Search(query string) ([]string, []error, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	return s.filter(func(p Profile) bool {
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Description), q) {
			return true
		}
		for _, t := range p.Tags {
			if strings.Contains(strings.ToLower(t), q) {
				return true
			}
		}
		return false
	})
}

func (s *Store) filter(keep func(Profile) bool) ([]string, []error, error) {
	all, invalid, err := s.All()
	if err != nil {
		return nil, nil, err
	}
	var names []string
	for _, p := range all {
		if keep(p) {
			names = append(names, p.Name)
		}
	}
	return names, invalid, nil
}

func (s *Store) Read(name string) (Profile, error) {
	l, err := s.load()
	if err != nil {
		return Profile{}, err
	}
	if p, ok := l.profiles[name]; ok {
		return p, nil
	}
	if err, ok := l.broken[name]; ok {
		return Profile{}, err
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Apply merges the profile defaults into line. Precedence, lowest first:
// profile defaults, params already on the line, overrides.
func (s *Store) Apply(name, line string, overrides map[string]any) (string, error) {
	p, err := s.Read(name)
	if err != nil {
		return "", err
	}
	cmd, err := dsl.Parse(line)
	if err != nil {
		return "", err
	}
	params := make(map[string]any, len(p.Defaults)+len(cmd.Params)+len(overrides))
	for k, v := range p.Defaults {
		params[k] = v
	}
	for k, v := range cmd.Params {
		params[k] = v
	}
	for k, v := range overrides {
		params[k] = v
	}
	merged, err := dsl.FromMap(map[string]any{
		"op":     cmd.Op,
		"target": cmd.Target,
		"count":  cmd.Count,
		"params": params,
	})
	if err != nil {
		return "", err
	}
	return dsl.Serialize(merged)
}

// ParseOverrides turns repeated --set key=value flags into a param map.
func ParseOverrides(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, err := dsl.ParseAssignment(pair)
		if err != nil {
			return nil, fmt.Errorf("invalid --set %q: expected key=value: %w", pair, err)
		}
		out[key] = value
	}
	return out, nil
}
