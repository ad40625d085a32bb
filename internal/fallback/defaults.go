package fallback

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPayload is one versioned static body served when every data stage fails.
type DefaultPayload struct {
	Kind    Kind `yaml:"kind"`
	Version int  `yaml:"version"`
	Body    any  `yaml:"body"`
}

type defaultsFile struct {
	Defaults []DefaultPayload `yaml:"defaults"`
}

// Defaults holds the highest version of each kind's default payload.
type Defaults struct {
	payloads map[Kind]DefaultPayload
}

// BuiltinDefaults returns the payloads used when no defaults file is configured.
func BuiltinDefaults() *Defaults {
	return &Defaults{payloads: map[Kind]DefaultPayload{
		KindStatsList: {
			Kind:    KindStatsList,
			Version: 1,
			Body: map[string]any{
				"partition": "",
				"sort":      SortRank,
				"order":     OrderAsc,
				"total":     0,
				"items":     []any{},
			},
		},
		KindStatsEntity: {
			Kind:    KindStatsEntity,
			Version: 1,
			Body: map[string]any{
				"partition": "",
				"stats":     nil,
			},
		},
	}}
}

// LoadDefaults reads versioned payloads from a YAML file layered over the
// built-ins. A missing file or empty path yields the built-ins alone.
func LoadDefaults(path string) (*Defaults, error) {
	d := BuiltinDefaults()
	if path == "" {
		return d, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("[FallbackChain] Defaults file not found, using built-in defaults", "path", path)
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read defaults %s: %w", path, err)
	}

	var file defaultsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse defaults %s: %w", path, err)
	}

	seen := make(map[Kind]int, len(file.Defaults))
	for i, p := range file.Defaults {
		if p.Kind == "" {
			return nil, fmt.Errorf("defaults %s entry %d: kind is required", path, i)
		}
		if p.Version <= 0 {
			return nil, fmt.Errorf("defaults %s entry %d (%s): version must be positive", path, i, p.Kind)
		}
		if p.Body == nil {
			return nil, fmt.Errorf("defaults %s entry %d (%s): body is required", path, i, p.Kind)
		}
		if _, err := json.Marshal(p.Body); err != nil {
			return nil, fmt.Errorf("defaults %s entry %d (%s): body is not JSON-encodable: %w", path, i, p.Kind, err)
		}
		// file entries replace built-ins; within the file the highest version wins
		if v, ok := seen[p.Kind]; ok && v >= p.Version {
			continue
		}
		seen[p.Kind] = p.Version
		d.payloads[p.Kind] = p
	}

	slog.Info("[FallbackChain] Loaded default payloads", "path", path, "kinds", len(d.payloads))
	return d, nil
}

// Lookup returns the JSON body for kind with partition filled in, and its version.
func (d *Defaults) Lookup(kind Kind, partition string) ([]byte, int, bool) {
	if d == nil {
		return nil, 0, false
	}
	p, ok := d.payloads[kind]
	if !ok {
		return nil, 0, false
	}

	body := p.Body
	if m, isMap := body.(map[string]any); isMap {
		filled := make(map[string]any, len(m)+1)
		for k, v := range m {
			filled[k] = v
		}
		filled["partition"] = partition
		body = filled
	}

	out, err := json.Marshal(body)
	if err != nil {
		return nil, 0, false
	}
	return out, p.Version, true
}
