package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"artifactd/internal/common/fsutil"
	"artifactd/pkg/types"
)

// File is the on-disk catalog shape.
type File struct {
	Artifacts []types.Descriptor `json:"artifacts" yaml:"artifacts" toml:"artifacts"`
}

// Load reads a descriptor catalog based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) ([]types.Descriptor, error) {
	if path == "" {
		return nil, fmt.Errorf("empty catalog path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var f File
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog extension: %s", ext)
	}
	if err := Validate(f.Artifacts); err != nil {
		return nil, err
	}
	return f.Artifacts, nil
}

// Validate rejects catalogs with missing or duplicate ids, unknown
// categories, or negative sizes.
func Validate(ds []types.Descriptor) error {
	seen := make(map[string]bool, len(ds))
	for i, d := range ds {
		if d.ID == "" {
			return fmt.Errorf("artifact %d: missing id", i)
		}
		if strings.ContainsAny(d.ID, `/\`) {
			return fmt.Errorf("artifact %q: id must not contain path separators", d.ID)
		}
		if seen[d.ID] {
			return fmt.Errorf("artifact %q: duplicate id", d.ID)
		}
		seen[d.ID] = true
		switch d.Category {
		case types.CategorySpeech, types.CategoryLanguage, types.CategoryVision, types.CategoryGesture:
		default:
			return fmt.Errorf("artifact %q: unknown category %q", d.ID, d.Category)
		}
		if d.SizeBytes < 0 || d.FootprintMB < 0 {
			return fmt.Errorf("artifact %q: negative size", d.ID)
		}
	}
	return nil
}

// Installed scans dir for installed artifact files and returns their ids,
// sorted. In-progress temp files are ignored.
func Installed(dir string) ([]string, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if fsutil.IsTempPath(name) || !strings.HasSuffix(name, fsutil.ArtifactExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fsutil.ArtifactExt))
	}
	sort.Strings(ids)
	return ids, nil
}
