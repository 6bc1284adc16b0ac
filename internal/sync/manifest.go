package sync

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

// Manifest declares which directories feed which scopes. It is the
// file-backed equivalent of a bucket listing config: per-scope roots, path
// prefixes, and extension filters with shared defaults.
//
//	defaults:
//	  extensions: [".md", ".txt"]
//	scopes:
//	  tenant-a:
//	    path: /srv/kb/tenant-a
//	  tenant-b:
//	    path: /srv/kb/tenant-b
//	    prefix: docs/
//	    extensions: [".md"]
type Manifest struct {
	Defaults ManifestDefaults     `yaml:"defaults"`
	Scopes   map[string]ScopeSpec `yaml:"scopes"`
}

// ManifestDefaults applies to every scope that does not override them.
type ManifestDefaults struct {
	Extensions []string `yaml:"extensions"`
}

// ScopeSpec configures one scope's source directory.
type ScopeSpec struct {
	Path       string   `yaml:"path"`
	Prefix     string   `yaml:"prefix"`
	Extensions []string `yaml:"extensions"`
}

// LoadManifest reads and validates a sync manifest. Relative scope paths
// resolve against the manifest's own directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.CodeConfigNotFound,
				fmt.Sprintf("sync manifest %s", path), err)
		}
		return nil, apperrors.New(apperrors.CodeConfigInvalid,
			fmt.Sprintf("read sync manifest %s", path), err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, apperrors.New(apperrors.CodeConfigInvalid,
			fmt.Sprintf("parse sync manifest %s", path), err)
	}
	if len(m.Scopes) == 0 {
		return nil, apperrors.New(apperrors.CodeConfigInvalid,
			"sync manifest declares no scopes", nil)
	}

	base := filepath.Dir(path)
	for scope, spec := range m.Scopes {
		if spec.Path == "" {
			return nil, apperrors.New(apperrors.CodeConfigInvalid,
				fmt.Sprintf("scope %q has no path", scope), nil)
		}
		if !filepath.IsAbs(spec.Path) {
			spec.Path = filepath.Join(base, spec.Path)
			m.Scopes[scope] = spec
		}
	}
	return &m, nil
}

// Sources builds a DirSource per scope. A scope whose directory is missing
// fails the whole call; a manifest pointing nowhere is a config error, not
// a sync-time surprise.
func (m *Manifest) Sources() (map[string]Source, error) {
	sources := make(map[string]Source, len(m.Scopes))
	for scope, spec := range m.Scopes {
		exts := spec.Extensions
		if len(exts) == 0 {
			exts = m.Defaults.Extensions
		}
		src, err := NewDirSource(spec.Path, DirSourceOptions{
			Prefix:     spec.Prefix,
			Extensions: exts,
		})
		if err != nil {
			return nil, err
		}
		sources[scope] = src
	}
	return sources, nil
}
