// Package configs provides embedded configuration templates for clementine.
//
// Templates are embedded at build time with //go:embed so they ship in
// every distribution, source builds included. They are written out by
// 'clementine init' and serve as commented starting points; the real
// defaults live in internal/config.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration,
// created at ~/.config/clementine/config.yaml. It holds machine-specific
// settings: data directory, Ollama host, cache sizes.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ManifestTemplate is the template for the sync manifest, created as
// clementine.yaml next to the content it describes. It declares which
// directories feed which scopes.
//
//go:embed manifest.example.yaml
var ManifestTemplate string
