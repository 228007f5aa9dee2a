// Package version exposes the build version embedded from the VERSION
// file at the repository root of the module.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the current version with surrounding whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}
