// Package hotreload watches source directories in dev mode and turns
// frontend edits into reload events for connected dashboards.
package hotreload

import (
	"path/filepath"
	"strings"
)

type ChangeKind string

const (
	FrontendChanged ChangeKind = "frontend"
	BackendChanged  ChangeKind = "backend"
	OtherChanged    ChangeKind = "other"
)

var frontendExts = map[string]bool{
	".js":   true,
	".css":  true,
	".html": true,
	".tmpl": true,
}

// Classify maps a changed file to the kind of reload it calls for.
func Classify(path string) ChangeKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case frontendExts[ext]:
		return FrontendChanged
	case ext == ".go":
		return BackendChanged
	default:
		return OtherChanged
	}
}
