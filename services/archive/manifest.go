package archive

import (
	"time"
)

const (
	manifestVersion  = "1"
	manifestFileName = "manifest.yaml"
)

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   string         `yaml:"version"`
	TakenAt   time.Time      `yaml:"taken_at"`
	Encrypted bool           `yaml:"encrypted"`
	Counts    map[string]int `yaml:"counts"`
	Files     []ManifestFile `yaml:"files"`
}

// ManifestFile is one JSON document inside the archive.
type ManifestFile struct {
	Path   string `yaml:"path"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}
