package models

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestName is the per-model metadata file the registry looks for.
const ManifestName = "manifest.yaml"

// Model is one installed model as described by its manifest.
type Model struct {
	Name          string
	Family        string
	ParameterSize string
	Quantization  string
	Format        string
	SizeBytes     int64
	Digest        string
	Template      string
	Capabilities  []string
	ModifiedAt    time.Time
	Dir           string
}

type manifest struct {
	Name          string   `yaml:"name"`
	Family        string   `yaml:"family"`
	ParameterSize string   `yaml:"parameter_size"`
	Quantization  string   `yaml:"quantization"`
	Format        string   `yaml:"format"`
	SizeBytes     int64    `yaml:"size_bytes"`
	Digest        string   `yaml:"digest"`
	Template      string   `yaml:"template"`
	Capabilities  []string `yaml:"capabilities"`
}

func loadManifest(dir string) (Model, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Model{}, err
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Model{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	if m.Format == "" {
		m.Format = "safetensors"
	}

	modified := time.Now()
	if info, err := os.Stat(path); err == nil {
		modified = info.ModTime()
	}
	size := m.SizeBytes
	if size == 0 {
		size = dirSize(dir)
	}

	return Model{
		Name:          m.Name,
		Family:        m.Family,
		ParameterSize: m.ParameterSize,
		Quantization:  m.Quantization,
		Format:        m.Format,
		SizeBytes:     size,
		Digest:        m.Digest,
		Template:      m.Template,
		Capabilities:  m.Capabilities,
		ModifiedAt:    modified,
		Dir:           dir,
	}, nil
}

// Canonical maps a requested model name to its registry key: lowercase with
// any :tag suffix stripped.
func Canonical(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(n, ':'); i >= 0 {
		n = n[:i]
	}
	return n
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
