// Package definition loads operation tables from YAML, validates them, and
// provides a lookup registry with atomic snapshot swap.
package definition

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pitabwire/seqctl/model"
	"gopkg.in/yaml.v3"
)

// Loader scans directories for YAML operation tables, parses them, and
// computes SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a ServiceDefinition.
func (l *Loader) LoadAll(directories []string) ([]model.ServiceDefinition, error) {
	var defs []model.ServiceDefinition

	for _, dir := range directories {
		loaded, err := l.LoadFS(os.DirFS(dir))
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
		for i := range loaded {
			loaded[i].SourceFile = filepath.Join(dir, loaded[i].SourceFile)
		}
		defs = append(defs, loaded...)
	}

	return defs, nil
}

// LoadFS walks fsys for operation tables. SourceFile is recorded relative to
// the root of fsys. Files are returned in lexical path order.
func (l *Loader) LoadFS(fsys fs.FS) ([]model.ServiceDefinition, error) {
	var paths []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	defs := make([]model.ServiceDefinition, 0, len(paths))
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		def, err := l.parse(path, data)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFile loads and parses a single YAML operation table.
func (l *Loader) LoadFile(path string) (model.ServiceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ServiceDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return l.parse(path, data)
}

func (l *Loader) parse(path string, data []byte) (model.ServiceDefinition, error) {
	var def model.ServiceDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.ServiceDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Bindings default to the service declaring them.
	for i := range def.Operations {
		if def.Operations[i].Binding.ServiceID == "" {
			def.Operations[i].Binding.ServiceID = def.Service
		}
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path

	return def, nil
}
