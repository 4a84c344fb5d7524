package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"
)

// Manifest describes a build: the modules to load into one session and the
// programs linked from them.
//
//	target: spirv
//	modules:
//	  - name: triangle
//	    path: triangle.wgsl
//	programs:
//	  - name: triangle
//	    components: [triangle]
//	  - name: fragment
//	    components: ["triangle:fs_main"]
//	    split: true
type Manifest struct {
	Target   string        `json:"target,omitempty"`
	Output   string        `json:"output,omitempty"`
	Modules  []ModuleSpec  `json:"modules"`
	Programs []ProgramSpec `json:"programs"`
	dir      string
}

// ModuleSpec names one WGSL source file. Relative paths resolve against the
// manifest's directory.
type ModuleSpec struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Source string `json:"source,omitempty"`
}

// ProgramSpec is one linked composite. A component is either a module name or
// "module:entry" for a single entry point.
type ProgramSpec struct {
	Name       string   `json:"name"`
	Components []string `json:"components"`
	Split      bool     `json:"split,omitempty"`
}

// component splits a component reference into module and entry point names.
func component(ref string) (module, entry string) {
	module, entry, _ = strings.Cut(ref, ":")
	return module, entry
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// singleFile builds a manifest for one WGSL file linked as a whole.
func singleFile(path string) *Manifest {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Manifest{
		Modules:  []ModuleSpec{{Name: name, Path: filepath.Base(path)}},
		Programs: []ProgramSpec{{Name: name, Components: []string{name}}},
		dir:      filepath.Dir(path),
	}
}

func (m *Manifest) validate() error {
	if len(m.Modules) == 0 {
		return fmt.Errorf("no modules")
	}
	modules := make(map[string]bool, len(m.Modules))
	for i, mod := range m.Modules {
		if mod.Name == "" {
			return fmt.Errorf("module %d has no name", i)
		}
		if mod.Path == "" && mod.Source == "" {
			return fmt.Errorf("module %q has neither path nor source", mod.Name)
		}
		if modules[mod.Name] {
			return fmt.Errorf("module %q declared twice", mod.Name)
		}
		modules[mod.Name] = true
	}

	programs := make(map[string]bool, len(m.Programs))
	for i, p := range m.Programs {
		if p.Name == "" {
			return fmt.Errorf("program %d has no name", i)
		}
		if programs[p.Name] {
			return fmt.Errorf("program %q declared twice", p.Name)
		}
		programs[p.Name] = true
		for _, ref := range p.Components {
			if mod, _ := component(ref); !modules[mod] {
				return fmt.Errorf("program %q references unknown module %q", p.Name, mod)
			}
		}
	}
	return nil
}

// source returns the WGSL text and the path the module is registered under.
func (m *Manifest) source(mod ModuleSpec) (src, path string, err error) {
	if mod.Source != "" {
		path = mod.Path
		if path == "" {
			path = mod.Name + ".wgsl"
		}
		return mod.Source, path, nil
	}
	path = mod.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return string(data), mod.Path, nil
}
