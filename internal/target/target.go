// Package target describes the board families zflow can provision, build
// and flash.
package target

import (
	_ "embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed targets.yaml
var builtin []byte

// FlashParams are the chip parameters handed to the flashing tool.
type FlashParams struct {
	Tool      string `yaml:"tool" json:"tool"`
	Chip      string `yaml:"chip" json:"chip"`
	BaudRate  int    `yaml:"baud_rate" json:"baud_rate"`
	Mode      string `yaml:"mode" json:"mode"`
	Frequency string `yaml:"frequency" json:"frequency"`
	Offset    string `yaml:"offset" json:"offset"`
	Before    string `yaml:"before" json:"before"`
	After     string `yaml:"after" json:"after"`
}

// Target identifies a hardware family and everything needed to provision its
// toolchain. A Target is a value; it is never mutated once selected.
type Target struct {
	Name         string      `yaml:"-" json:"name"`
	Image        string      `yaml:"image" json:"image"`
	Dockerfile   string      `yaml:"dockerfile" json:"dockerfile"`
	DefaultBoard string      `yaml:"default_board" json:"default_board"`
	BaudRate     int         `yaml:"baud_rate" json:"baud_rate"`
	MountPoint   string      `yaml:"mount_point" json:"mount_point"`
	BuildSubdir  string      `yaml:"build_subdir" json:"build_subdir"`
	Binary       string      `yaml:"binary" json:"binary"`
	Ports        []string    `yaml:"ports" json:"ports,omitempty"`
	Flash        FlashParams `yaml:"flash" json:"flash"`
}

// ArtifactPath returns the deterministic firmware path for a project,
// relative to the workspace mount: <project>/build/<subdir>/<binary>.
func (t Target) ArtifactPath(project string) string {
	return path.Join(path.Clean(project), "build", t.BuildSubdir, t.Binary)
}

// WithBaudRate returns a copy of the flash parameters with the baud rate
// replaced when rate is positive.
func (p FlashParams) WithBaudRate(rate int) FlashParams {
	if rate > 0 {
		p.BaudRate = rate
	}
	return p
}

// Registry holds the known targets by name.
type Registry struct {
	targets map[string]Target
}

type registryFile struct {
	Targets map[string]Target `yaml:"targets"`
}

// Builtin returns the registry compiled into the binary.
func Builtin() (*Registry, error) {
	return Parse(builtin)
}

// Load reads a registry from path, or the builtin registry when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Builtin()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML registry and fills defaults.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}
	if len(f.Targets) == 0 {
		return nil, fmt.Errorf("parse targets: no targets defined")
	}

	reg := &Registry{targets: make(map[string]Target, len(f.Targets))}
	for name, t := range f.Targets {
		t.Name = name
		if t.Image == "" || t.Dockerfile == "" {
			return nil, fmt.Errorf("target %q: image and dockerfile are required", name)
		}
		if t.MountPoint == "" {
			t.MountPoint = "/workspace"
		}
		if t.BuildSubdir == "" {
			t.BuildSubdir = "zephyr"
		}
		if t.Binary == "" {
			t.Binary = "zephyr.bin"
		}
		if t.BaudRate == 0 {
			t.BaudRate = 115200
		}
		if t.Flash.Tool == "" {
			t.Flash.Tool = "esptool.py"
		}
		if t.Flash.Offset == "" {
			t.Flash.Offset = "0x0"
		}
		reg.targets[name] = t
	}
	return reg, nil
}

// Get returns the named target.
func (r *Registry) Get(name string) (Target, error) {
	t, ok := r.targets[strings.TrimSpace(name)]
	if !ok {
		return Target{}, fmt.Errorf("unknown target %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return t, nil
}

// Names returns target names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.targets))
	for n := range r.targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
