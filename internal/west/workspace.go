package west

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is a west workspace found on the host.
type Workspace struct {
	Root         string // Absolute path; parent of .west/
	ManifestPath string // west.yml resolved from .west/config, may be empty
	Initialized  bool   // .west/ exists
}

// DetectWorkspace walks up from startDir to the nearest directory holding
// .west/. A bare west.yml is remembered on the way and used when no
// initialized workspace exists above startDir.
func DetectWorkspace(startDir string) *Workspace {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil
	}

	var manifest string
	for {
		if isDir(filepath.Join(dir, ".west")) {
			return &Workspace{
				Root:         dir,
				ManifestPath: ResolveManifest(dir),
				Initialized:  true,
			}
		}
		if manifest == "" {
			if candidate := filepath.Join(dir, "west.yml"); exists(candidate) {
				manifest = candidate
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if manifest == "" {
		return nil
	}
	return &Workspace{Root: filepath.Dir(manifest), ManifestPath: manifest}
}

// ResolveManifest reads the [manifest] path and file keys from
// <root>/.west/config. It returns "" when the config has no path.
func ResolveManifest(root string) string {
	f, err := os.Open(filepath.Join(root, ".west", "config"))
	if err != nil {
		return ""
	}
	defer f.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	if values["path"] == "" {
		return ""
	}
	file := values["file"]
	if file == "" {
		file = "west.yml"
	}
	return filepath.Join(root, values["path"], file)
}

// DefaultMount picks the host directory to bind into the toolchain container:
// the enclosing west workspace when cwd is inside one, otherwise fallback.
func DefaultMount(cwd, fallback string) string {
	if ws := DetectWorkspace(cwd); ws != nil {
		return ws.Root
	}
	return fallback
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
