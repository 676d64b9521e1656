package west

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Project represents a buildable Zephyr project.
type Project struct {
	Name string // Last path segment (display name)
	Path string // Slash-separated path relative to the workspace root
}

// skipDirs lists directories to skip during recursive scan.
var skipDirs = map[string]bool{
	".git":         true,
	"build":        true,
	"twister-out":  true,
	".west":        true,
	".venv":        true,
	"node_modules": true,
	"__pycache__":  true,
	"zephyr":       true,
	"modules":      true,
}

// ListProjects discovers buildable Zephyr projects under root by scanning
// for CMakeLists.txt files that contain find_package(Zephyr. The zephyr and
// modules trees are skipped so their samples do not flood the result.
func ListProjects(root string) ([]Project, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	var projects []Project
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() != "CMakeLists.txt" || !containsZephyrPackage(p) {
			return nil
		}

		dir := filepath.Dir(p)
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return nil
		}
		projects = append(projects, Project{
			Name: filepath.Base(dir),
			Path: filepath.ToSlash(rel),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].Path < projects[j].Path
	})
	return projects, nil
}

func containsZephyrPackage(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	// find_package(Zephyr ...) sits near the top of every app's CMakeLists.txt.
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return strings.Contains(string(buf[:n]), "find_package(Zephyr")
}
