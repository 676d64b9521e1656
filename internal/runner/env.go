package runner

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// HostEnv detects a Python virtual environment that provides tool and
// returns a copy of the process environment with its bin/ directory
// prepended to PATH. Detection order: venvOverride → <root>/.venv/.
// It returns nil when no candidate contains the tool, meaning commands
// inherit the parent environment unchanged.
func HostEnv(root, venvOverride, tool string) []string {
	var candidates []string
	if venvOverride != "" {
		candidates = append(candidates, venvOverride)
	}
	if root != "" {
		candidates = append(candidates, filepath.Join(root, ".venv"))
	}

	for _, venv := range candidates {
		binDir := venvBinDir(venv)
		if _, err := os.Stat(filepath.Join(binDir, exeName(tool))); err == nil {
			return buildEnvWithPath(binDir)
		}
	}
	return nil
}

// venvBinDir returns the bin (or Scripts on Windows) directory for a venv.
func venvBinDir(venvPath string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvPath, "Scripts")
	}
	return filepath.Join(venvPath, "bin")
}

// exeName returns the executable name for the current OS.
func exeName(tool string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(tool, ".exe") {
		return tool + ".exe"
	}
	return tool
}

// buildEnvWithPath creates a copy of the current environment with binDir
// prepended to PATH.
func buildEnvWithPath(binDir string) []string {
	env := os.Environ()
	result := make([]string, 0, len(env)+1)
	pathSet := false

	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			result = append(result, "PATH="+binDir+string(os.PathListSeparator)+e[5:])
			pathSet = true
		} else {
			result = append(result, e)
		}
	}

	if !pathSet {
		result = append(result, "PATH="+binDir)
	}

	return result
}
