package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// searchRoots are the fixed filesystem locations probed before falling
// back to a PATH search.
func searchRoots() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"/usr/local/bin",
		"/opt/homebrew/bin",
		"/usr/bin",
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, "bin"),
	}
}

// FindBinary locates the configured assistant binary by probing a
// fixed list of filesystem roots and falling back to an environment
// PATH search. Not finding it is a fatal start error.
func FindBinary(name string) (string, error) {
	if filepath.IsAbs(name) {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return name, nil
		}
	}

	for _, root := range searchRoots() {
		candidate := filepath.Join(root, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("agent: binary %q not found in fixed roots or PATH", name)
}
