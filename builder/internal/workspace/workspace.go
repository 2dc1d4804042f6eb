package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns per-deployment working directories under a common root.
type Manager struct {
	root string
}

// New ensures the workspace root exists.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Prepare returns an empty directory for the deployment, wiping leftovers
// from an earlier attempt.
func (m *Manager) Prepare(deploymentID string) (string, error) {
	dir, err := m.dir(deploymentID)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Release removes the deployment's directory.
func (m *Manager) Release(deploymentID string) error {
	dir, err := m.dir(deploymentID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (m *Manager) dir(deploymentID string) (string, error) {
	if deploymentID == "" {
		return "", fmt.Errorf("workspace identifier cannot be empty")
	}
	dir := filepath.Join(m.root, deploymentID)
	rel, err := filepath.Rel(m.root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("workspace identifier %q escapes root", deploymentID)
	}
	return dir, nil
}
