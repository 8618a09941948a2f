// Package security guards file operations driven by stored or user supplied
// paths.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideDirectory is returned for paths that resolve outside the
// permitted directory.
var ErrOutsideDirectory = errors.New("path is outside the permitted directory")

// ValidatePathWithinDirectory checks that path resolves inside dir once
// symlinks are followed. path need not exist; its deepest existing ancestor
// is resolved instead so a symlinked parent cannot be used to escape.
func ValidatePathWithinDirectory(path, dir string) error {
	canonicalPath, err := canonical(path)
	if err != nil {
		return err
	}
	canonicalDir, err := canonical(dir)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("%s: %w", path, ErrOutsideDirectory)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s escapes %s: %w", path, dir, ErrOutsideDirectory)
	}
	return nil
}

// ValidateTripLog checks that a stored trip log path lies inside the log
// directory and names a trip log before it is removed.
func ValidateTripLog(path, logDir string) error {
	if filepath.Ext(path) != ".bin" || !strings.HasPrefix(filepath.Base(path), "trip_") {
		return fmt.Errorf("%s is not a trip log", path)
	}
	return ValidatePathWithinDirectory(path, logDir)
}

// canonical returns the absolute path with symlinks resolved as far as the
// path exists.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
	}
}
