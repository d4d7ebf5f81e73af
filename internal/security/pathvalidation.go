// Package security guards the filesystem locations scan output may be
// written to.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ProjectRelativePrefix marks an output path as relative to the project root.
const ProjectRelativePrefix = "//"

// ErrPathEscapesRoot is returned when a path resolves outside its root.
var ErrPathEscapesRoot = errors.New("path escapes root directory")

// ValidatePathWithinDirectory checks that filePath stays within safeDir once
// "..", symlinks, and symlinked parents of not-yet-created paths are resolved.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalSafeDir, canonicalize(absPath))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathEscapesRoot, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s not within %s", ErrPathEscapesRoot, filePath, safeDir)
	}
	return nil
}

// canonicalize resolves symlinks in the deepest existing ancestor of path,
// so a not-yet-created file under a symlinked directory is still caught.
func canonicalize(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	for dir := filepath.Dir(absPath); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, absPath)
			return filepath.Join(resolved, rest)
		}
		if dir == filepath.Dir(dir) {
			return absPath
		}
	}
}

// ResolveWithinRoot resolves an output directory. Paths starting with "//"
// and relative paths are joined to root and must stay inside it. Absolute
// paths are returned cleaned.
func ResolveWithinRoot(path, root string) (string, error) {
	switch {
	case strings.HasPrefix(path, ProjectRelativePrefix):
		path = filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(path, ProjectRelativePrefix)))
	case filepath.IsAbs(path):
		return filepath.Clean(path), nil
	default:
		path = filepath.Join(root, path)
	}
	if err := ValidatePathWithinDirectory(path, root); err != nil {
		return "", err
	}
	return path, nil
}

// SanitizeFilename makes a safe file name from an arbitrary string. Runs of
// characters other than ASCII letters, digits, dot, underscore or dash
// become a single underscore, and the result is capped at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
