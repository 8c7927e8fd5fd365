// Package pathguard confirms that a path lies inside a storage root before it is
// read or deleted.
package pathguard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrSecurityViolation = errors.New("path is outside the temporary storage root")

// Validate succeeds only when path, after resolving symlinks and ".." segments,
// is a strict descendant of root. Both must exist.
func Validate(path, root string) error {
	canonicalRoot, err := canonical(root)
	if err != nil {
		return fmt.Errorf("%w: resolve root: %v", ErrSecurityViolation, err)
	}
	canonicalPath, err := canonical(path)
	if err != nil {
		return fmt.Errorf("%w: resolve path: %v", ErrSecurityViolation, err)
	}

	rel, err := filepath.Rel(canonicalRoot, canonicalPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSecurityViolation, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrSecurityViolation, path)
	}
	return nil
}

func canonical(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
