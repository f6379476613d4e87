//go:build !unix

package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dannyswat/htmlstage"
)

// checkAccess falls back to the permission bits where access(2) is missing.
func checkAccess(p string, write bool) error {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %v", htmlstage.ErrPermissionDenied, err)
		}
		return err
	}
	if write && info.Mode().Perm()&0o200 == 0 {
		return fmt.Errorf("%w: %s is read-only", htmlstage.ErrPermissionDenied, p)
	}
	return nil
}
