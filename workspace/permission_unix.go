//go:build unix

package workspace

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dannyswat/htmlstage"
)

func checkAccess(p string, write bool) error {
	mode := uint32(unix.R_OK)
	if write {
		mode |= unix.W_OK
	}
	if err := unix.Access(p, mode); err != nil {
		if err == unix.EACCES || err == unix.EPERM || err == unix.EROFS {
			return fmt.Errorf("%w: %v", htmlstage.ErrPermissionDenied, err)
		}
		return err
	}
	return nil
}
