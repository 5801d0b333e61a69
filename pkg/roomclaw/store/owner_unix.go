//go:build !windows

package store

import (
	"os"
	"os/user"
	"strconv"
	"syscall"
)

// fileOwner resolves the owning username of a file, falling back to the
// numeric uid.
func fileOwner(stat os.FileInfo) string {
	sys, ok := stat.Sys().(*syscall.Stat_t)
	if !ok {
		return ""
	}
	uid := strconv.FormatUint(uint64(sys.Uid), 10)
	if u, err := user.LookupId(uid); err == nil {
		return u.Username
	}
	return uid
}
