//go:build windows

package store

import "os"

// fileOwner is not resolved on Windows; ownership lookups need the
// security API and the agent only needs a best-effort label.
func fileOwner(_ os.FileInfo) string {
	return ""
}
