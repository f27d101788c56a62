//go:build !linux

package fixlog

import "os"

func datasync(f *os.File) error {
	return f.Sync()
}
