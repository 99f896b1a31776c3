//go:build !linux

package directory

import "os"

func preallocate(file *os.File, size int64) error {
	return file.Truncate(size)
}
