//go:build !unix

package serial

import (
	"errors"
	"os"
)

// tryLock creates path exclusively. Unlike flock, a crashed holder leaves
// the file behind and it must be removed by hand.
func tryLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrLocked
		}
		return nil, err
	}
	return f, nil
}

func unlock(path string, f *os.File) error {
	f.Close()
	return os.Remove(path)
}
