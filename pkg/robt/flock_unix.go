//go:build unix

package robt

import (
	"os"

	"github.com/nilstore/rdms/pkg/errors"
	"golang.org/x/sys/unix"
)

// flockShared takes a shared advisory lock on f, grounded on reader.rs's
// use of fs2::FileExt::lock_shared to let multiple readers open an index
// concurrently while Purge still detects them.
func flockShared(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return errors.WrapIO("flock shared "+f.Name(), err)
	}
	return nil
}

// flockExclusiveNB attempts a non-blocking exclusive lock, grounded on
// index.rs's purge_file calling fs2::FileExt::try_lock_exclusive: Purge
// must fail loudly rather than block when a Reader still holds the file.
func flockExclusiveNB(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return &errors.PurgeFileError{Path: f.Name()}
	}
	return nil
}

func funlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
