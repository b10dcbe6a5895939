//go:build unix || linux || darwin || freebsd || openbsd || netbsd

package hostmem

import (
	"golang.org/x/sys/unix"
)

func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_ANON | unix.MAP_PRIVATE

	data, err := unix.Mmap(-1, 0, size, prot, flags)
	if err != nil {
		return nil, nil, err
	}

	return data, unix.Munmap, nil
}

func osPin(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	// Fails with ENOMEM/EPERM when RLIMIT_MEMLOCK is too low.
	return unix.Mlock(data)
}

func osUnpin(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munlock(data)
}
