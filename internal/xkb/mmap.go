package xkb

import "golang.org/x/sys/unix"

// mmapFd maps size bytes of fd read-only, used to read a compositor's
// keymap blob without copying it through a read(2) loop first.
func mmapFd(fd int, size int) ([]byte, error) {
	return unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
}

func munmap(data []byte) {
	unix.Munmap(data)
}
