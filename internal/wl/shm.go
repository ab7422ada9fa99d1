package wl

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ShmFormat mirrors the wl_shm.format enum values this bridge cares about.
// The compositor always advertises Argb8888/Xrgb8888; screencopy buffers
// use whichever of those the compositor prefers.
type ShmFormat uint32

const (
	ShmFormatArgb8888 ShmFormat = 0
	ShmFormatXrgb8888 ShmFormat = 1
)

// Shm is the bound wl_shm global.
type Shm struct {
	d  *Display
	id uint32
}

// BindShm binds the wl_shm global, if announced.
func (r *Registry) BindShm() (*Shm, error) {
	g, ok := r.Find("wl_shm")
	if !ok {
		return nil, errors.New("compositor does not advertise wl_shm")
	}
	id := r.bind(g)
	return &Shm{d: r.d, id: id}, nil
}

// CreatePool allocates a POSIX shared-memory object of the given size,
// mmaps it, and issues wl_shm.create_pool over it. The backing fd is
// unlinked immediately: nothing outside this process ever needs the name.
func (s *Shm) CreatePool(size int) (*ShmPool, error) {
	fd, name, err := shmOpenUnique()
	if err != nil {
		return nil, err
	}
	cleanupFd := true
	defer func() {
		if cleanupFd {
			unix.Close(fd)
		}
	}()
	_ = name // already unlinked by shmOpenUnique

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, errors.Wrap(err, "ftruncate shm pool")
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "mmap shm pool")
	}

	id := s.d.allocID()
	e := &encoder{}
	e.putUint32(id)
	if err := s.d.conn.sendFd(s.id, 0 /* create_pool */, e.buf, fd); err != nil {
		unix.Munmap(data)
		return nil, err
	}
	cleanupFd = false // ownership transferred to the compositor via SCM_RIGHTS; we still hold our copy

	return &ShmPool{
		d:    s.d,
		id:   id,
		fd:   fd,
		size: size,
		data: data,
	}, nil
}

// shmOpenUnique tries /wvnc-N names under shm_open semantics, falling back
// to $XDG_RUNTIME_DIR if /dev/shm is unavailable (some container sandboxes
// mount it read-only or not at all).
func shmOpenUnique() (fd int, name string, err error) {
	dirs := []string{"/dev/shm"}
	if rt := os.Getenv("XDG_RUNTIME_DIR"); rt != "" {
		dirs = append(dirs, rt)
	}
	var lastErr error
	for _, dir := range dirs {
		for i := 0; i < 10000; i++ {
			name = filepath.Join(dir, fmt.Sprintf("wvnc-%d", i))
			fd, err = unix.Open(name, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0600)
			if err == nil {
				unix.Unlink(name)
				return fd, name, nil
			}
			if err != unix.EEXIST {
				lastErr = err
				break
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("exhausted shm name space")
	}
	return -1, "", errors.Wrap(lastErr, "create shm pool backing file")
}

// ShmPool is a bound wl_shm_pool with its mmap'd backing memory.
type ShmPool struct {
	d    *Display
	id   uint32
	fd   int
	size int
	data []byte
}

// Data is the pool's mmap'd memory.
func (p *ShmPool) Data() []byte { return p.data }

// CreateBuffer issues wl_shm_pool.create_buffer for a sub-region of the
// pool and returns the bound wl_buffer.
func (p *ShmPool) CreateBuffer(offset, width, height, stride int, format ShmFormat) *Buffer {
	id := p.d.allocID()
	e := &encoder{}
	e.putUint32(id)
	e.putInt32(int32(offset))
	e.putInt32(int32(width))
	e.putInt32(int32(height))
	e.putInt32(int32(stride))
	e.putUint32(uint32(format))
	p.d.conn.send(p.id, 0 /* create_buffer */, e.buf)

	b := &Buffer{d: p.d, id: id, pool: p, offset: offset, width: width, height: height, stride: stride}
	p.d.on(id, 0, func(body []byte) { b.released = true })
	return b
}

// Destroy releases the pool proxy and its backing memory. Buffers created
// from it remain valid per wl_shm semantics until they are themselves
// destroyed, but this bridge always destroys buffers first.
func (p *ShmPool) Destroy() error {
	p.d.conn.send(p.id, 1 /* destroy */, nil)
	p.d.forget(p.id)
	if err := unix.Munmap(p.data); err != nil {
		return errors.Wrap(err, "munmap shm pool")
	}
	return unix.Close(p.fd)
}

// Buffer is a bound wl_buffer backed by a region of a ShmPool.
type Buffer struct {
	d      *Display
	id     uint32
	pool   *ShmPool
	offset int
	width  int
	height int
	stride int

	released bool
}

// Bytes returns the buffer's region of the pool's mmap'd memory.
func (b *Buffer) Bytes() []byte {
	return b.pool.data[b.offset : b.offset+b.stride*b.height]
}

func (b *Buffer) Width() int  { return b.width }
func (b *Buffer) Height() int { return b.height }
func (b *Buffer) Stride() int { return b.stride }

// Released reports whether the compositor has sent wl_buffer.release,
// meaning the bridge may safely reuse or overwrite the backing memory.
func (b *Buffer) Released() bool { return b.released }

func (b *Buffer) Destroy() {
	b.d.conn.send(b.id, 0 /* destroy */, nil)
	b.d.forget(b.id)
}
