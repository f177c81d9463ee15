// Package ipc implements the named, shared-memory queue pair that
// carries wire.Request from a client to the server and wire.Response
// back. Each queue pair lives in a POSIX shared-memory object under
// /dev/shm, the same realization glibc's shm_open uses on Linux, mapped
// read-write by both the server and the client process.
package ipc

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/drgolem/shm-hashtable/internal/ring"
	"github.com/drgolem/shm-hashtable/internal/wire"
)

// shmDir is the POSIX shared-memory namespace on Linux. Segment names
// must not contain '/' beyond this prefix.
const shmDir = "/dev/shm/"

// IOError wraps a failing OS call (open/ftruncate/mmap/munmap/unlink)
// with the syscall that failed and the underlying errno.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ipc: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// SharedBufferInner is the root structure placed at offset 0 of the
// shared segment: a request ring followed by a response ring, back to
// back, with no additional header. Both sides must be built from this
// same generic instantiation to agree on layout.
type SharedBufferInner[K, V any] struct {
	Request  ring.Buffer[wire.Request[K, V]]
	Response ring.Buffer[wire.Response[K, V]]
}

// QueuePair is a handle to one client's named shared-memory segment.
// The zero value is not usable; construct with NewServer or NewClient.
type QueuePair[K, V any] struct {
	name   string
	server bool
	data   []byte
	inner  *SharedBufferInner[K, V]
}

// NewServer creates a new named segment exclusively, sizes and maps it,
// and initialises both ring buffers. It fails if a segment with this
// name already exists.
//
// This implementation deliberately does not pre-unlink a same-named
// segment (the defensive cleanup spec.md §9 allows for): there is no
// way from here to tell a stale segment left by a crashed server apart
// from one a live peer still owns, and unlinking the latter would
// silently defeat the create-exclusive contract this method exists to
// provide. An operator restarting after a crash is expected to clear
// /dev/shm/hashtable-* explicitly, the same division of responsibility
// the reference implementation uses (it has no such logic either).
func NewServer[K, V any](name string) (*QueuePair[K, V], error) {
	path := shmDir + name

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o600)
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	defer unix.Close(fd)

	size := int(unsafe.Sizeof(SharedBufferInner[K, V]{}))
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Unlink(path)
		return nil, &IOError{Op: "ftruncate", Err: err}
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Unlink(path)
		return nil, &IOError{Op: "mmap", Err: err}
	}

	inner := (*SharedBufferInner[K, V])(unsafe.Pointer(&data[0]))
	if err := inner.Request.Init(); err != nil {
		unix.Munmap(data)
		unix.Unlink(path)
		return nil, err
	}
	if err := inner.Response.Init(); err != nil {
		unix.Munmap(data)
		unix.Unlink(path)
		return nil, err
	}

	return &QueuePair[K, V]{name: name, server: true, data: data, inner: inner}, nil
}

// NewClient opens an existing named segment exclusively and maps it. It
// never initialises the ring buffers: doing so would race the server's
// own Init and corrupt the primitives.
func NewClient[K, V any](name string) (*QueuePair[K, V], error) {
	path := shmDir + name

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	defer unix.Close(fd)

	size := int(unsafe.Sizeof(SharedBufferInner[K, V]{}))
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, &IOError{Op: "mmap", Err: err}
	}

	inner := (*SharedBufferInner[K, V])(unsafe.Pointer(&data[0]))
	return &QueuePair[K, V]{name: name, server: false, data: data, inner: inner}, nil
}

// RequestPut enqueues a request for the server to pick up.
func (q *QueuePair[K, V]) RequestPut(req wire.Request[K, V]) error {
	return q.inner.Request.Put(req)
}

// RequestGet blocks until a request is available and dequeues it.
func (q *QueuePair[K, V]) RequestGet() (wire.Request[K, V], error) {
	return q.inner.Request.Get()
}

// ResponsePut enqueues a response for the client to drain.
func (q *QueuePair[K, V]) ResponsePut(resp wire.Response[K, V]) error {
	return q.inner.Response.Put(resp)
}

// ResponseGet blocks until a response is available and dequeues it.
func (q *QueuePair[K, V]) ResponseGet() (wire.Response[K, V], error) {
	return q.inner.Response.Get()
}

// Stop releases this handle's mapping and, if it was created by
// NewServer, unlinks the named segment so the name may be reused. A
// client handle's Stop only unmaps; the OS reclaims the mapping at
// process exit regardless.
func (q *QueuePair[K, V]) Stop() error {
	var errs []error
	if err := unix.Munmap(q.data); err != nil {
		errs = append(errs, &IOError{Op: "munmap", Err: err})
	}
	if q.server {
		if err := unix.Unlink(shmDir + q.name); err != nil {
			errs = append(errs, &IOError{Op: "unlink", Err: err})
		}
	}
	return errors.Join(errs...)
}
