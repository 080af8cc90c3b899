// Package blockdev implements COFS layer 0: fixed-size block read/write over
// a memory-mapped backing store, whether a regular file, a real block
// device, or anonymous memory.
package blockdev

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// BlockSize is the fixed unit of I/O, B in the spec's data model.
const BlockSize = 4096

// ErrOutOfRange is returned by Read/Write when bnum >= the device's block count.
var ErrOutOfRange = errors.New("blockdev: block reference out of range")

// Device is a memory-mapped, block-addressed backing store. All I/O is
// block-aligned; there is no partial-block access. Writes become durable
// when the mapping is flushed by Close.
type Device struct {
	mem  []byte
	file *os.File
	anon bool

	NumBlocks uint64
}

// Create maps `size` bytes of anonymous memory for an in-memory filesystem.
// size must be a multiple of BlockSize.
func Create(size uint64) (*Device, error) {
	if size%BlockSize != 0 {
		return nil, fmt.Errorf("blockdev: size %d is not a multiple of block size %d", size, BlockSize)
	}

	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("blockdev: anonymous mmap failed: %w", err)
	}

	return &Device{mem: mem, anon: true, NumBlocks: size / BlockSize}, nil
}

// Open maps an existing path (a regular file or a real block device) for
// use as a COFS backing store. For a regular file, the file's current size
// is used. For a block device node, the device's reported byte size is used.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}

	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if size%BlockSize != 0 {
		f.Close()
		return nil, fmt.Errorf("blockdev: %s size %d is not a multiple of block size %d", path, size, BlockSize)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: mmap %s: %w", path, err)
	}

	return &Device{mem: mem, file: f, NumBlocks: size / BlockSize}, nil
}

// Create on a path: truncates (or creates) a regular file to the requested
// size and maps it. Used by the mkfs CLI to lay out a fresh image file.
func CreateFile(path string, size uint64) (*Device, error) {
	if size%BlockSize != 0 {
		return nil, fmt.Errorf("blockdev: size %d is not a multiple of block size %d", size, BlockSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: truncate %s: %w", path, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: mmap %s: %w", path, err)
	}

	return &Device{mem: mem, file: f, NumBlocks: size / BlockSize}, nil
}

// deviceSize reports the byte size of a regular file or a block device node.
func deviceSize(f *os.File) (uint64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return uint64(fi.Size()), nil
	}

	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("blockdev: BLKGETSIZE64: %w", err)
	}
	return uint64(size), nil
}

// Read copies exactly BlockSize bytes from block bnum into buf.
func (d *Device) Read(bnum uint64, buf []byte) error {
	if bnum >= d.NumBlocks {
		return ErrOutOfRange
	}
	off := bnum * BlockSize
	copy(buf[:BlockSize], d.mem[off:off+BlockSize])
	return nil
}

// Write copies exactly BlockSize bytes from buf into block bnum.
func (d *Device) Write(bnum uint64, buf []byte) error {
	if bnum >= d.NumBlocks {
		return ErrOutOfRange
	}
	off := bnum * BlockSize
	copy(d.mem[off:off+BlockSize], buf[:BlockSize])
	return nil
}

// Sync flushes dirty pages to the backing store without releasing the
// mapping.
func (d *Device) Sync() error {
	if d.anon {
		return nil
	}
	return unix.Msync(d.mem, unix.MS_SYNC)
}

// Close flushes and releases the mapping. Writes are durable only after
// Close (or Sync) returns successfully.
func (d *Device) Close() error {
	var err error
	if !d.anon {
		err = unix.Msync(d.mem, unix.MS_SYNC)
	}
	if uerr := unix.Munmap(d.mem); uerr != nil && err == nil {
		err = uerr
	}
	d.mem = nil
	if d.file != nil {
		if cerr := d.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
