package cofs

import (
	"bytes"
	"encoding/binary"

	"github.com/vga/cofs/blockdev"
)

// DirEntry is one fixed-size directory entry: a NUL-terminated base name
// followed by an inode reference, grounded on
// original_source/cofs_data_structures.h's cofs_direntry.
type DirEntry struct {
	Name string
	Inum uint64
}

func (e *DirEntry) marshal() []byte {
	buf := make([]byte, DirEntrySize)
	copy(buf, e.Name)
	binary.LittleEndian.PutUint64(buf[DirEntrySize-refSize:], e.Inum)
	return buf
}

func (e *DirEntry) unmarshal(buf []byte) {
	nameEnd := bytes.IndexByte(buf[:DirEntrySize-refSize], 0)
	if nameEnd < 0 {
		nameEnd = DirEntrySize - refSize
	}
	e.Name = string(buf[:nameEnd])
	e.Inum = binary.LittleEndian.Uint64(buf[DirEntrySize-refSize:])
}

func readDirBlock(dev *blockdev.Device, block uint64) ([DirEntriesPerBlock]DirEntry, error) {
	var entries [DirEntriesPerBlock]DirEntry
	buf := make([]byte, BlockSize)
	if err := dev.Read(block, buf); err != nil {
		return entries, wrapErr("dir.read", EIO, err)
	}
	for i := range entries {
		entries[i].unmarshal(buf[i*DirEntrySize : (i+1)*DirEntrySize])
	}
	return entries, nil
}

func writeDirBlock(dev *blockdev.Device, block uint64, entries [DirEntriesPerBlock]DirEntry) error {
	buf := make([]byte, BlockSize)
	for i := range entries {
		copy(buf[i*DirEntrySize:(i+1)*DirEntrySize], entries[i].marshal())
	}
	if err := dev.Write(block, buf); err != nil {
		return wrapErr("dir.write", EIO, err)
	}
	return nil
}

// getNextUnused returns the block and slot of the next unused directory
// entry in dir, allocating a new data block if every existing block is
// full, grounded on __get_next_unused.
func getNextUnused(dev *blockdev.Device, fl *freelist, il *ilist, dir *Inode) (uint64, int, [DirEntriesPerBlock]DirEntry, error) {
	var found uint64
	var foundSlot = -1
	var foundEntries [DirEntriesPerBlock]DirEntry

	err := forEachDataBlock(dev, dir, 0, func(block uint64) error {
		entries, rerr := readDirBlock(dev, block)
		if rerr != nil {
			return rerr
		}
		for i := range entries {
			if entries[i].Name == "" {
				found = block
				foundSlot = i
				foundEntries = entries
				return errStopIteration
			}
		}
		return nil
	})
	if err != nil && err != errStopIteration {
		return 0, 0, foundEntries, err
	}

	if foundSlot >= 0 {
		return found, foundSlot, foundEntries, nil
	}

	block, aerr := allocNewDataBlock(dev, fl, il, dir)
	if aerr != nil {
		return 0, 0, foundEntries, aerr
	}
	if block == 0 {
		return 0, 0, foundEntries, newErr("dir.addEntry", ENOSPC)
	}
	dir.NBytes += BlockSize

	return block, 0, [DirEntriesPerBlock]DirEntry{}, nil
}

// addEntry appends a name/inum pair to dir, grounded on Dir_addEntry.
func addEntry(dev *blockdev.Device, fl *freelist, il *ilist, dir *Inode, name string, inum uint64) error {
	if len(name)+1 > BaseNameMax {
		return newErr("dir.addEntry", ENAMETOOLONG)
	}

	block, slot, entries, err := getNextUnused(dev, fl, il, dir)
	if err != nil {
		return err
	}

	entries[slot] = DirEntry{Name: name, Inum: inum}
	if err := writeDirBlock(dev, block, entries); err != nil {
		return err
	}

	dir.NumDirEntries++
	dir.Mtim = currentTime()
	dir.Ctim = dir.Mtim
	return il.write(dir)
}

// createDir populates a freshly allocated inode as an empty directory
// with "." and ".." entries, grounded on Dir_create.
func createDir(dev *blockdev.Device, fl *freelist, il *ilist, dir, parent *Inode) error {
	dir.NumDirEntries = 0
	dir.InUse = true
	dir.Type = TypeDir

	if err := addEntry(dev, fl, il, dir, ".", dir.Inum); err != nil {
		return err
	}
	if err := addEntry(dev, fl, il, dir, "..", parent.Inum); err != nil {
		return err
	}

	parent.Refcount++
	dir.Refcount++
	if err := il.write(parent); err != nil {
		return err
	}
	return il.write(dir)
}

// lookup finds name within dir and returns its inode number, grounded on
// Dir_lookup. Returns Missing and ENOENT if the name isn't present.
func lookup(dev *blockdev.Device, dir *Inode, name string) (uint64, error) {
	var inum uint64 = Missing
	var remaining = dir.NumDirEntries

	err := forEachDataBlock(dev, dir, 0, func(block uint64) error {
		entries, rerr := readDirBlock(dev, block)
		if rerr != nil {
			return rerr
		}
		for i := range entries {
			if entries[i].Name == name {
				inum = entries[i].Inum
				return errStopIteration
			}
			if remaining == 0 {
				return newErr("dir.lookup", ENOENT)
			}
			remaining--
		}
		return nil
	})
	if err == errStopIteration {
		return inum, nil
	}
	if err != nil {
		return Missing, err
	}
	return Missing, newErr("dir.lookup", ENOENT)
}

// removeEntry zeroes the directory entry matching name and returns the
// inode number it referenced, grounded on Dir_removeEntry. The target
// inode itself is not touched: decrementing its link count, and freeing
// its data blocks if that count drops to zero, is the caller's
// responsibility (unlink/rmdir in fs.go), same as the original's
// "TODO: deallocate data blocks if necessary" left to its caller chain.
func removeEntry(dev *blockdev.Device, il *ilist, dir *Inode, name string) (uint64, error) {
	var inum uint64 = Missing
	var targetBlock uint64
	var targetSlot = -1
	var targetEntries [DirEntriesPerBlock]DirEntry

	err := forEachDataBlock(dev, dir, 0, func(block uint64) error {
		entries, rerr := readDirBlock(dev, block)
		if rerr != nil {
			return rerr
		}
		for i := range entries {
			if entries[i].Name == name {
				inum = entries[i].Inum
				targetBlock = block
				targetSlot = i
				targetEntries = entries
				return errStopIteration
			}
		}
		return nil
	})
	if err != nil && err != errStopIteration {
		return Missing, err
	}
	if targetSlot < 0 {
		return Missing, newErr("dir.removeEntry", ENOENT)
	}

	targetEntries[targetSlot] = DirEntry{}
	if err := writeDirBlock(dev, targetBlock, targetEntries); err != nil {
		return Missing, err
	}

	dir.NumDirEntries--
	dir.Mtim = currentTime()
	dir.Ctim = dir.Mtim
	if err := il.write(dir); err != nil {
		return Missing, err
	}

	return inum, nil
}

// list returns every non-empty entry in dir, used by fs.go's Readdir.
func list(dev *blockdev.Device, dir *Inode) ([]DirEntry, error) {
	var out []DirEntry
	err := forEachDataBlock(dev, dir, 0, func(block uint64) error {
		entries, rerr := readDirBlock(dev, block)
		if rerr != nil {
			return rerr
		}
		for i := range entries {
			if entries[i].Name != "" {
				out = append(out, entries[i])
			}
		}
		return nil
	})
	return out, err
}
