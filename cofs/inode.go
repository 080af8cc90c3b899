package cofs

import (
	"bytes"
	"encoding/binary"
	"time"
)

// inodeHeaderSize and inodeUnionSize document the on-disk layout's byte
// budget; the remainder up to InodeSize is reserved padding, the same way
// original_source/cofs_data_structures.h pads cofs_inode out to INODE_SIZE
// via __attribute__((aligned(INODE_SIZE))).
const (
	inodeHeaderSize = 100
	inodeUnionSize  = (NDirect + N1Indirect + N2Indirect + N3Indirect) * refSize // 136
	inodePadSize    = InodeSize - inodeHeaderSize - inodeUnionSize
)

// Inode is the in-core representation of a COFS inode (spec §3). The
// type-discriminated union is flattened into named fields; Direct, Single,
// Double and Triple are used by FILE and DIR inodes, Dev* by SPECIAL inodes, and SymTarget by SYMLINK
// inodes.
type Inode struct {
	InUse bool
	Type  Type
	Perm  Permissions
	Uid   uint32
	Gid   uint32

	Atim time.Time
	Mtim time.Time
	Ctim time.Time
	Btim time.Time

	NBytes        uint64
	NBlocks       uint64
	Refcount      uint64
	Inum          uint64
	NumDirEntries uint64

	// FILE/DIR union arm.
	Direct  [NDirect]uint64
	Single  [N1Indirect]uint64
	Double  [N2Indirect]uint64
	Triple  [N3Indirect]uint64

	// SPECIAL union arm.
	DevType   int32
	DevNumber int32

	// SYMLINK union arm: capped at SymlinkInline bytes (spec §9 open
	// question, decided in SPEC_FULL.md: cap rather than spill).
	SymTarget string
}

// IsDir reports whether the inode is a directory.
func (ino *Inode) IsDir() bool { return ino.Type == TypeDir }

// currentTime is the single clock used to stamp inode timestamps, kept as
// a var so tests can substitute a fixed clock.
var currentTime = func() time.Time { return time.Now().UTC() }

func marshalTime(buf *bytes.Buffer, order binary.ByteOrder, t time.Time) {
	binary.Write(buf, order, int64(t.Unix()))
	binary.Write(buf, order, int32(t.Nanosecond()))
}

func unmarshalTime(r *bytes.Reader, order binary.ByteOrder) time.Time {
	var sec int64
	var nsec int32
	binary.Read(r, order, &sec)
	binary.Read(r, order, &nsec)
	return time.Unix(sec, int64(nsec)).UTC()
}

// MarshalBinary serializes the inode to its fixed InodeSize on-disk record,
// writing each field in order and dispatching the type-discriminated union
// arm (special/symlink/file-or-dir) on ino.Type.
func (ino *Inode) MarshalBinary(order binary.ByteOrder) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(InodeSize)

	var inUse uint8
	if ino.InUse {
		inUse = 1
	}
	binary.Write(buf, order, inUse)
	binary.Write(buf, order, uint8(ino.Type))
	binary.Write(buf, order, uint16(ino.Perm))
	binary.Write(buf, order, ino.Uid)
	binary.Write(buf, order, ino.Gid)

	marshalTime(buf, order, ino.Atim)
	marshalTime(buf, order, ino.Mtim)
	marshalTime(buf, order, ino.Ctim)
	marshalTime(buf, order, ino.Btim)

	binary.Write(buf, order, ino.NBytes)
	binary.Write(buf, order, ino.NBlocks)
	binary.Write(buf, order, ino.Refcount)
	binary.Write(buf, order, ino.Inum)
	binary.Write(buf, order, ino.NumDirEntries)

	switch ino.Type {
	case TypeSpecial:
		binary.Write(buf, order, ino.DevType)
		binary.Write(buf, order, ino.DevNumber)
		buf.Write(make([]byte, inodeUnionSize-8))
	case TypeSymlink:
		var direct [NDirect]uint64 // reserved for a future spill implementation
		binary.Write(buf, order, direct)
		name := make([]byte, SymlinkInline)
		copy(name, ino.SymTarget)
		buf.Write(name)
	default: // TypeFile, TypeDir
		binary.Write(buf, order, ino.Direct)
		binary.Write(buf, order, ino.Single)
		binary.Write(buf, order, ino.Double)
		binary.Write(buf, order, ino.Triple)
	}

	buf.Write(make([]byte, inodePadSize))
	return buf.Bytes()
}

// UnmarshalBinary parses a fixed InodeSize record into the inode. Type must
// be read before the union arm can be interpreted, since the arm's layout
// depends on it.
func (ino *Inode) UnmarshalBinary(data []byte, order binary.ByteOrder) error {
	r := bytes.NewReader(data)

	var inUse, typ uint8
	var perm uint16
	binary.Read(r, order, &inUse)
	binary.Read(r, order, &typ)
	binary.Read(r, order, &perm)
	binary.Read(r, order, &ino.Uid)
	binary.Read(r, order, &ino.Gid)

	ino.InUse = inUse != 0
	ino.Type = Type(typ)
	ino.Perm = Permissions(perm)

	ino.Atim = unmarshalTime(r, order)
	ino.Mtim = unmarshalTime(r, order)
	ino.Ctim = unmarshalTime(r, order)
	ino.Btim = unmarshalTime(r, order)

	binary.Read(r, order, &ino.NBytes)
	binary.Read(r, order, &ino.NBlocks)
	binary.Read(r, order, &ino.Refcount)
	binary.Read(r, order, &ino.Inum)
	binary.Read(r, order, &ino.NumDirEntries)

	switch ino.Type {
	case TypeSpecial:
		binary.Read(r, order, &ino.DevType)
		binary.Read(r, order, &ino.DevNumber)
	case TypeSymlink:
		var direct [NDirect]uint64
		binary.Read(r, order, &direct)
		name := make([]byte, SymlinkInline)
		r.Read(name)
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		ino.SymTarget = string(name)
	default:
		binary.Read(r, order, &ino.Direct)
		binary.Read(r, order, &ino.Single)
		binary.Read(r, order, &ino.Double)
		binary.Read(r, order, &ino.Triple)
	}

	return nil
}
