//go:build fuse

// Package driver exposes a COFS volume as a FUSE mount, dispatching
// filesystem calls through go-fuse's high-level node API
// (github.com/hanwen/go-fuse/v2/fs) since COFS is read-write and
// path-addressed rather than blob-addressed.
package driver

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/vga/cofs/cofs"
)

// Mount starts serving vol at mountpoint and blocks the caller's choice: it
// returns the running *fuse.Server so the caller decides whether to Wait()
// or run it in the background, mirroring how cmd/driver wires this up.
func Mount(vol *cofs.FileSystem, mountpoint string, debug bool) (*fuse.Server, error) {
	root := &node{fsys: vol, nodePath: "/", inum: vol.RootInum()}

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Debug:      debug,
			FsName:     "cofs",
			Name:       "cofs",
			AllowOther: false,
		},
	}

	server, err := fs.Mount(mountpoint, root, opts)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// node is a FUSE inode backed by a COFS path/inode pair. COFS's directory
// and lookup operations are path-addressed (namei/namei_parent), so every
// node remembers its own absolute path alongside the inode number it last
// resolved to, rather than working purely off inode numbers the way a
// blob-addressed filesystem like squashfs can.
type node struct {
	fs.Inode

	fsys     *cofs.FileSystem
	nodePath string
	inum     uint64
}

var (
	_ fs.NodeLookuper   = (*node)(nil)
	_ fs.NodeGetattrer  = (*node)(nil)
	_ fs.NodeSetattrer  = (*node)(nil)
	_ fs.NodeReaddirer  = (*node)(nil)
	_ fs.NodeOpener     = (*node)(nil)
	_ fs.NodeReader     = (*node)(nil)
	_ fs.NodeWriter     = (*node)(nil)
	_ fs.NodeCreater    = (*node)(nil)
	_ fs.NodeMkdirer    = (*node)(nil)
	_ fs.NodeUnlinker   = (*node)(nil)
	_ fs.NodeRmdirer    = (*node)(nil)
	_ fs.NodeSymlinker  = (*node)(nil)
	_ fs.NodeReadlinker = (*node)(nil)
	_ fs.NodeRenamer    = (*node)(nil)
)

// childPath joins a directory node's path with a child name the way
// namei_parent's caller would, collapsing the double slash at the root.
func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// errnoOf maps a *cofs.Error's Errno to the syscall.Errno FUSE expects.
func errnoOf(err error) syscall.Errno {
	if err == nil {
		return fs.OK
	}
	cerr, ok := err.(*cofs.Error)
	if !ok {
		return syscall.EIO
	}
	switch cerr.Errno {
	case cofs.ENOENT:
		return syscall.ENOENT
	case cofs.ENOTDIR:
		return syscall.ENOTDIR
	case cofs.EISDIR:
		return syscall.EISDIR
	case cofs.ENOTEMPTY:
		return syscall.ENOTEMPTY
	case cofs.ENAMETOOLONG:
		return syscall.ENAMETOOLONG
	case cofs.ENOSPC:
		return syscall.ENOSPC
	case cofs.EFBIG:
		return syscall.EFBIG
	case cofs.ENOMEM:
		return syscall.ENOMEM
	case cofs.EFAULT:
		return syscall.EFAULT
	case cofs.EINVAL:
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

// fillAttr fills a fuse.Attr from a COFS inode's type, permissions, and
// Atim/Mtim/Ctim triple.
func fillAttr(ino *cofs.Inode, attr *fuse.Attr) {
	attr.Ino = ino.Inum
	attr.Size = ino.NBytes
	attr.Blocks = ino.NBlocks
	attr.Mode = ino.Type.UnixMode(ino.Perm)
	attr.Nlink = uint32(ino.Refcount)
	attr.Owner = fuse.Owner{Uid: ino.Uid, Gid: ino.Gid}
	attr.Blksize = cofs.BlockSize
	setAttrTime(&attr.Atime, &attr.Atimensec, ino.Atim)
	setAttrTime(&attr.Mtime, &attr.Mtimensec, ino.Mtim)
	setAttrTime(&attr.Ctime, &attr.Ctimensec, ino.Ctim)
}

func setAttrTime(sec *uint64, nsec *uint32, t time.Time) {
	*sec = uint64(t.Unix())
	*nsec = uint32(t.Nanosecond())
}

// fillEntry fills a fuse.EntryOut, setting both the node attributes and
// the entry/attr cache timeouts.
func fillEntry(ino *cofs.Inode, out *fuse.EntryOut) {
	out.NodeId = ino.Inum
	fillAttr(ino, &out.Attr)
	out.SetEntryTimeout(time.Second)
	out.SetAttrTimeout(time.Second)
}

func stableAttr(ino *cofs.Inode) fs.StableAttr {
	mode := uint32(0)
	if ino.IsDir() {
		mode = fuse.S_IFDIR
	} else {
		mode = ino.Type.UnixMode(ino.Perm) & syscall.S_IFMT
	}
	return fs.StableAttr{Mode: mode, Ino: ino.Inum}
}

func (n *node) child(name string, ino *cofs.Inode) *node {
	return &node{fsys: n.fsys, nodePath: childPath(n.nodePath, name), inum: ino.Inum}
}

// callerIDs extracts the requesting uid/gid from the FUSE request context,
// defaulting to 0:0 when the kernel didn't attach one (e.g. in tests).
func callerIDs(ctx context.Context) (uid, gid uint32) {
	if caller, ok := fuse.FromContext(ctx); ok {
		return caller.Uid, caller.Gid
	}
	return 0, 0
}

// Lookup resolves name under n via COFS's per-path namei.
func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := childPath(n.nodePath, name)
	ino, err := n.fsys.Stat(p)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillEntry(ino, out)
	child := n.child(name, ino)
	return n.NewInode(ctx, child, stableAttr(ino)), fs.OK
}

// Getattr refreshes attributes from the current on-disk inode.
func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	ino, err := n.fsys.StatInode(n.inum)
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(ino, &out.Attr)
	out.SetTimeout(time.Second)
	return fs.OK
}

// Setattr applies size/mode/owner/time changes, dispatched to the
// individual cofs.FileSystem calls the way cofs_syscalls.c's separate
// truncate/chmod/chown/utimens entry points do.
func (n *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := n.fsys.Truncate(n.nodePath, size); err != nil {
			return errnoOf(err)
		}
	}
	if mode, ok := in.GetMode(); ok {
		if err := n.fsys.Chmod(n.nodePath, cofs.PermissionsFromUnix(mode)); err != nil {
			return errnoOf(err)
		}
	}
	uid, uidOk := in.GetUID()
	gid, gidOk := in.GetGID()
	if uidOk || gidOk {
		ino, err := n.fsys.StatInode(n.inum)
		if err != nil {
			return errnoOf(err)
		}
		newUID, newGID := ino.Uid, ino.Gid
		if uidOk {
			newUID = uid
		}
		if gidOk {
			newGID = gid
		}
		if err := n.fsys.Chown(n.nodePath, newUID, newGID); err != nil {
			return errnoOf(err)
		}
	}
	if mtime, ok := in.GetMTime(); ok {
		atime := mtime
		if a, ok := in.GetATime(); ok {
			atime = a
		}
		if err := n.fsys.Utimens(n.nodePath, atime, mtime); err != nil {
			return errnoOf(err)
		}
	}

	ino, err := n.fsys.StatInode(n.inum)
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(ino, &out.Attr)
	return fs.OK
}

// dirStream lists directory entries, resolving each one's type/mode lazily
// as it is consumed.
type dirStream struct {
	fsys    *cofs.FileSystem
	entries []cofs.DirEntry
	pos     int
}

func (s *dirStream) HasNext() bool { return s.pos < len(s.entries) }

func (s *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	e := s.entries[s.pos]
	s.pos++
	ino, err := s.fsys.StatInode(e.Inum)
	if err != nil {
		return fuse.DirEntry{}, errnoOf(err)
	}
	return fuse.DirEntry{Name: e.Name, Ino: e.Inum, Mode: ino.Type.UnixMode(ino.Perm)}, fs.OK
}

func (s *dirStream) Close() {}

// Readdir lists n's entries as go-fuse's DirStream abstraction.
func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.fsys.Readdir(n.nodePath)
	if err != nil {
		return nil, errnoOf(err)
	}
	return &dirStream{fsys: n.fsys, entries: entries}, fs.OK
}

// Open always succeeds and keeps the kernel cache: COFS write paths
// invalidate their own cached pages through Mtim/NBytes changes, not
// through a dropped cache.
func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, fs.OK
}

// Read services a read at off by delegating straight to cofs.ReadAt on the
// node's cached inode number, grounded on cofs_read via FileSystem.ReadAt.
func (n *node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nread, err := n.fsys.ReadAt(n.inum, dest, uint64(off))
	if err != nil {
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(dest[:nread]), fs.OK
}

// Write delegates to cofs.WriteAt, grounded on cofs_write.
func (n *node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	nwritten, err := n.fsys.WriteAt(n.inum, data, uint64(off))
	if err != nil {
		return uint32(nwritten), errnoOf(err)
	}
	return uint32(nwritten), fs.OK
}

// Create makes a new regular file under n, grounded on cofs_mknod's
// regular-file case via FileSystem.Create.
func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	uid, gid := callerIDs(ctx)
	ino, err := n.fsys.Create(childPath(n.nodePath, name), cofs.PermissionsFromUnix(mode), uid, gid)
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	fillEntry(ino, out)
	child := n.child(name, ino)
	return n.NewInode(ctx, child, stableAttr(ino)), nil, fuse.FOPEN_KEEP_CACHE, fs.OK
}

// Mkdir creates an empty subdirectory under n, grounded on cofs_mkdir via
// FileSystem.Mkdir.
func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	uid, gid := callerIDs(ctx)
	ino, err := n.fsys.Mkdir(childPath(n.nodePath, name), cofs.PermissionsFromUnix(mode), uid, gid)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillEntry(ino, out)
	child := n.child(name, ino)
	return n.NewInode(ctx, child, stableAttr(ino)), fs.OK
}

// Unlink removes a non-directory entry, grounded on cofs_unlink.
func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.fsys.Unlink(childPath(n.nodePath, name)))
}

// Rmdir removes an empty directory, grounded on cofs_rmdir.
func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.fsys.Rmdir(childPath(n.nodePath, name)))
}

// Symlink creates a symlink under n, grounded on cofs_symlink via
// FileSystem.Symlink.
func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	uid, gid := callerIDs(ctx)
	ino, err := n.fsys.Symlink(target, childPath(n.nodePath, name), uid, gid)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillEntry(ino, out)
	child := n.child(name, ino)
	return n.NewInode(ctx, child, stableAttr(ino)), fs.OK
}

// Readlink returns a symlink's target, grounded on cofs_readlink.
func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.fsys.Readlink(n.nodePath)
	if err != nil {
		return nil, errnoOf(err)
	}
	return []byte(target), fs.OK
}

// Rename moves or replaces an entry, grounded on SPEC_FULL.md's decided
// Rename semantics via FileSystem.Rename. FUSE's RENAME_EXCHANGE/
// RENAME_NOREPLACE flags have no COFS counterpart (spec §9 open question,
// decided: unconditional unlink-then-add), so flags is ignored beyond
// rejecting exchange, which COFS cannot express atomically.
func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags&unix_RENAME_EXCHANGE != 0 {
		return syscall.ENOSYS
	}
	dst, ok := newParent.(*node)
	if !ok {
		return syscall.EINVAL
	}
	oldPath := childPath(n.nodePath, name)
	newPath := childPath(dst.nodePath, newName)
	return errnoOf(n.fsys.Rename(oldPath, newPath))
}

// unix_RENAME_EXCHANGE mirrors linux's RENAME_EXCHANGE flag value; spelled
// out locally so this file doesn't need golang.org/x/sys/unix just for one
// constant FUSE passes through from the kernel.
const unix_RENAME_EXCHANGE = 1 << 1
