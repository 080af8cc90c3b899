package cofs_test

import (
	"bytes"
	"testing"

	"github.com/vga/cofs/cofs"
	"github.com/vga/cofs/cofs/cofstest"
)

func TestCreateAndWriteReadFile(t *testing.T) {
	fs := cofstest.NewVolume(t, 256)
	defer fs.Unmount()

	ino, err := fs.Create("/hello.txt", cofs.PermOwnerR|cofs.PermOwnerW, 1000, 1000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data := []byte("hello, COFS")
	n, err := fs.WriteAt(ino.Inum, data, 0)
	if err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if n != len(data) {
		t.Fatalf("WriteAt wrote %d bytes, want %d", n, len(data))
	}

	buf := make([]byte, len(data))
	n, err = fs.ReadAt(ino.Inum, buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(data) || !bytes.Equal(buf, data) {
		t.Fatalf("ReadAt = %q, want %q", buf[:n], data)
	}

	stat, err := fs.Stat("/hello.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.NBytes != uint64(len(data)) {
		t.Fatalf("NBytes = %d, want %d", stat.NBytes, len(data))
	}
}

func TestWriteSpanningMultipleBlocks(t *testing.T) {
	fs := cofstest.NewVolume(t, 512)
	defer fs.Unmount()

	ino, err := fs.Create("/big.bin", cofs.PermOwnerR|cofs.PermOwnerW, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data := bytes.Repeat([]byte{0x5A}, 3*cofs.BlockSize+17)
	if _, err := fs.WriteAt(ino.Inum, data, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	buf := make([]byte, len(data))
	n, err := fs.ReadAt(ino.Inum, buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(data) || !bytes.Equal(buf, data) {
		t.Fatal("multi-block round trip produced different data")
	}
}

func TestWriteGrowsPastDoubleIndirectBoundary(t *testing.T) {
	fs := cofstest.NewVolume(t, 4096)
	defer fs.Unmount()

	ino, err := fs.Create("/huge.bin", cofs.PermOwnerR|cofs.PermOwnerW, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// NDirect + N1Indirect*K data blocks exhaust direct and single-indirect
	// addressing; two more data blocks force two separate allocations into
	// the double-indirect array's single top-level slot.
	const boundary = cofs.NDirect + cofs.N1Indirect*cofs.K
	nblocks := boundary + 2

	data := bytes.Repeat([]byte{0x7E}, nblocks*cofs.BlockSize)
	n, err := fs.WriteAt(ino.Inum, data, 0)
	if err != nil {
		t.Fatalf("WriteAt past double-indirect boundary: %v", err)
	}
	if n != len(data) {
		t.Fatalf("WriteAt wrote %d bytes, want %d", n, len(data))
	}

	buf := make([]byte, len(data))
	n, err = fs.ReadAt(ino.Inum, buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(data) || !bytes.Equal(buf, data) {
		t.Fatal("read-back past the double-indirect boundary produced different data")
	}

	stat, err := fs.Stat("/huge.bin")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.NBlocks != uint64(nblocks) {
		t.Fatalf("NBlocks = %d, want %d", stat.NBlocks, nblocks)
	}
}

func TestMkdirAndLookup(t *testing.T) {
	fs := cofstest.NewVolume(t, 256)
	defer fs.Unmount()

	if _, err := fs.Mkdir("/sub", cofs.SymlinkPerm, 0, 0); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	if _, err := fs.Create("/sub/file.txt", cofs.PermOwnerR, 0, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	st, err := fs.Stat("/sub/file.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.IsDir() {
		t.Fatal("/sub/file.txt should not be a directory")
	}

	entries, err := fs.Readdir("/sub")
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Name == "file.txt" {
			found = true
		}
	}
	if !found {
		t.Fatal("file.txt missing from /sub listing")
	}
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	fs := cofstest.NewVolume(t, 256)
	defer fs.Unmount()

	if _, err := fs.Mkdir("/sub", cofs.SymlinkPerm, 0, 0); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := fs.Create("/sub/file.txt", cofs.PermOwnerR, 0, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := fs.Rmdir("/sub")
	if cerr, ok := err.(*cofs.Error); !ok || cerr.Errno != cofs.ENOTEMPTY {
		t.Fatalf("Rmdir on non-empty dir = %v, want ENOTEMPTY", err)
	}

	if err := fs.Unlink("/sub/file.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := fs.Rmdir("/sub"); err != nil {
		t.Fatalf("Rmdir after emptying: %v", err)
	}

	if _, err := fs.Stat("/sub"); err == nil {
		t.Fatal("/sub should no longer exist")
	}
}

func TestUnlinkRejectsDirectory(t *testing.T) {
	fs := cofstest.NewVolume(t, 256)
	defer fs.Unmount()

	if _, err := fs.Mkdir("/sub", cofs.SymlinkPerm, 0, 0); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	err := fs.Unlink("/sub")
	if cerr, ok := err.(*cofs.Error); !ok || cerr.Errno != cofs.EISDIR {
		t.Fatalf("Unlink on directory = %v, want EISDIR", err)
	}
}

func TestSymlinkAndReadlink(t *testing.T) {
	fs := cofstest.NewVolume(t, 256)
	defer fs.Unmount()

	if _, err := fs.Symlink("/etc/target", "/link", 0, 0); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	target, err := fs.Readlink("/link")
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "/etc/target" {
		t.Fatalf("Readlink = %q, want /etc/target", target)
	}
}

func TestSymlinkRejectsOverlongTarget(t *testing.T) {
	fs := cofstest.NewVolume(t, 256)
	defer fs.Unmount()

	long := bytes.Repeat([]byte{'a'}, cofs.SymlinkInline+1)
	_, err := fs.Symlink(string(long), "/link", 0, 0)
	if cerr, ok := err.(*cofs.Error); !ok || cerr.Errno != cofs.ENAMETOOLONG {
		t.Fatalf("Symlink with overlong target = %v, want ENAMETOOLONG", err)
	}
}

func TestRenameMovesEntryAndReplacesTarget(t *testing.T) {
	fs := cofstest.NewVolume(t, 256)
	defer fs.Unmount()

	ino, err := fs.Create("/a.txt", cofs.PermOwnerR|cofs.PermOwnerW, 0, 0)
	if err != nil {
		t.Fatalf("Create a.txt: %v", err)
	}
	if _, err := fs.WriteAt(ino.Inum, []byte("a"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	if _, err := fs.Create("/b.txt", cofs.PermOwnerR|cofs.PermOwnerW, 0, 0); err != nil {
		t.Fatalf("Create b.txt: %v", err)
	}

	if err := fs.Rename("/a.txt", "/b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if _, err := fs.Stat("/a.txt"); err == nil {
		t.Fatal("/a.txt should no longer exist after rename")
	}

	st, err := fs.Stat("/b.txt")
	if err != nil {
		t.Fatalf("Stat(/b.txt): %v", err)
	}
	buf := make([]byte, 1)
	if _, err := fs.ReadAt(st.Inum, buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if buf[0] != 'a' {
		t.Fatalf("content at /b.txt = %q, want the renamed file's content", buf)
	}
}
