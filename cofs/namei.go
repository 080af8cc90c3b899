package cofs

import "strings"

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// namei resolves an absolute path to its inode number, grounded on
// layer2.c's namei: resolve the parent directory, then look up the final
// component within it.
func (fs *FileSystem) namei(path string) (uint64, error) {
	if path == "/" || path == "" {
		return fs.sb.RootDir, nil
	}

	parent, err := fs.nameiParent(path)
	if err != nil {
		return Missing, err
	}

	parentIno, err := fs.il.read(parent)
	if err != nil {
		return Missing, err
	}

	parts := splitPath(path)
	base := parts[len(parts)-1]
	return lookup(fs.dev, parentIno, base)
}

// nameiParent resolves an absolute path's containing directory, grounded
// on layer2.c's namei_parent: walk every component but the last, starting
// from the root directory, updating each visited directory's access time
// along the way.
func (fs *FileSystem) nameiParent(path string) (uint64, error) {
	if path == "/" || path == "" {
		return fs.sb.RootDir, nil
	}

	parts := splitPath(path)
	inum := fs.sb.RootDir
	ino, err := fs.il.read(inum)
	if err != nil {
		return Missing, err
	}

	for _, part := range parts[:len(parts)-1] {
		if !ino.IsDir() {
			return Missing, newErr("namei", ENOTDIR)
		}

		next, err := lookup(fs.dev, ino, part)
		if err != nil {
			return Missing, err
		}

		ino, err = fs.il.read(next)
		if err != nil {
			return Missing, err
		}
		inum = next

		ino.Atim = currentTime()
		if err := fs.il.write(ino); err != nil {
			return Missing, err
		}
	}

	return inum, nil
}

func basename(path string) string {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "/"
	}
	return parts[len(parts)-1]
}
