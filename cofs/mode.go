package cofs

import "io/fs"

// Unix permission/mode bit constants for COFS's four-way Type.
const (
	sIFMT  = 0xf000
	sIFREG = 0x8000
	sIFDIR = 0x4000
	sIFBLK = 0x6000
	sIFCHR = 0x2000
	sIFLNK = 0xa000

	sISVTX = 0x200
	sISGID = 0x400
	sISUID = 0x800
)

// Mode returns the fs.FileMode for an inode's type and permission bits.
func (t Type) Mode(perm Permissions) fs.FileMode {
	res := fs.FileMode(unixPerm(perm))

	switch t {
	case TypeDir:
		res |= fs.ModeDir
	case TypeSymlink:
		res |= fs.ModeSymlink
	case TypeSpecial:
		res |= fs.ModeDevice
	}

	if perm&PermSetgid != 0 {
		res |= fs.ModeSetgid
	}
	if perm&PermSetuid != 0 {
		res |= fs.ModeSetuid
	}
	if perm&PermSticky != 0 {
		res |= fs.ModeSticky
	}

	return res
}

// unixPerm packs Permissions into the low 9 (+3) rwx/setuid/setgid/sticky
// bits as used by chmod(2) and struct stat's st_mode.
func unixPerm(perm Permissions) uint32 {
	var m uint32
	if perm&PermOwnerR != 0 {
		m |= 0400
	}
	if perm&PermOwnerW != 0 {
		m |= 0200
	}
	if perm&PermOwnerX != 0 {
		m |= 0100
	}
	if perm&PermGroupR != 0 {
		m |= 040
	}
	if perm&PermGroupW != 0 {
		m |= 020
	}
	if perm&PermGroupX != 0 {
		m |= 010
	}
	if perm&PermOtherR != 0 {
		m |= 04
	}
	if perm&PermOtherW != 0 {
		m |= 02
	}
	if perm&PermOtherX != 0 {
		m |= 01
	}
	if perm&PermSetuid != 0 {
		m |= 04000
	}
	if perm&PermSetgid != 0 {
		m |= 02000
	}
	if perm&PermSticky != 0 {
		m |= 01000
	}
	return m
}

// PermissionsFromUnix builds Permissions from a chmod-style mode value,
// discarding any type bits (S_IFMT).
func PermissionsFromUnix(mode uint32) Permissions {
	var p Permissions
	if mode&0400 != 0 {
		p |= PermOwnerR
	}
	if mode&0200 != 0 {
		p |= PermOwnerW
	}
	if mode&0100 != 0 {
		p |= PermOwnerX
	}
	if mode&040 != 0 {
		p |= PermGroupR
	}
	if mode&020 != 0 {
		p |= PermGroupW
	}
	if mode&010 != 0 {
		p |= PermGroupX
	}
	if mode&04 != 0 {
		p |= PermOtherR
	}
	if mode&02 != 0 {
		p |= PermOtherW
	}
	if mode&01 != 0 {
		p |= PermOtherX
	}
	if mode&04000 != 0 {
		p |= PermSetuid
	}
	if mode&02000 != 0 {
		p |= PermSetgid
	}
	if mode&01000 != 0 {
		p |= PermSticky
	}
	return p
}

// UnixMode returns the full st_mode-style value (type bits plus permission
// bits) for an inode's type and permissions.
func (t Type) UnixMode(perm Permissions) uint32 {
	m := unixPerm(perm)
	switch t {
	case TypeDir:
		m |= sIFDIR
	case TypeSymlink:
		m |= sIFLNK
	case TypeSpecial:
		m |= sIFBLK
	default:
		m |= sIFREG
	}
	return m
}
