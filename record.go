package ffsp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FSID is the magic number stamped into every ffsp superblock.
const FSID = 0x46465350 // "FFSP"

// NameMax is the longest name a directory entry can hold.
const NameMax = 248

const (
	superblockSize    = 128
	inodeRecordSize   = 128
	eraseblockEntrySize = 8
	dirEntrySize      = 256
)

// Superblock is the first 128 bytes of the medium: the fixed layout
// parameters chosen at mkfs time plus the dirty-flush / open-erase-block
// tuning knobs. Everything past erase block 0 is addressed relative to
// the values recorded here.
type Superblock struct {
	FSID           uint32
	Flags          uint32
	NEraseBlocks   uint32
	NIno           uint32
	BlockSize      uint32
	ClusterSize    uint32
	EraseSize      uint32
	NInoOpen       uint32
	NEraseOpen     uint32
	NEraseReserve  uint32
	NEraseWrites   uint32
	_              [21]uint32
}

// MarshalBinary encodes the superblock into its fixed 128-byte layout.
func (s *Superblock) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(superblockSize)
	if err := binary.Write(buf, binary.BigEndian, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a superblock from its fixed 128-byte layout and
// validates the magic number.
func (s *Superblock) UnmarshalBinary(data []byte) error {
	if len(data) < superblockSize {
		return ErrInvalidSuper
	}
	if err := binary.Read(bytes.NewReader(data[:superblockSize]), binary.BigEndian, s); err != nil {
		return err
	}
	if s.FSID != FSID {
		return ErrInvalidSuper
	}
	return nil
}

// EraseblockType classifies what kind of content an erase block holds.
type EraseblockType uint8

const (
	ebSuper EraseblockType = iota
	ebDentryInode
	ebDentryClin
	ebFileInode
	ebFileClin
	ebEBIN
	ebEmpty
	ebInvalid EraseblockType = 0xff
)

func (t EraseblockType) String() string {
	switch t {
	case ebSuper:
		return "super"
	case ebDentryInode:
		return "dentry_inode"
	case ebDentryClin:
		return "dentry_clin"
	case ebFileInode:
		return "file_inode"
	case ebFileClin:
		return "file_clin"
	case ebEBIN:
		return "ebin"
	case ebEmpty:
		return "empty"
	default:
		return fmt.Sprintf("EraseblockType(%d)", uint8(t))
	}
}

// requiresSummary reports whether erase blocks of this type carry a
// trailing erase-block summary recording, per cluster slot, which inode
// currently owns that cluster's data. Inode-bearing erase blocks don't
// need one: the inode map already says which inode owns which cluster.
// Indirect-data erase blocks (clin and ebin) do, since the garbage
// collector has to find the owning inode from the block alone in order
// to relocate or drop its indirect pointer (spec.md §7).
func (t EraseblockType) requiresSummary() bool {
	return t == ebDentryClin || t == ebFileClin || t == ebEBIN
}

// isDirType reports whether this erase block type belongs to the
// directory-entry (dentry) category rather than the file category.
func (t EraseblockType) isDirType() bool {
	return t == ebDentryInode || t == ebDentryClin
}

// EraseblockEntry is the 8-byte per-erase-block bookkeeping record
// stored in the array that starts at offset ClusterSize in erase block 0.
type EraseblockEntry struct {
	Type      EraseblockType
	_         uint8
	LastWrite uint16
	CValid    uint16
	WriteOps  uint16
}

func (e *EraseblockEntry) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(eraseblockEntrySize)
	if err := binary.Write(buf, binary.BigEndian, e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *EraseblockEntry) UnmarshalBinary(data []byte) error {
	if len(data) < eraseblockEntrySize {
		return ErrIO
	}
	return binary.Read(bytes.NewReader(data[:eraseblockEntrySize]), binary.BigEndian, e)
}

// Inode map sentinel cluster ids.
const (
	freeClusterID     uint32 = 0x00000000
	reservedClusterID uint32 = 0xffffffff
)

// InvalidInoNo is the inode number that is never valid (0).
const InvalidInoNo uint32 = 0

// RootIno is the inode number of the root directory.
const RootIno uint32 = 1

// dataTier selects which of the three data encodings an inode currently uses.
type dataTier uint8

const (
	tierEmbedded dataTier = 1 << iota
	tierClusterIndirect
	tierEraseblockIndirect
)

func (t dataTier) String() string {
	switch t {
	case tierEmbedded:
		return "emb"
	case tierClusterIndirect:
		return "clin"
	case tierEraseblockIndirect:
		return "ebin"
	default:
		return fmt.Sprintf("dataTier(%d)", uint8(t))
	}
}

// timespec is the on-medium 12-byte time representation: a 64-bit second
// count plus a 32-bit nanosecond remainder.
type timespec struct {
	Sec  int64
	Nsec int32
}

// InodeRecord is the fixed 128-byte inode header. It is always allocated
// together with ClusterSize-128 trailing bytes of embedded data / indirect
// pointers; that tail is not part of this struct because its layout and
// length depend on i_size and the data tier (see filedata.go).
type InodeRecord struct {
	Size    uint64
	Flags   uint32 // low 8 bits: dataTier
	No      uint32
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Mode    uint32
	Rdev    uint64
	Atime   timespec
	Ctime   timespec
	Mtime   timespec
	_       [13]uint32
}

func (i *InodeRecord) tier() dataTier { return dataTier(i.Flags & 0xff) }

func (i *InodeRecord) setTier(t dataTier) {
	i.Flags = (i.Flags &^ 0xff) | uint32(t)
}

func (i *InodeRecord) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(inodeRecordSize)
	if err := binary.Write(buf, binary.BigEndian, i); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (i *InodeRecord) UnmarshalBinary(data []byte) error {
	if len(data) < inodeRecordSize {
		return ErrIO
	}
	return binary.Read(bytes.NewReader(data[:inodeRecordSize]), binary.BigEndian, i)
}

// DirEntry is the fixed 256-byte directory entry record. Name is not
// guaranteed to be NUL-terminated beyond Len.
type DirEntry struct {
	Ino      uint32
	Len      uint8
	_        [3]byte
	Name     [NameMax]byte
}

// valid reports whether this entry still names a live inode (tombstones
// left behind by remove_entry have Ino == 0).
func (d *DirEntry) valid() bool { return d.Ino != InvalidInoNo }

func (d *DirEntry) name() string { return string(d.Name[:d.Len]) }

func (d *DirEntry) setName(name string) {
	if len(name) > NameMax {
		name = name[:NameMax]
	}
	d.Len = uint8(len(name))
	var zero [NameMax]byte
	d.Name = zero
	copy(d.Name[:], name)
}

func (d *DirEntry) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(dirEntrySize)
	if err := binary.Write(buf, binary.BigEndian, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *DirEntry) UnmarshalBinary(data []byte) error {
	if len(data) < dirEntrySize {
		return ErrIO
	}
	return binary.Read(bytes.NewReader(data[:dirEntrySize]), binary.BigEndian, d)
}

func divCeil(a, b uint64) uint64 {
	if a == 0 {
		return 0
	}
	return (a-1)/b + 1
}
