package ffsp

import "io/fs"

// Directory contents are ordinary file data: a flat array of fixed
// 256-byte DirEntry records read and written through the same
// read/write/truncate engine every other inode uses (spec.md §4.5).
// A removed entry is tombstoned in place (Ino set to InvalidInoNo)
// rather than shifting the array, so lookups and iteration both just
// skip invalid slots.

// dirEntries reads every DirEntry slot currently stored in dir's data,
// valid or not, in on-disk order.
func (fs *FileSystem) dirEntries(dir *cachedInode) ([]DirEntry, error) {
	n := int(dir.rec.Size / dirEntrySize)
	out := make([]DirEntry, 0, n)
	buf := make([]byte, dirEntrySize)
	for i := 0; i < n; i++ {
		if _, err := fs.readAt(dir, buf, uint64(i)*dirEntrySize); err != nil {
			return nil, err
		}
		var e DirEntry
		if err := e.UnmarshalBinary(buf); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// lookupEntry returns the DirEntry named name inside dir, or
// ErrNotFound.
func (fs *FileSystem) lookupEntry(dir *cachedInode, name string) (DirEntry, error) {
	entries, err := fs.dirEntries(dir)
	if err != nil {
		return DirEntry{}, err
	}
	for _, e := range entries {
		if e.valid() && e.name() == name {
			return e, nil
		}
	}
	return DirEntry{}, ErrNotFound
}

// addEntry appends a new (name, ino) pair to dir, reusing the first
// tombstoned slot if one exists instead of growing the array.
func (fs *FileSystem) addEntry(dir *cachedInode, name string, ino uint32) error {
	if len(name) == 0 || len(name) > NameMax {
		return ErrInvalidArgument
	}
	if _, err := fs.lookupEntry(dir, name); err == nil {
		return ErrExists
	}

	entries, err := fs.dirEntries(dir)
	if err != nil {
		return err
	}
	var e DirEntry
	e.Ino = ino
	e.setName(name)
	buf, err := e.MarshalBinary()
	if err != nil {
		return err
	}

	for i, existing := range entries {
		if !existing.valid() {
			_, err := fs.writeAt(dir, buf, uint64(i)*dirEntrySize)
			return err
		}
	}
	_, err = fs.writeAt(dir, buf, uint64(len(entries))*dirEntrySize)
	return err
}

// removeEntry tombstones the slot named name inside dir.
func (fs *FileSystem) removeEntry(dir *cachedInode, name string) error {
	entries, err := fs.dirEntries(dir)
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.valid() && e.name() == name {
			var tomb DirEntry
			buf, err := tomb.MarshalBinary()
			if err != nil {
				return err
			}
			_, err = fs.writeAt(dir, buf, uint64(i)*dirEntrySize)
			return err
		}
	}
	return ErrNotFound
}

// renameEntrySlot repoints the slot named name at a different inode number,
// for the overwrite-existing-target case in rename(2).
func (fs *FileSystem) renameEntrySlot(dir *cachedInode, name string, newIno uint32) error {
	entries, err := fs.dirEntries(dir)
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.valid() && e.name() == name {
			e.Ino = newIno
			buf, err := e.MarshalBinary()
			if err != nil {
				return err
			}
			_, err = fs.writeAt(dir, buf, uint64(i)*dirEntrySize)
			return err
		}
	}
	return ErrNotFound
}

// isEmptyDir reports whether dir has no entries besides "." and "..".
func (fs *FileSystem) isEmptyDir(dir *cachedInode) (bool, error) {
	entries, err := fs.dirEntries(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.valid() {
			continue
		}
		if e.name() == "." || e.name() == ".." {
			continue
		}
		return false, nil
	}
	return true, nil
}

// dirEntry adapts an ffsp DirEntry to fs.DirEntry for callers that want
// to walk a directory with the standard library's idioms (returned by
// Readdir; the FUSE host binding uses ReaddirInfo instead).
type dirEntry struct {
	name string
	ino  uint32
	mode uint32
}

func (d *dirEntry) Name() string { return d.name }
func (d *dirEntry) IsDir() bool  { return isDirMode(d.mode) }
func (d *dirEntry) Type() fs.FileMode {
	return UnixToMode(d.mode).Type()
}
func (d *dirEntry) Info() (fs.FileInfo, error) { return nil, ErrNotSupported }

// DirInfo is one live directory entry's name, inode number, and mode,
// for callers (the FUSE host binding) that want more than fs.DirEntry
// exposes.
type DirInfo struct {
	Name string
	Ino  uint32
	Mode uint32
}

// listLive returns every live (non-tombstoned) entry of dirIno's
// directory as DirInfo. Callers must hold fs.mu.
func (fs *FileSystem) listLive(dirIno uint32) ([]DirInfo, error) {
	dir, err := fs.readInode(dirIno)
	if err != nil {
		return nil, err
	}
	if !isDirMode(dir.rec.Mode) {
		return nil, ErrNotDir
	}
	entries, err := fs.dirEntries(dir)
	if err != nil {
		return nil, err
	}
	out := make([]DirInfo, 0, len(entries))
	for _, e := range entries {
		if !e.valid() {
			continue
		}
		child, err := fs.readInode(e.Ino)
		mode := uint32(0)
		if err == nil {
			mode = child.rec.Mode
		}
		out = append(out, DirInfo{Name: e.name(), Ino: e.Ino, Mode: mode})
	}
	return out, nil
}

// ReaddirInfo lists the live entries of the directory named by dirIno
// with their inode numbers and modes attached.
func (fs *FileSystem) ReaddirInfo(dirIno uint32) ([]DirInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.listLive(dirIno)
}

// Readdir lists the live entries of the directory named by dirIno as
// fs.DirEntry, for callers that want the standard library's idiom.
func (fs *FileSystem) Readdir(dirIno uint32) (out []fs.DirEntry, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	infos, err := fs.listLive(dirIno)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		out = append(out, &dirEntry{name: info.Name, ino: info.Ino, mode: info.Mode})
	}
	return out, nil
}
