package ffsp

import (
	"time"
)

// Attr is the subset of an inode's metadata host operations report back
// (the getattr/stat result), independent of any particular host
// binding's wire representation.
type Attr struct {
	Ino   uint32
	Size  uint64
	Mode  uint32
	Nlink uint32
	Uid   uint32
	Gid   uint32
	Rdev  uint64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

func attrOf(ci *cachedInode) Attr {
	return Attr{
		Ino:   ci.rec.No,
		Size:  ci.rec.Size,
		Mode:  ci.rec.Mode,
		Nlink: ci.rec.Nlink,
		Uid:   ci.rec.Uid,
		Gid:   ci.rec.Gid,
		Rdev:  ci.rec.Rdev,
		Atime: toTime(ci.rec.Atime),
		Mtime: toTime(ci.rec.Mtime),
		Ctime: toTime(ci.rec.Ctime),
	}
}

func toTime(ts timespec) time.Time { return time.Unix(ts.Sec, int64(ts.Nsec)) }

// GetAttr resolves path and returns its inode's attributes. ffsp mounts
// noatime: Atime is whatever was last recorded at creation or an
// explicit Utimens call, never bumped by reads (spec.md §4.7).
func (fs *FileSystem) GetAttr(path string) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino, err := fs.resolve(path)
	if err != nil {
		return Attr{}, err
	}
	return fs.getAttrLocked(ino)
}

// GetAttrIno returns ino's attributes directly, for callers (the FUSE
// host binding) that already have an inode number and no path.
func (fs *FileSystem) GetAttrIno(ino uint32) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.getAttrLocked(ino)
}

func (fs *FileSystem) getAttrLocked(ino uint32) (Attr, error) {
	ci, err := fs.readInode(ino)
	if err != nil {
		return Attr{}, err
	}
	return attrOf(ci), nil
}

// Lookup resolves a single child name inside a directory inode,
// returning its attributes. Used by the FUSE host binding's lookup
// callback, which is keyed by parent inode rather than a full path.
func (fs *FileSystem) Lookup(parentIno uint32, name string) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, err := fs.readInode(parentIno)
	if err != nil {
		return Attr{}, err
	}
	if !isDirMode(dir.rec.Mode) {
		return Attr{}, ErrNotDir
	}
	e, err := fs.lookupEntry(dir, name)
	if err != nil {
		return Attr{}, err
	}
	ci, err := fs.readInode(e.Ino)
	if err != nil {
		return Attr{}, err
	}
	return attrOf(ci), nil
}

// mknodLocked creates a new inode of the given mode/rdev inside parent
// and links it under name. Callers must hold fs.mu.
func (fs *FileSystem) mknodLocked(parentIno uint32, name string, mode uint32, rdev uint64) (*cachedInode, error) {
	if fs.readOnly {
		return nil, ErrPermission
	}
	if len(name) == 0 || len(name) > NameMax {
		return nil, ErrInvalidArgument
	}
	dir, err := fs.readInode(parentIno)
	if err != nil {
		return nil, err
	}
	if !isDirMode(dir.rec.Mode) {
		return nil, ErrNotDir
	}
	if _, err := fs.lookupEntry(dir, name); err == nil {
		return nil, ErrExists
	}

	ino := fs.imap.findFree()
	if ino == InvalidInoNo {
		return nil, ErrNoSpace
	}

	ci := newCachedInode(ino)
	ci.rec.Mode = mode
	ci.rec.Rdev = rdev
	ci.rec.Nlink = 1
	now := time.Now()
	setTimespec(&ci.rec.Ctime, now)
	setTimespec(&ci.rec.Mtime, now)
	setTimespec(&ci.rec.Atime, now)
	ci.rec.setTier(tierEmbedded)

	fs.imap.setReserved(ino)
	fs.cacheInsert(ci)
	fs.markDirty(ino)

	if err := fs.addEntry(dir, name, ino); err != nil {
		fs.cacheRemove(ino)
		fs.imap.setFree(ino)
		return nil, err
	}
	fs.markDirty(parentIno)

	if err := fs.flushInodes(false); err != nil {
		return nil, err
	}
	return ci, nil
}

// Mknod creates a regular file, device node, or other non-directory
// inode inside parentIno.
func (fs *FileSystem) Mknod(parentIno uint32, name string, mode uint32, rdev uint64) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ci, err := fs.mknodLocked(parentIno, name, mode, rdev)
	if err != nil {
		return Attr{}, err
	}
	return attrOf(ci), nil
}

// Mkdir creates a new, empty subdirectory inside parentIno.
func (fs *FileSystem) Mkdir(parentIno uint32, name string, mode uint32) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ci, err := fs.mknodLocked(parentIno, name, (mode&^uint32(S_IFMT))|uint32(S_IFDIR), 0)
	if err != nil {
		return Attr{}, err
	}
	initDirData(ci, ci.rec.No, parentIno)
	ci.rec.Nlink = 2
	fs.markDirty(ci.rec.No)

	parent, err := fs.readInode(parentIno)
	if err != nil {
		return Attr{}, err
	}
	parent.rec.Nlink++
	fs.markDirty(parentIno)

	if err := fs.flushInodes(false); err != nil {
		return Attr{}, err
	}
	return attrOf(ci), nil
}

// Symlink creates a symbolic link whose target is stored as the link
// inode's file data.
func (fs *FileSystem) Symlink(parentIno uint32, name, target string) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ci, err := fs.mknodLocked(parentIno, name, uint32(S_IFLNK)|0777, 0)
	if err != nil {
		return Attr{}, err
	}
	if _, err := fs.writeAt(ci, []byte(target), 0); err != nil {
		return Attr{}, err
	}
	if err := fs.flushInodes(false); err != nil {
		return Attr{}, err
	}
	return attrOf(ci), nil
}

// Readlink returns a symbolic link's target.
func (fs *FileSystem) Readlink(ino uint32) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ci, err := fs.readInode(ino)
	if err != nil {
		return "", err
	}
	buf := make([]byte, ci.rec.Size)
	if _, err := fs.readAt(ci, buf, 0); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Link creates an additional hard link to an existing inode.
func (fs *FileSystem) Link(targetIno, parentIno uint32, name string) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return Attr{}, ErrPermission
	}

	target, err := fs.readInode(targetIno)
	if err != nil {
		return Attr{}, err
	}
	if isDirMode(target.rec.Mode) {
		return Attr{}, ErrInvalidArgument
	}
	dir, err := fs.readInode(parentIno)
	if err != nil {
		return Attr{}, err
	}
	if !isDirMode(dir.rec.Mode) {
		return Attr{}, ErrNotDir
	}
	if err := fs.addEntry(dir, name, targetIno); err != nil {
		return Attr{}, err
	}
	target.rec.Nlink++
	setTimespec(&target.rec.Ctime, time.Now())
	fs.markDirty(targetIno)
	fs.markDirty(parentIno)

	if err := fs.flushInodes(false); err != nil {
		return Attr{}, err
	}
	return attrOf(target), nil
}

// unlinkLocked removes name from parent, decrementing the target's link
// count and freeing it once it reaches zero. Callers must hold fs.mu.
func (fs *FileSystem) unlinkLocked(parentIno uint32, name string, wantDir bool) error {
	if fs.readOnly {
		return ErrPermission
	}
	dir, err := fs.readInode(parentIno)
	if err != nil {
		return err
	}
	e, err := fs.lookupEntry(dir, name)
	if err != nil {
		return err
	}
	target, err := fs.readInode(e.Ino)
	if err != nil {
		return err
	}
	isDir := isDirMode(target.rec.Mode)
	if isDir != wantDir {
		if isDir {
			return ErrIsDir
		}
		return ErrNotDir
	}
	if isDir {
		empty, err := fs.isEmptyDir(target)
		if err != nil {
			return err
		}
		if !empty {
			return ErrNotEmpty
		}
	}

	if err := fs.removeEntry(dir, name); err != nil {
		return err
	}
	fs.markDirty(parentIno)

	target.rec.Nlink--
	if isDir {
		target.rec.Nlink = 0
		parent, err := fs.readInode(parentIno)
		if err == nil {
			parent.rec.Nlink--
			fs.markDirty(parentIno)
		}
	}
	if target.rec.Nlink == 0 {
		fs.freeInode(e.Ino)
	} else {
		fs.markDirty(e.Ino)
	}
	return fs.flushInodes(false)
}

// freeInode drops ino from the cache and inode map, releasing the
// cluster it last occupied; the data clusters/erase blocks it still
// references are reclaimed lazily by the garbage collector once no
// summary lookup finds them live any more.
func (fs *FileSystem) freeInode(ino uint32) {
	cl, emptied := fs.imap.releaseCluster(ino)
	if emptied {
		fs.decCValid(cl)
	}
	fs.imap.setFree(ino)
	fs.cacheRemove(ino)
}

// Unlink removes a non-directory entry.
func (fs *FileSystem) Unlink(parentIno uint32, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.unlinkLocked(parentIno, name, false)
}

// Rmdir removes an empty subdirectory entry.
func (fs *FileSystem) Rmdir(parentIno uint32, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.unlinkLocked(parentIno, name, true)
}

// Rename implements full POSIX rename(2) semantics: renaming onto an
// existing empty directory or a non-directory target atomically
// replaces it, renaming a directory inside itself or one of its own
// descendants is rejected, and the moved entry's ".." is fixed up when
// it crosses parents (spec.md §9, resolved in favor of a complete
// implementation rather than the reference's unimplemented stub).
func (fs *FileSystem) Rename(oldParent uint32, oldName string, newParent uint32, newName string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return ErrPermission
	}

	srcDir, err := fs.readInode(oldParent)
	if err != nil {
		return err
	}
	srcEntry, err := fs.lookupEntry(srcDir, oldName)
	if err != nil {
		return err
	}
	srcIno := srcEntry.Ino
	srcInode, err := fs.readInode(srcIno)
	if err != nil {
		return err
	}
	srcIsDir := isDirMode(srcInode.rec.Mode)

	if srcIsDir {
		if newParent == srcIno {
			return ErrInvalidArgument
		}
		if isAncestor, err := fs.isAncestorOf(srcIno, newParent); err != nil {
			return err
		} else if isAncestor {
			return ErrInvalidArgument
		}
	}

	dstDir, err := fs.readInode(newParent)
	if err != nil {
		return err
	}
	if !isDirMode(dstDir.rec.Mode) {
		return ErrNotDir
	}

	dstEntry, dstErr := fs.lookupEntry(dstDir, newName)
	if dstErr == nil && dstEntry.Ino == srcIno {
		// both names already link the same inode: rename(2) does nothing
		return nil
	}
	if dstErr == nil {
		dstInode, err := fs.readInode(dstEntry.Ino)
		if err != nil {
			return err
		}
		dstIsDir := isDirMode(dstInode.rec.Mode)
		if dstIsDir != srcIsDir {
			if dstIsDir {
				return ErrIsDir
			}
			return ErrNotDir
		}
		if dstIsDir {
			empty, err := fs.isEmptyDir(dstInode)
			if err != nil {
				return err
			}
			if !empty {
				return ErrNotEmpty
			}
		}
		if err := fs.removeEntry(dstDir, newName); err != nil {
			return err
		}
		dstInode.rec.Nlink--
		if dstIsDir {
			dstInode.rec.Nlink = 0
			dstDir.rec.Nlink--
		}
		if dstInode.rec.Nlink == 0 {
			fs.freeInode(dstEntry.Ino)
		} else {
			fs.markDirty(dstEntry.Ino)
		}
		fs.markDirty(newParent)
	}

	if err := fs.addEntry(dstDir, newName, srcIno); err != nil {
		return err
	}
	if err := fs.removeEntry(srcDir, oldName); err != nil {
		return err
	}
	fs.markDirty(oldParent)
	fs.markDirty(newParent)

	if srcIsDir && oldParent != newParent {
		if err := fs.renameEntrySlot(srcInode, "..", newParent); err != nil {
			return err
		}
		srcDirInode, err := fs.readInode(oldParent)
		if err == nil {
			srcDirInode.rec.Nlink--
			fs.markDirty(oldParent)
		}
		dstDirInode, err := fs.readInode(newParent)
		if err == nil {
			dstDirInode.rec.Nlink++
			fs.markDirty(newParent)
		}
		fs.markDirty(srcIno)
	}

	return fs.flushInodes(false)
}

// isAncestorOf reports whether candidate is ino or a descendant of ino,
// by walking candidate's ".." chain up to the root.
func (fs *FileSystem) isAncestorOf(ino, candidate uint32) (bool, error) {
	cur := candidate
	for {
		if cur == ino {
			return true, nil
		}
		if cur == RootIno {
			return false, nil
		}
		dir, err := fs.readInode(cur)
		if err != nil {
			return false, err
		}
		e, err := fs.lookupEntry(dir, "..")
		if err != nil {
			return false, err
		}
		if e.Ino == cur {
			return false, nil
		}
		cur = e.Ino
	}
}

// Read reads up to len(p) bytes from ino's data at offset off.
func (fs *FileSystem) Read(ino uint32, p []byte, off uint64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ci, err := fs.readInode(ino)
	if err != nil {
		return 0, err
	}
	return fs.readAt(ci, p, off)
}

// Write writes p to ino's data at offset off, updating size and mtime.
func (fs *FileSystem) Write(ino uint32, p []byte, off uint64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return 0, ErrPermission
	}
	ci, err := fs.readInode(ino)
	if err != nil {
		return 0, err
	}
	n, err := fs.writeAt(ci, p, off)
	if err != nil {
		return n, err
	}
	setTimespec(&ci.rec.Mtime, time.Now())
	fs.markDirty(ino)
	if err := fs.flushInodes(false); err != nil {
		return n, err
	}
	return n, nil
}

// Truncate changes ino's size, per spec.md §4.4's grow/shrink rules.
func (fs *FileSystem) Truncate(ino uint32, size uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return ErrPermission
	}
	ci, err := fs.readInode(ino)
	if err != nil {
		return err
	}
	if err := fs.truncate(ci, size); err != nil {
		return err
	}
	setTimespec(&ci.rec.Mtime, time.Now())
	fs.markDirty(ino)
	return fs.flushInodes(false)
}

// Chmod changes the permission bits of ino's mode, keeping its type bits.
func (fs *FileSystem) Chmod(ino uint32, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return ErrPermission
	}
	ci, err := fs.readInode(ino)
	if err != nil {
		return err
	}
	ci.rec.Mode = (ci.rec.Mode &^ 07777) | (mode & 07777)
	setTimespec(&ci.rec.Ctime, time.Now())
	fs.markDirty(ino)
	return fs.flushInodes(false)
}

// Chown changes ownership. A uid/gid of -1 (passed as the max uint32
// sentinel) leaves that field unchanged, matching chown(2).
func (fs *FileSystem) Chown(ino uint32, uid, gid uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return ErrPermission
	}
	ci, err := fs.readInode(ino)
	if err != nil {
		return err
	}
	const unchanged = ^uint32(0)
	if uid != unchanged {
		ci.rec.Uid = uid
	}
	if gid != unchanged {
		ci.rec.Gid = gid
	}
	setTimespec(&ci.rec.Ctime, time.Now())
	fs.markDirty(ino)
	return fs.flushInodes(false)
}

// Utimens sets ino's access and modification times explicitly (the only
// way atime ever changes, since ffsp otherwise mounts noatime).
func (fs *FileSystem) Utimens(ino uint32, atime, mtime time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return ErrPermission
	}
	ci, err := fs.readInode(ino)
	if err != nil {
		return err
	}
	setTimespec(&ci.rec.Atime, atime)
	setTimespec(&ci.rec.Mtime, mtime)
	setTimespec(&ci.rec.Ctime, time.Now())
	fs.markDirty(ino)
	return fs.flushInodes(false)
}

// Open pins ino with a fresh handle id for subsequent Read/Write/Release
// calls, so the host binding doesn't need to pass a path or re-resolve
// on every I/O.
func (fs *FileSystem) Open(ino uint32) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.readInode(ino); err != nil {
		return 0, err
	}
	fs.nextHandle++
	h := fs.nextHandle
	fs.handles[h] = &fileHandle{ino: ino}
	return h, nil
}

// Release drops a handle previously returned by Open.
func (fs *FileSystem) Release(handle uint64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.handles, handle)
}

// Flush and Fsync both push every currently dirty inode out to the
// medium and write back the metadata region; ffsp keeps no write-behind
// journal to truly no-op against; "flush" always means "flush the
// dirty state now" (spec.md §9).
func (fs *FileSystem) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return nil
	}
	if err := fs.flushInodes(true); err != nil {
		return err
	}
	if err := fs.writeMetadata(); err != nil {
		return err
	}
	return fs.backend.Sync()
}

func (fs *FileSystem) Fsync(ino uint32) error {
	return fs.Flush()
}

// Statfs reports capacity in ffsp's native units: clusters, not bytes.
type Statfs struct {
	ClusterSize     uint32
	Clusters        uint64
	FreeClusters    uint64
	FreeEraseBlocks uint32
	Inodes          uint32
	FreeInodes      uint32
}

// Statfs computes the free-cluster count by scanning every erase block's
// type and CValid (spec.md §4.7): an empty block contributes all of its
// cluster slots, an ebin block contributes nothing (it is handed out and
// reclaimed whole, never at cluster granularity), and every other
// non-empty block contributes its usable slots minus CValid live ones.
func (fs *FileSystem) Statfs() Statfs {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	perEB := uint64(fs.clustersPerEraseblock())
	freeEB := uint32(0)
	freeClusters := uint64(0)
	for id := uint32(1); id < fs.sb.NEraseBlocks; id++ {
		e := &fs.eb[id]
		switch {
		case e.Type == ebEmpty:
			freeEB++
			freeClusters += perEB
		case e.Type == ebEBIN:
			// whole-block granularity: no cluster-level free space to report
		default:
			usable := perEB
			if e.Type.requiresSummary() {
				usable = uint64(fs.summarySlots())
			}
			if uint64(e.CValid) < usable {
				freeClusters += usable - uint64(e.CValid)
			}
		}
	}
	freeIno := uint32(0)
	for ino := RootIno; int(ino) < len(fs.imap.clusterOf); ino++ {
		if fs.imap.isFree(ino) {
			freeIno++
		}
	}
	return Statfs{
		ClusterSize:     fs.sb.ClusterSize,
		Clusters:        fs.clustersTotal(),
		FreeClusters:    freeClusters,
		FreeEraseBlocks: freeEB,
		Inodes:          fs.sb.NIno,
		FreeInodes:      freeIno,
	}
}
