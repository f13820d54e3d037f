package ffsp

// cachedInode is the resident, decoded form of an on-medium inode: the
// fixed 128-byte header plus its variable trailing payload, whose
// meaning depends on rec.tier() (spec.md §4.4):
//   - tierEmbedded: data holds up to maxEmb() raw file bytes.
//   - tierClusterIndirect: data holds a big-endian uint32 array of
//     cluster ids, one per clustersize-sized chunk of the file.
//   - tierEraseblockIndirect: data holds a big-endian uint32 array of
//     erase block ids, one per erasesize-sized chunk of the file.
type cachedInode struct {
	rec  InodeRecord
	data []byte
}

func newCachedInode(ino uint32) *cachedInode {
	ci := &cachedInode{}
	ci.rec.No = ino
	return ci
}

// indirectCount returns how many uint32 pointers data currently holds.
func (ci *cachedInode) indirectCount() int { return len(ci.data) / 4 }

func (ci *cachedInode) indirectAt(i int) uint32 { return be32(ci.data[i*4:]) }

func (ci *cachedInode) setIndirectAt(i int, v uint32) { putBE32(ci.data[i*4:], v) }

func (ci *cachedInode) appendIndirect(v uint32) {
	var b [4]byte
	putBE32(b[:], v)
	ci.data = append(ci.data, b[:]...)
}

// cacheGet returns the resident copy of ino, or nil if it isn't cached.
func (fs *FileSystem) cacheGet(ino uint32) *cachedInode {
	if int(ino) >= len(fs.cache) {
		return nil
	}
	return fs.cache[ino]
}

func (fs *FileSystem) cacheInsert(ci *cachedInode) {
	fs.cache[ci.rec.No] = ci
}

func (fs *FileSystem) cacheRemove(ino uint32) {
	fs.cache[ino] = nil
	fs.dirty.clear(ino)
}

// markDirty flags ino for the next metadata flush. It is idempotent: a
// second mark before the inode is written back costs nothing beyond the
// bit already being set. It does not touch the cluster ino last
// occupied: a dirty inode is always rewritten to a fresh cluster rather
// than updated in place, and flushInodeGroup releases the old cluster
// when it writes the new copy.
func (fs *FileSystem) markDirty(ino uint32) {
	if fs.dirty.test(ino) {
		return
	}
	fs.dirty.set(ino)
	fs.dirtyCount++
}

// resetDirty clears ino's dirty bit once its new copy has been durably
// written and its inode map entry updated to point at the new cluster.
func (fs *FileSystem) resetDirty(ino uint32) {
	if !fs.dirty.test(ino) {
		return
	}
	fs.dirty.clear(ino)
	fs.dirtyCount--
}

func (fs *FileSystem) isDirty(ino uint32) bool { return fs.dirty.test(ino) }

// dirtyInodes returns the cached copies of every dirty inode matching
// wantDir (true selects directories, false selects regular/other files),
// in ascending inode-number order, ready to be handed to writeInodeGroup.
func (fs *FileSystem) dirtyInodes(wantDir bool) []*cachedInode {
	var out []*cachedInode
	fs.dirty.forEach(func(ino uint32) {
		ci := fs.cacheGet(ino)
		if ci == nil {
			return
		}
		isDir := isDirMode(ci.rec.Mode)
		if isDir == wantDir {
			out = append(out, ci)
		}
	})
	return out
}

func isDirMode(mode uint32) bool { return mode&S_IFMT == S_IFDIR }

// flushInodes packs every dirty inode into fresh clusters and writes
// them out, directories and files in separate erase-block pools per
// spec.md §4.3. When all is true (unmount/fsync path) it keeps flushing
// until dirtyCount reaches zero. Otherwise it honors the ninoopen soft
// cap (spec.md §3, §4.1): while fewer than NInoOpen inodes are dirty it
// returns immediately without touching the medium, so the inode-group
// packer gets a chance to batch several dirty inodes into one cluster
// write instead of writing one inode per host operation.
func (fs *FileSystem) flushInodes(all bool) error {
	if !all && fs.dirtyCount < int(fs.sb.NInoOpen) {
		return nil
	}
	for {
		dirs := fs.dirtyInodes(true)
		files := fs.dirtyInodes(false)
		if len(dirs) == 0 && len(files) == 0 {
			return nil
		}
		if len(dirs) > 0 {
			if err := fs.flushInodeGroup(dirs, ebDentryInode); err != nil {
				return err
			}
		}
		if len(files) > 0 {
			if err := fs.flushInodeGroup(files, ebFileInode); err != nil {
				return err
			}
		}
		if !all {
			return nil
		}
	}
}

// flushInodeGroup allocates a writable cluster of ebType, packs as many
// of inodes as fit (inodegroup.go), writes them, updates the inode map
// and dirty set for the ones that made it in, and recurses for any
// leftovers that didn't fit in a single cluster.
func (fs *FileSystem) flushInodeGroup(inodes []*cachedInode, ebType EraseblockType) error {
	for len(inodes) > 0 {
		cl, err := fs.findWritableCluster(ebType)
		if err != nil {
			return err
		}
		packed, n := packInodeGroup(inodes, fs.sb.ClusterSize)
		if n == 0 {
			return ErrTooLarge
		}
		if err := fs.writeInodeGroup(packed, cl); err != nil {
			return err
		}
		for _, ci := range packed {
			prevCl, emptied := fs.imap.releaseCluster(ci.rec.No)
			if emptied {
				fs.decCValid(prevCl)
			}
			fs.imap.setCluster(ci.rec.No, cl)
			fs.resetDirty(ci.rec.No)
		}
		if err := fs.commitWriteOperation(cl); err != nil {
			return err
		}
		inodes = inodes[n:]
	}
	return nil
}
