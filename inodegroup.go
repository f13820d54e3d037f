package ffsp

// packInodeGroup greedily fills as many leading elements of inodes as fit
// into a single cluster, each contributing inodeRecordSize bytes of
// header plus len(data) bytes of tail. It mirrors original_source's
// inode_group.cpp, which packs inodes into a cluster back-to-back with
// no padding between records. Returns the packed prefix and its length.
func packInodeGroup(inodes []*cachedInode, clusterSize uint32) ([]*cachedInode, int) {
	budget := int(clusterSize)
	n := 0
	for n < len(inodes) {
		need := inodeRecordSize + len(inodes[n].data)
		if need > budget {
			break
		}
		budget -= need
		n++
	}
	return inodes[:n], n
}

// writeInodeGroup marshals inodes back-to-back into a ClusterSize buffer
// (zero-padding any unused tail) and writes it to cluster cl.
func (fs *FileSystem) writeInodeGroup(inodes []*cachedInode, cl uint32) error {
	buf := make([]byte, fs.sb.ClusterSize)
	off := 0
	for _, ci := range inodes {
		hdr, err := ci.rec.MarshalBinary()
		if err != nil {
			return err
		}
		if off+len(hdr)+len(ci.data) > len(buf) {
			return ErrTooLarge
		}
		copy(buf[off:], hdr)
		off += len(hdr)
		copy(buf[off:], ci.data)
		off += len(ci.data)
	}
	_, err := fs.backend.WriteAt(buf, int64(cl)*int64(fs.sb.ClusterSize))
	return err
}

// readInodeGroup reads cluster cl and decodes every inode record packed
// into it, stopping at the first all-zero header (an unused inode
// number, which packInodeGroup never produces for a live record).
func (fs *FileSystem) readInodeGroup(cl uint32) ([]*cachedInode, error) {
	buf := make([]byte, fs.sb.ClusterSize)
	if _, err := fs.backend.ReadAt(buf, int64(cl)*int64(fs.sb.ClusterSize)); err != nil {
		return nil, err
	}

	var out []*cachedInode
	off := 0
	for off+inodeRecordSize <= len(buf) {
		var rec InodeRecord
		if err := rec.UnmarshalBinary(buf[off:]); err != nil {
			return nil, err
		}
		if rec.No == InvalidInoNo {
			break
		}
		off += inodeRecordSize
		tailLen := fs.tailLength(&rec)
		if off+tailLen > len(buf) {
			return nil, ErrIO
		}
		data := make([]byte, tailLen)
		copy(data, buf[off:off+tailLen])
		off += tailLen
		out = append(out, &cachedInode{rec: rec, data: data})
	}
	return out, nil
}

// tailLength computes how many trailing bytes rec's tier implies.
func (fs *FileSystem) tailLength(rec *InodeRecord) int {
	switch rec.tier() {
	case tierEmbedded:
		return int(rec.Size)
	case tierClusterIndirect:
		return int(divCeil(rec.Size, uint64(fs.sb.ClusterSize))) * 4
	case tierEraseblockIndirect:
		return int(divCeil(rec.Size, uint64(fs.sb.EraseSize))) * 4
	default:
		return 0
	}
}

// readInode locates ino via the inode map, loading its owning cluster
// (and decoding every sibling inode packed alongside it, caching them
// all) if it isn't already resident.
func (fs *FileSystem) readInode(ino uint32) (*cachedInode, error) {
	if ci := fs.cacheGet(ino); ci != nil {
		return ci, nil
	}
	if fs.imap.isFree(ino) || fs.imap.isReserved(ino) {
		return nil, ErrNotFound
	}
	cl := fs.imap.clusterID(ino)
	group, err := fs.readInodeGroup(cl)
	if err != nil {
		return nil, err
	}
	var found *cachedInode
	for _, ci := range group {
		fs.cacheInsert(ci)
		if ci.rec.No == ino {
			found = ci
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}
