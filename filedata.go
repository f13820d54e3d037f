package ffsp

// Three-tier file data encoding (spec.md §4.4). An inode's data lives in
// exactly one of:
//
//   - tierEmbedded: the raw bytes sit directly in the inode's tail.
//   - tierClusterIndirect (clin): the tail is an array of cluster ids,
//     one per ClusterSize-sized chunk of the file.
//   - tierEraseblockIndirect (ebin): the tail is an array of erase block
//     ids, one per EraseSize-sized chunk; each such chunk is written as
//     consecutive clusters filling one whole erase block.
//
// Growth only ever promotes a file to a larger tier (emb -> clin -> ebin).
// Shrinking below max_emb demotes straight back to tierEmbedded from
// whatever indirect tier the file was in, invalidating every pointer the
// indirect tier held; shrinking within clin or ebin just trims the tail
// of unused pointers. This matches original_source's io.cpp: trunc_clin
// and trunc_ebin both dispatch to trunc_ind2emb when the new size fits
// in the embedded store, and to trunc_ind (tail trim only) otherwise —
// neither ever demotes ebin straight to clin.

func (fs *FileSystem) maxEmb() uint64 {
	return uint64(fs.sb.ClusterSize) - inodeRecordSize
}

func (fs *FileSystem) maxClin() uint64 {
	nptrs := fs.maxEmb() / 4
	return nptrs * uint64(fs.sb.ClusterSize)
}

func (fs *FileSystem) maxEbin() uint64 {
	nptrs := fs.maxEmb() / 4
	return nptrs * uint64(fs.sb.EraseSize)
}

// initDirData sets up ino's embedded tail as a fresh, empty directory:
// a "." entry pointing at ino and a ".." entry pointing at parent.
func initDirData(ci *cachedInode, ino, parent uint32) {
	var dot, dotdot DirEntry
	dot.Ino = ino
	dot.setName(".")
	dotdot.Ino = parent
	dotdot.setName("..")

	db, _ := dot.MarshalBinary()
	ddb, _ := dotdot.MarshalBinary()
	ci.data = append(append([]byte{}, db...), ddb...)
	ci.rec.Size = uint64(len(ci.data))
}

// readAt copies up to len(p) bytes starting at off into p, returning the
// number of bytes actually copied (short of len(p) at EOF, never an
// error for reads that start at or past the end of file).
func (fs *FileSystem) readAt(ci *cachedInode, p []byte, off uint64) (int, error) {
	if off >= ci.rec.Size {
		return 0, nil
	}
	want := uint64(len(p))
	if off+want > ci.rec.Size {
		want = ci.rec.Size - off
	}
	switch ci.rec.tier() {
	case tierEmbedded:
		n := copy(p[:want], ci.data[off:off+want])
		return n, nil
	case tierClusterIndirect:
		return fs.readIndirect(ci, p[:want], off, uint64(fs.sb.ClusterSize))
	case tierEraseblockIndirect:
		return fs.readIndirect(ci, p[:want], off, uint64(fs.sb.EraseSize))
	default:
		return 0, ErrIO
	}
}

// readIndirect satisfies a read against a clin/ebin-tier file, where
// chunkSize is ClusterSize or EraseSize respectively and each indirect
// pointer names the first cluster of that chunk.
func (fs *FileSystem) readIndirect(ci *cachedInode, p []byte, off, chunkSize uint64) (int, error) {
	total := 0
	for total < len(p) {
		chunk := (off + uint64(total)) / chunkSize
		chunkOff := (off + uint64(total)) % chunkSize
		n := len(p) - total
		if uint64(n) > chunkSize-chunkOff {
			n = int(chunkSize - chunkOff)
		}
		if int(chunk) >= ci.indirectCount() || ci.indirectAt(int(chunk)) == freeClusterID {
			// hole: no chunk allocated, reads back as zeroes
			clear(p[total : total+n])
			total += n
			continue
		}
		ptr := ci.indirectAt(int(chunk))
		buf := make([]byte, n)
		var readOff int64
		if chunkSize == uint64(fs.sb.ClusterSize) {
			readOff = int64(ptr)*int64(fs.sb.ClusterSize) + int64(chunkOff)
		} else {
			readOff = int64(ptr)*int64(fs.sb.EraseSize) + int64(chunkOff)
		}
		if _, err := fs.backend.ReadAt(buf, readOff); err != nil {
			return total, err
		}
		copy(p[total:], buf)
		total += n
	}
	return total, nil
}

// writeAt writes p at offset off, growing ci's size and promoting its
// tier as needed, and returns the number of bytes written.
func (fs *FileSystem) writeAt(ci *cachedInode, p []byte, off uint64) (int, error) {
	end := off + uint64(len(p))
	if err := fs.ensureTierFor(ci, end); err != nil {
		return 0, err
	}
	if end > ci.rec.Size {
		ci.rec.Size = end
	}

	switch ci.rec.tier() {
	case tierEmbedded:
		if uint64(len(ci.data)) < end {
			grown := make([]byte, end)
			copy(grown, ci.data)
			ci.data = grown
		}
		copy(ci.data[off:end], p)
	case tierClusterIndirect:
		if err := fs.writeIndirect(ci, p, off, uint64(fs.sb.ClusterSize), ebFileClin); err != nil {
			return 0, err
		}
	case tierEraseblockIndirect:
		if err := fs.writeIndirect(ci, p, off, uint64(fs.sb.EraseSize), ebEBIN); err != nil {
			return 0, err
		}
	default:
		return 0, ErrIO
	}
	fs.markDirty(ci.rec.No)
	return len(p), nil
}

// writeIndirect satisfies a write against a clin/ebin-tier file,
// allocating a fresh chunk (cluster or erase block) the first time a
// given chunk index is touched, and always writing out-of-place: an
// already-allocated chunk is never overwritten in place, a new one is
// allocated and the pointer updated, matching spec.md §4.1. Whenever that
// leaves a previously-allocated chunk superseded, its contribution to the
// owning erase block's e_cvalid is invalidated (eb_dec_cvalid for a clin
// cluster, a full reset to empty for an ebin block), matching
// original_source's io.cpp write_clin.
func (fs *FileSystem) writeIndirect(ci *cachedInode, p []byte, off, chunkSize uint64, ebType EraseblockType) error {
	total := 0
	for total < len(p) {
		chunk := (off + uint64(total)) / chunkSize
		chunkOff := (off + uint64(total)) % chunkSize
		n := len(p) - total
		if uint64(n) > chunkSize-chunkOff {
			n = int(chunkSize - chunkOff)
		}

		for ci.indirectCount() <= int(chunk) {
			ci.appendIndirect(freeClusterID)
		}
		old := ci.indirectAt(int(chunk))

		full := chunkOff == 0 && uint64(n) == chunkSize
		var buf []byte
		if full {
			buf = p[total : total+n]
		} else {
			buf = make([]byte, chunkSize)
			if old != freeClusterID {
				var off0 int64
				if chunkSize == uint64(fs.sb.ClusterSize) {
					off0 = int64(old) * int64(fs.sb.ClusterSize)
				} else {
					off0 = int64(old) * int64(fs.sb.EraseSize)
				}
				fs.backend.ReadAt(buf, off0)
			}
			copy(buf[chunkOff:], p[total:total+n])
		}

		ptr, err := fs.allocChunk(ebType, ci.rec.No)
		if err != nil {
			return err
		}
		var writeOff int64
		if chunkSize == uint64(fs.sb.ClusterSize) {
			writeOff = int64(ptr) * int64(fs.sb.ClusterSize)
		} else {
			writeOff = int64(ptr) * int64(fs.sb.EraseSize)
		}
		if _, err := fs.backend.WriteAt(buf, writeOff); err != nil {
			return err
		}
		ci.setIndirectAt(int(chunk), ptr)
		if old != freeClusterID {
			if chunkSize == uint64(fs.sb.ClusterSize) {
				fs.decCValid(old)
			} else {
				fs.eb[old] = EraseblockEntry{Type: ebEmpty}
			}
		}
		total += n
	}
	return nil
}

// allocChunk reserves one chunk of data for owner: a single cluster for
// ebFileClin/ebDentryClin, or an entire erase block's worth of clusters
// for ebEBIN. It records the owner in the type's summary and commits
// the write-op bookkeeping for every cluster it touches.
func (fs *FileSystem) allocChunk(ebType EraseblockType, owner uint32) (uint32, error) {
	if ebType != ebEBIN {
		cl, err := fs.findWritableCluster(ebType)
		if err != nil {
			return 0, err
		}
		perEB := fs.clustersPerEraseblock()
		slot := cl % perEB
		fs.summaries[ebType].recordOwner(slot, owner)
		if err := fs.commitWriteOperation(cl); err != nil {
			return 0, err
		}
		return cl, nil
	}

	ebID, free, ok := fs.pickEmptyEraseblock()
	if !ok || free-1 < fs.sb.NEraseReserve {
		if err := fs.gc(); err != nil {
			return 0, err
		}
		ebID, free, ok = fs.pickEmptyEraseblock()
		if !ok || free-1 < fs.sb.NEraseReserve {
			return 0, ErrNoSpace
		}
	}
	perEB := fs.clustersPerEraseblock()
	fs.eb[ebID] = EraseblockEntry{Type: ebEBIN, CValid: uint16(perEB - 1), WriteOps: uint16(perEB - 1)}
	sb := newSummaryBuffer(ebID, perEB-1)
	for i := range sb.owner {
		sb.recordOwner(uint32(i), owner)
	}
	buf := sb.marshal(fs.sb.ClusterSize)
	off := int64(fs.summaryClusterOf(ebID)) * int64(fs.sb.ClusterSize)
	if _, err := fs.backend.WriteAt(buf, off); err != nil {
		return 0, err
	}
	return ebID, nil
}

// ensureTierFor promotes ci's tier if the projected size no longer fits
// the current one, rewriting its existing bytes into the new
// representation.
func (fs *FileSystem) ensureTierFor(ci *cachedInode, size uint64) error {
	if size > fs.maxEbin() {
		return ErrTooLarge
	}
	tier := ci.rec.tier()
	if tier == 0 {
		tier = tierEmbedded
		ci.rec.setTier(tier)
	}
	if tier == tierEmbedded && size > fs.maxEmb() {
		if err := fs.promoteToClin(ci); err != nil {
			return err
		}
		tier = tierClusterIndirect
	}
	if tier == tierClusterIndirect && size > fs.maxClin() {
		if err := fs.promoteToEbin(ci); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileSystem) promoteToClin(ci *cachedInode) error {
	old := ci.data
	ci.data = nil
	ci.rec.setTier(tierClusterIndirect)
	if len(old) == 0 {
		return nil
	}
	_, err := fs.writeAtRaw(ci, old, 0)
	return err
}

func (fs *FileSystem) promoteToEbin(ci *cachedInode) error {
	size := ci.rec.Size
	old := make([]byte, size)
	if _, err := fs.readAt(ci, old, 0); err != nil {
		return err
	}
	fs.freeIndirectRange(tierClusterIndirect, ci.data)
	ci.data = nil
	ci.rec.setTier(tierEraseblockIndirect)
	_, err := fs.writeAtRaw(ci, old, 0)
	return err
}

// writeAtRaw writes without re-checking the tier, used internally by
// the promotion helpers once the tier has already been fixed.
func (fs *FileSystem) writeAtRaw(ci *cachedInode, p []byte, off uint64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	switch ci.rec.tier() {
	case tierClusterIndirect:
		return len(p), fs.writeIndirect(ci, p, off, uint64(fs.sb.ClusterSize), ebFileClin)
	case tierEraseblockIndirect:
		return len(p), fs.writeIndirect(ci, p, off, uint64(fs.sb.EraseSize), ebEBIN)
	default:
		return 0, ErrIO
	}
}

// freeIndirectRange invalidates every non-hole pointer in ptrs (a
// big-endian uint32 array), which belonged to a file of tier t: a clin
// pointer names a cluster, so only that cluster's owning erase block
// loses one from e_cvalid; an ebin pointer names an entire erase block
// dedicated to a single owner, so the whole block resets to empty.
// Mirrors original_source's inode.cpp invalidate_ind_ptr.
func (fs *FileSystem) freeIndirectRange(t dataTier, ptrs []byte) {
	for i := 0; i+4 <= len(ptrs); i += 4 {
		ptr := be32(ptrs[i:])
		if ptr == freeClusterID {
			continue
		}
		if t == tierEraseblockIndirect {
			fs.eb[ptr] = EraseblockEntry{Type: ebEmpty}
		} else {
			fs.decCValid(ptr)
		}
	}
}

// demoteToEmb converts ci from clin or ebin back down to the embedded
// tier, reading back the surviving newSize bytes through the current
// tier before invalidating every indirect pointer it held. Mirrors
// original_source's io.cpp trunc_ind2emb.
func (fs *FileSystem) demoteToEmb(ci *cachedInode, newSize uint64) error {
	kept := make([]byte, newSize)
	if newSize > 0 {
		if _, err := fs.readAt(ci, kept, 0); err != nil {
			return err
		}
	}
	fs.freeIndirectRange(ci.rec.tier(), ci.data)
	ci.data = kept
	ci.rec.setTier(tierEmbedded)
	ci.rec.Size = newSize
	fs.markDirty(ci.rec.No)
	return nil
}

// truncate changes ci's size to newSize. Growing within the embedded
// tier zero-fills; growing across tiers goes through ensureTierFor.
// Shrinking below max_emb demotes straight back to the embedded tier
// regardless of the current one (original_source's trunc_clin and
// trunc_ebin both collapse to trunc_ind2emb in that case); shrinking
// within the current indirect tier just trims the tail of unused
// pointers, invalidating each one's contribution to its owning erase
// block's e_cvalid as it goes (spec.md §4.3).
func (fs *FileSystem) truncate(ci *cachedInode, newSize uint64) error {
	if newSize == ci.rec.Size {
		return nil
	}
	if newSize > ci.rec.Size {
		if err := fs.ensureTierFor(ci, newSize); err != nil {
			return err
		}
		if ci.rec.tier() == tierEmbedded {
			grown := make([]byte, newSize)
			copy(grown, ci.data)
			ci.data = grown
		}
		ci.rec.Size = newSize
		fs.markDirty(ci.rec.No)
		return nil
	}

	tier := ci.rec.tier()
	if tier != tierEmbedded && newSize <= fs.maxEmb() {
		return fs.demoteToEmb(ci, newSize)
	}

	switch tier {
	case tierEmbedded:
		ci.data = ci.data[:newSize]
	case tierClusterIndirect:
		keep := divCeil(newSize, uint64(fs.sb.ClusterSize))
		fs.freeIndirectRange(tier, ci.data[keep*4:])
		ci.data = ci.data[:keep*4]
	case tierEraseblockIndirect:
		keep := divCeil(newSize, uint64(fs.sb.EraseSize))
		fs.freeIndirectRange(tier, ci.data[keep*4:])
		ci.data = ci.data[:keep*4]
	}
	ci.rec.Size = newSize
	fs.markDirty(ci.rec.No)
	return nil
}
