package ffsp

// summaryBuffer is the resident summary for the one erase block of a
// given cluster-indirect type (dentry_clin, file_clin) that is
// currently open for writing. It records, per cluster slot within that
// erase block, which inode owns the data just written there, so the
// garbage collector can find an owner without scanning every inode
// (spec.md §7, and the REDESIGN FLAGS note replacing the original's
// linked list of summary entries with a flat array keyed by slot).
//
// Only one erase block per type may be open at a time (spec.md §4.3),
// so the summary cache is a fixed-key map: one summaryBuffer per
// cluster-indirect EraseblockType. An ebin erase block's summary is
// built and written in one go by allocChunk and is never held here.
type summaryBuffer struct {
	ebID  uint32
	owner []uint32 // indexed by cluster offset within ebID; 0 = unwritten
}

// summarySlots is how many cluster slots an erase block has available
// for data once its trailing summary cluster is reserved.
func (fs *FileSystem) summarySlots() uint32 {
	return fs.sb.EraseSize/fs.sb.ClusterSize - 1
}

func newSummaryBuffer(ebID uint32, slots uint32) *summaryBuffer {
	return &summaryBuffer{ebID: ebID, owner: make([]uint32, slots)}
}

// recordOwner notes that the cluster at offset slot within sb.ebID now
// holds data belonging to ino.
func (sb *summaryBuffer) recordOwner(slot uint32, ino uint32) {
	sb.owner[slot] = ino
}

// marshal encodes the summary as a big-endian uint32 array, padded with
// zeroes to fill a full cluster.
func (sb *summaryBuffer) marshal(clusterSize uint32) []byte {
	buf := make([]byte, clusterSize)
	for i, ino := range sb.owner {
		putBE32(buf[i*4:], ino)
	}
	return buf
}

// summaryClusterOf returns the cluster id of ebID's trailing summary
// cluster (the last cluster slot in the erase block).
func (fs *FileSystem) summaryClusterOf(ebID uint32) uint32 {
	perEB := fs.sb.EraseSize / fs.sb.ClusterSize
	return ebID*perEB + (perEB - 1)
}

// readSummary loads and decodes the summary cluster for ebID, for use
// by the garbage collector against erase blocks that aren't currently
// open (and so have no resident summaryBuffer).
func (fs *FileSystem) readSummary(ebID uint32) ([]uint32, error) {
	buf := make([]byte, fs.sb.ClusterSize)
	off := int64(fs.summaryClusterOf(ebID)) * int64(fs.sb.ClusterSize)
	if _, err := fs.backend.ReadAt(buf, off); err != nil {
		return nil, err
	}
	owner := make([]uint32, fs.summarySlots())
	for i := range owner {
		owner[i] = be32(buf[i*4:])
	}
	return owner, nil
}

// ownerOf looks up which inode owns the cluster at slot offset within
// ebID, consulting the resident summaryBuffer if that block is still
// open, or reading its summary cluster back from the medium otherwise.
func (fs *FileSystem) ownerOf(ebType EraseblockType, ebID uint32, slot uint32) (uint32, error) {
	if sb, ok := fs.summaries[ebType]; ok && sb.ebID == ebID {
		return sb.owner[slot], nil
	}
	owner, err := fs.readSummary(ebID)
	if err != nil {
		return 0, err
	}
	if int(slot) >= len(owner) {
		return 0, ErrIO
	}
	return owner[slot], nil
}
