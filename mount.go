package ffsp

import (
	"log"
	"sync"
	"time"
)

// FileSystem is a mounted ffsp volume: the single mount-level lock plus
// every in-memory subsystem that maintains the on-medium layout (inode
// map, inode cache, erase-block array, summary cache, GC counters). Every
// host operation in ops.go executes to completion under mu, per spec.md
// §5 ("single-writer, synchronous").
type FileSystem struct {
	mu sync.Mutex

	backend Backend
	sb      Superblock

	eb   []EraseblockEntry
	imap *inodeMap

	cache      []*cachedInode
	dirty      *bitset
	dirtyCount int

	summaries map[EraseblockType]*summaryBuffer

	openEB   map[EraseblockType]uint32 // erase block currently open for writing, per type
	openNext map[EraseblockType]uint32 // next free cluster slot (offset) within that erase block

	gcWriteTime map[EraseblockType]uint32
	gcWriteCnt  map[EraseblockType]uint32

	scratch []byte

	handles    map[uint64]*fileHandle
	nextHandle uint64

	readOnly  bool
	gcRunning bool
	closed    bool
}

// fileHandle is the per-open-file state the host binding keeps between
// open() and release(). ffsp itself has no separate "file descriptor"
// object on the medium: a handle is just a pin on an inode number.
type fileHandle struct {
	ino uint32
}

func (fs *FileSystem) maxWriteops() uint32 {
	return fs.sb.EraseSize / fs.sb.ClusterSize
}

func (fs *FileSystem) clustersTotal() uint64 {
	return uint64(fs.sb.NEraseBlocks) * uint64(fs.sb.EraseSize) / uint64(fs.sb.ClusterSize)
}

// mkfsConfig bundles mkfs's tunables (spec.md §6 "mkfs options"). Use
// the With* functional options to override the reference CLI's defaults.
type mkfsConfig struct {
	clusterSize   uint32
	eraseSize     uint32
	nEraseBlocks  uint32
	nInoOpen      uint32
	nEraseOpen    uint32
	nEraseReserve uint32
	nEraseWrites  uint32
}

func defaultMkfsConfig() mkfsConfig {
	return mkfsConfig{
		clusterSize:   32 * 1024,
		eraseSize:     4 * 1024 * 1024,
		nInoOpen:      128,
		nEraseOpen:    5,
		nEraseReserve: 3,
		nEraseWrites:  5,
	}
}

// Mkfs formats backend (which must already be sized to the desired
// medium size) with the on-medium layout described in spec.md §6: a
// superblock, an erase-block array, and an inode map packed into erase
// block 0, and a root directory inode written into erase block 1.
func Mkfs(backend Backend, nino uint32, opts ...MkfsOption) error {
	cfg := defaultMkfsConfig()
	size := backend.Size()
	if size <= 0 {
		return ErrInvalidArgument
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.clusterSize == 0 || cfg.eraseSize == 0 || cfg.eraseSize%cfg.clusterSize != 0 {
		return ErrInvalidArgument
	}
	cfg.nEraseBlocks = uint32(uint64(size) / uint64(cfg.eraseSize))
	if cfg.nEraseBlocks < 2 {
		return ErrInvalidArgument
	}
	if nino == 0 {
		nino = cfg.nInoOpen * 8
	}

	sb := Superblock{
		FSID:          FSID,
		NEraseBlocks:  cfg.nEraseBlocks,
		NIno:          nino,
		BlockSize:     cfg.clusterSize,
		ClusterSize:   cfg.clusterSize,
		EraseSize:     cfg.eraseSize,
		NInoOpen:      cfg.nInoOpen,
		NEraseOpen:    cfg.nEraseOpen,
		NEraseReserve: cfg.nEraseReserve,
		NEraseWrites:  cfg.nEraseWrites,
	}

	// Inode map must fit in the tail of erase block 0, after the erase
	// block array that starts at offset ClusterSize.
	ebArraySize := uint64(sb.NEraseBlocks) * eraseblockEntrySize
	inoMapSize := uint64(sb.NIno) * 4
	if uint64(sb.ClusterSize)+ebArraySize+inoMapSize > uint64(sb.EraseSize) {
		return ErrInvalidArgument
	}

	fs := &FileSystem{
		backend:     backend,
		sb:          sb,
		eb:          make([]EraseblockEntry, sb.NEraseBlocks),
		imap:        newInodeMap(sb.NIno, uint64(sb.NEraseBlocks)*uint64(sb.EraseSize)/uint64(sb.ClusterSize)),
		cache:       make([]*cachedInode, sb.NIno),
		dirty:       newBitset(sb.NIno),
		summaries:   make(map[EraseblockType]*summaryBuffer),
		openEB:      make(map[EraseblockType]uint32),
		openNext:    make(map[EraseblockType]uint32),
		gcWriteTime: make(map[EraseblockType]uint32),
		gcWriteCnt:  make(map[EraseblockType]uint32),
		scratch:     make([]byte, sb.EraseSize),
		handles:     make(map[uint64]*fileHandle),
	}

	// Erase block 0 is reserved for superblock / eb array / inode map.
	fs.eb[0] = EraseblockEntry{Type: ebSuper, WriteOps: uint16(fs.maxWriteops())}
	for eb := uint32(1); eb < sb.NEraseBlocks; eb++ {
		fs.eb[eb] = EraseblockEntry{Type: ebEmpty}
	}

	// Root directory: inode 1, written into erase block 1 at its first cluster.
	root := newCachedInode(RootIno)
	root.rec.Mode = uint32(S_IFDIR) | 0755
	root.rec.Nlink = 2
	now := time.Now()
	setTimespec(&root.rec.Ctime, now)
	setTimespec(&root.rec.Mtime, now)
	setTimespec(&root.rec.Atime, now)
	root.rec.setTier(tierEmbedded)
	initDirData(root, RootIno, RootIno)

	fs.eb[1] = EraseblockEntry{Type: ebDentryInode, WriteOps: 1, CValid: 1, LastWrite: 1}
	fs.imap.setCluster(RootIno, firstClusterOf(1, sb.EraseSize, sb.ClusterSize))
	if err := fs.writeInodeGroup([]*cachedInode{root}, fs.imap.clusterID(RootIno)); err != nil {
		return err
	}

	head, err := sb.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := fs.backend.WriteAt(head, 0); err != nil {
		return err
	}
	if err := fs.writeMetadata(); err != nil {
		return err
	}
	return fs.backend.Sync()
}

func firstClusterOf(ebID uint32, eraseSize, clusterSize uint32) uint32 {
	return ebID * (eraseSize / clusterSize)
}

// Mount reads the superblock, erase-block array, and inode map back from
// backend and reconstructs the in-memory state a running volume needs.
// The root directory inode is not eagerly loaded; the path resolver
// fetches it lazily like any other inode.
func Mount(backend Backend, opts ...MountOption) (*FileSystem, error) {
	cfg := mountConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	var sb Superblock
	head := make([]byte, superblockSize)
	if _, err := backend.ReadAt(head, 0); err != nil {
		return nil, err
	}
	if err := sb.UnmarshalBinary(head); err != nil {
		return nil, err
	}
	log.Printf("ffsp: mounting volume, %d erase blocks of %d bytes, %d inodes", sb.NEraseBlocks, sb.EraseSize, sb.NIno)

	fs := &FileSystem{
		backend:     backend,
		sb:          sb,
		eb:          make([]EraseblockEntry, sb.NEraseBlocks),
		cache:       make([]*cachedInode, sb.NIno),
		dirty:       newBitset(sb.NIno),
		summaries:   make(map[EraseblockType]*summaryBuffer),
		openEB:      make(map[EraseblockType]uint32),
		openNext:    make(map[EraseblockType]uint32),
		gcWriteTime: make(map[EraseblockType]uint32),
		gcWriteCnt:  make(map[EraseblockType]uint32),
		scratch:     make([]byte, sb.EraseSize),
		handles:     make(map[uint64]*fileHandle),
	}
	fs.imap = newInodeMap(sb.NIno, fs.clustersTotal())
	fs.readOnly = cfg.readOnly

	ebArraySize := uint64(sb.NEraseBlocks) * eraseblockEntrySize
	ebBuf := make([]byte, ebArraySize)
	if _, err := backend.ReadAt(ebBuf, int64(sb.ClusterSize)); err != nil {
		return nil, err
	}
	for i := range fs.eb {
		if err := fs.eb[i].UnmarshalBinary(ebBuf[i*eraseblockEntrySize:]); err != nil {
			return nil, err
		}
	}

	inoMapOff := int64(sb.EraseSize) - int64(sb.NIno)*4
	inoMapBuf := make([]byte, int64(sb.NIno)*4)
	if _, err := backend.ReadAt(inoMapBuf, inoMapOff); err != nil {
		return nil, err
	}
	for i := range fs.imap.clusterOf {
		cl := be32(inoMapBuf[i*4:])
		fs.imap.clusterOf[i] = cl
	}
	// Recompute cluster occupancy from the inode map just read; ffsp does
	// not persist cl_occupancy, only ino_map and e_cvalid, matching
	// original_source's mount.cpp.
	if err := fs.rebuildOccupancy(); err != nil {
		return nil, err
	}

	return fs, nil
}

// rebuildOccupancy re-derives per-cluster live-inode counts from the
// inode map, since only ino_map (not cl_occupancy) is persisted.
func (fs *FileSystem) rebuildOccupancy() error {
	for ino := RootIno; int(ino) < len(fs.imap.clusterOf); ino++ {
		cl := fs.imap.clusterOf[ino]
		if cl == freeClusterID || cl == reservedClusterID {
			continue
		}
		fs.imap.occupancy[cl]++
	}
	return nil
}

// Unmount flushes dirty inodes, closes any still-open erase blocks
// (writing their summaries), writes back the metadata region, and
// releases every scoped resource in reverse order of acquisition
// (spec.md §5).
func (fs *FileSystem) Unmount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil
	}

	if fs.readOnly {
		fs.cache = nil
		fs.summaries = nil
		fs.handles = nil
		fs.closed = true
		return fs.backend.Close()
	}

	fs.gc()

	// gc may have marked inodes dirty relocating them out of its victim
	// block; all=true forces this flush to actually reach the medium
	// regardless of the ninoopen soft cap, since nothing flushes them
	// after this point.
	if err := fs.flushInodes(true); err != nil {
		return err
	}
	fs.closeEraseblocks()
	if err := fs.writeMetadata(); err != nil {
		return err
	}
	if err := fs.backend.Sync(); err != nil {
		return err
	}

	fs.cache = nil
	fs.summaries = nil
	fs.handles = nil
	fs.closed = true
	return fs.backend.Close()
}

// writeMetadata writes the erase-block array followed by the inode map
// as one contiguous I/O starting at cluster 1 (offset ClusterSize) of
// erase block 0 (spec.md §4.2 "Metadata flush"). The inode map ends
// exactly at the end of erase block 0; the gap between the two is
// written as zeroes.
func (fs *FileSystem) writeMetadata() error {
	inoMapSize := int(fs.sb.NIno) * 4
	buf := make([]byte, int(fs.sb.EraseSize-fs.sb.ClusterSize))
	inoMapOff := len(buf) - inoMapSize

	for i := range fs.eb {
		b, err := fs.eb[i].MarshalBinary()
		if err != nil {
			return err
		}
		copy(buf[i*eraseblockEntrySize:], b)
	}
	for i, cl := range fs.imap.clusterOf {
		putBE32(buf[inoMapOff+i*4:], cl)
	}

	_, err := fs.backend.WriteAt(buf, int64(fs.sb.ClusterSize))
	return err
}

func setTimespec(ts *timespec, t time.Time) {
	ts.Sec = t.Unix()
	ts.Nsec = int32(t.Nanosecond())
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
