package ffsp

// MkfsOption configures a formatting run started by Mkfs. Unset knobs
// fall back to defaultMkfsConfig's values, matching the reference mkfs
// CLI's defaults.
type MkfsOption func(*mkfsConfig)

// WithClusterSize sets the cluster (smallest addressable write unit) size
// in bytes. Must evenly divide the erase block size.
func WithClusterSize(n uint32) MkfsOption {
	return func(c *mkfsConfig) { c.clusterSize = n }
}

// WithEraseSize sets the erase block size in bytes.
func WithEraseSize(n uint32) MkfsOption {
	return func(c *mkfsConfig) { c.eraseSize = n }
}

// WithInoOpen sets ninoopen, the dirty-inode soft cap: while fewer than n
// inodes are dirty, operations leave them cached instead of flushing
// them to the medium.
func WithInoOpen(n uint32) MkfsOption {
	return func(c *mkfsConfig) { c.nInoOpen = n }
}

// WithEraseOpen sets neraseopen, which is recorded in the superblock. The
// allocator does not read it: it keeps one open erase block per erase
// block type whatever the value.
func WithEraseOpen(n uint32) MkfsOption {
	return func(c *mkfsConfig) { c.nEraseOpen = n }
}

// WithEraseReserve sets how many erase blocks are held back from the
// free pool as a GC working margin.
func WithEraseReserve(n uint32) MkfsOption {
	return func(c *mkfsConfig) { c.nEraseReserve = n }
}

// WithEraseWrites sets nerasewrites: once that many erase blocks of one
// type have filled up since that type's counter was last reset, the
// garbage collector runs.
func WithEraseWrites(n uint32) MkfsOption {
	return func(c *mkfsConfig) { c.nEraseWrites = n }
}

// mountConfig bundles Mount's tunables. Layout parameters come from the
// superblock fixed at mkfs time; the only runtime-selectable behavior is
// read-only mode.
type mountConfig struct {
	readOnly bool
}

// MountOption configures a Mount call.
type MountOption func(*mountConfig)

// WithReadOnly opens the volume without ever issuing a write; any
// operation that would mutate the medium returns ErrPermission.
func WithReadOnly() MountOption {
	return func(c *mountConfig) { c.readOnly = true }
}
