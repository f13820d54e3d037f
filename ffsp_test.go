package ffsp_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/jagerteam/ffsp"
)

// newTestFS formats and mounts a small in-memory volume: 1024-byte
// clusters, 8192-byte (8-cluster) erase blocks, 512 erase blocks total.
// Small enough that a handful of writes exercises tier promotion and
// garbage collection without a huge backing buffer.
func newTestFS(t *testing.T, nino uint32) *ffsp.FileSystem {
	t.Helper()
	backend := ffsp.NewMemBackend(512 * 8192)
	err := ffsp.Mkfs(backend, nino,
		ffsp.WithClusterSize(1024),
		ffsp.WithEraseSize(8192),
		ffsp.WithEraseOpen(5),
		ffsp.WithEraseReserve(2),
		ffsp.WithEraseWrites(5),
	)
	if err != nil {
		t.Fatalf("Mkfs: %s", err)
	}
	fsys, err := ffsp.Mount(backend)
	if err != nil {
		t.Fatalf("Mount: %s", err)
	}
	t.Cleanup(func() { fsys.Unmount() })
	return fsys
}

func TestMkfsMountRoot(t *testing.T) {
	fsys := newTestFS(t, 64)
	a, err := fsys.GetAttr("/")
	if err != nil {
		t.Fatalf("GetAttr(/): %s", err)
	}
	if a.Ino != ffsp.RootIno {
		t.Errorf("root ino = %d, want %d", a.Ino, ffsp.RootIno)
	}
	if a.Mode&uint32(ffsp.S_IFMT) != uint32(ffsp.S_IFDIR) {
		t.Errorf("root mode = %#o, want a directory", a.Mode)
	}
	if a.Nlink != 2 {
		t.Errorf("root nlink = %d, want 2", a.Nlink)
	}
}

func TestMkdirAndReaddir(t *testing.T) {
	fsys := newTestFS(t, 64)
	dirAttr, err := fsys.Mkdir(ffsp.RootIno, "sub", 0755)
	if err != nil {
		t.Fatalf("Mkdir: %s", err)
	}
	fileAttr, err := fsys.Mknod(ffsp.RootIno, "file.txt", uint32(ffsp.S_IFREG)|0644, 0)
	if err != nil {
		t.Fatalf("Mknod: %s", err)
	}

	entries, err := fsys.ReaddirInfo(ffsp.RootIno)
	if err != nil {
		t.Fatalf("ReaddirInfo: %s", err)
	}
	found := map[string]uint32{}
	for _, e := range entries {
		found[e.Name] = e.Ino
	}
	if found["sub"] != dirAttr.Ino {
		t.Errorf("sub ino = %d, want %d", found["sub"], dirAttr.Ino)
	}
	if found["file.txt"] != fileAttr.Ino {
		t.Errorf("file.txt ino = %d, want %d", found["file.txt"], fileAttr.Ino)
	}

	sub, err := fsys.GetAttrIno(dirAttr.Ino)
	if err != nil || sub.Nlink != 2 {
		t.Errorf("sub attr = %+v, err = %v, want nlink 2", sub, err)
	}
	root, err := fsys.GetAttrIno(ffsp.RootIno)
	if err != nil || root.Nlink != 3 {
		t.Errorf("root nlink after mkdir = %d, want 3", root.Nlink)
	}
}

func TestWriteReadEmbedded(t *testing.T) {
	fsys := newTestFS(t, 64)
	a, err := fsys.Mknod(ffsp.RootIno, "small", uint32(ffsp.S_IFREG)|0644, 0)
	if err != nil {
		t.Fatalf("Mknod: %s", err)
	}

	data := []byte("hello, ffsp")
	n, err := fsys.Write(a.Ino, data, 0)
	if err != nil || n != len(data) {
		t.Fatalf("Write = (%d, %v), want (%d, nil)", n, err, len(data))
	}

	got := make([]byte, len(data))
	n, err = fsys.Read(a.Ino, got, 0)
	if err != nil || n != len(data) {
		t.Fatalf("Read = (%d, %v), want (%d, nil)", n, err, len(data))
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read back %q, want %q", got, data)
	}
}

func TestFileTierPromotion(t *testing.T) {
	fsys := newTestFS(t, 64)
	a, err := fsys.Mknod(ffsp.RootIno, "big", uint32(ffsp.S_IFREG)|0644, 0)
	if err != nil {
		t.Fatalf("Mknod: %s", err)
	}

	// maxEmb for a 1024-byte cluster is 896 bytes; this write forces a
	// promotion to cluster-indirect.
	clinData := bytes.Repeat([]byte{0xAB}, 1000)
	if _, err := fsys.Write(a.Ino, clinData, 0); err != nil {
		t.Fatalf("Write (clin): %s", err)
	}
	got := make([]byte, len(clinData))
	if _, err := fsys.Read(a.Ino, got, 0); err != nil {
		t.Fatalf("Read (clin): %s", err)
	}
	if !bytes.Equal(got, clinData) {
		t.Error("cluster-indirect readback mismatch")
	}

	// maxClin is 224*1024 = 229376 bytes; this write forces a promotion
	// to erase-block-indirect.
	ebinData := bytes.Repeat([]byte{0xCD}, 230000)
	if _, err := fsys.Write(a.Ino, ebinData, 0); err != nil {
		t.Fatalf("Write (ebin): %s", err)
	}
	got = make([]byte, len(ebinData))
	if _, err := fsys.Read(a.Ino, got, 0); err != nil {
		t.Fatalf("Read (ebin): %s", err)
	}
	if !bytes.Equal(got, ebinData) {
		t.Error("erase-block-indirect readback mismatch")
	}
}

// TestTruncateDemotesTier exercises the mandatory shrink-below-max_emb
// scenario: a file promoted to cluster-indirect must convert back down
// to embedded once truncated under max_emb, and must still read and
// grow correctly afterward.
func TestTruncateDemotesTier(t *testing.T) {
	fsys := newTestFS(t, 64)
	a, err := fsys.Mknod(ffsp.RootIno, "shrink", uint32(ffsp.S_IFREG)|0644, 0)
	if err != nil {
		t.Fatalf("Mknod: %s", err)
	}

	// maxEmb for a 1024-byte cluster is 896 bytes; this promotes to clin.
	clinData := bytes.Repeat([]byte{0xAB}, 1000)
	if _, err := fsys.Write(a.Ino, clinData, 0); err != nil {
		t.Fatalf("Write: %s", err)
	}

	if err := fsys.Truncate(a.Ino, 100); err != nil {
		t.Fatalf("Truncate: %s", err)
	}
	attr, err := fsys.GetAttrIno(a.Ino)
	if err != nil {
		t.Fatalf("GetAttrIno: %s", err)
	}
	if attr.Size != 100 {
		t.Fatalf("Size after truncate = %d, want 100", attr.Size)
	}
	got := make([]byte, 100)
	if _, err := fsys.Read(a.Ino, got, 0); err != nil {
		t.Fatalf("Read after truncate: %s", err)
	}
	if !bytes.Equal(got, clinData[:100]) {
		t.Error("truncated readback mismatch")
	}

	// Growing past max_emb again must re-promote cleanly from embedded,
	// confirming the tier really demoted rather than staying clin.
	if _, err := fsys.Write(a.Ino, clinData, 0); err != nil {
		t.Fatalf("Write after demote: %s", err)
	}
	got = make([]byte, len(clinData))
	if _, err := fsys.Read(a.Ino, got, 0); err != nil {
		t.Fatalf("Read after re-promotion: %s", err)
	}
	if !bytes.Equal(got, clinData) {
		t.Error("readback after re-promotion mismatch")
	}
}

func TestRenameOverwritesTarget(t *testing.T) {
	fsys := newTestFS(t, 64)
	src, err := fsys.Mknod(ffsp.RootIno, "src", uint32(ffsp.S_IFREG)|0644, 0)
	if err != nil {
		t.Fatalf("Mknod src: %s", err)
	}
	dst, err := fsys.Mknod(ffsp.RootIno, "dst", uint32(ffsp.S_IFREG)|0644, 0)
	if err != nil {
		t.Fatalf("Mknod dst: %s", err)
	}

	if err := fsys.Rename(ffsp.RootIno, "src", ffsp.RootIno, "dst"); err != nil {
		t.Fatalf("Rename: %s", err)
	}

	if _, err := fsys.GetAttrIno(dst.Ino); err == nil {
		t.Error("overwritten target inode should be freed")
	}
	entries, err := fsys.ReaddirInfo(ffsp.RootIno)
	if err != nil {
		t.Fatalf("ReaddirInfo: %s", err)
	}
	names := map[string]uint32{}
	for _, e := range entries {
		names[e.Name] = e.Ino
	}
	if _, ok := names["src"]; ok {
		t.Error("src should no longer exist after rename")
	}
	if names["dst"] != src.Ino {
		t.Errorf("dst ino = %d, want %d (src's)", names["dst"], src.Ino)
	}
}

func TestRenameDirectoryIntoOwnDescendantRejected(t *testing.T) {
	fsys := newTestFS(t, 64)
	parent, err := fsys.Mkdir(ffsp.RootIno, "parent", 0755)
	if err != nil {
		t.Fatalf("Mkdir parent: %s", err)
	}
	child, err := fsys.Mkdir(parent.Ino, "child", 0755)
	if err != nil {
		t.Fatalf("Mkdir child: %s", err)
	}

	err = fsys.Rename(ffsp.RootIno, "parent", child.Ino, "parent")
	if !errors.Is(err, ffsp.ErrInvalidArgument) {
		t.Errorf("Rename into own descendant = %v, want ErrInvalidArgument", err)
	}
}

func TestUnlinkAndRmdir(t *testing.T) {
	fsys := newTestFS(t, 64)
	file, err := fsys.Mknod(ffsp.RootIno, "f", uint32(ffsp.S_IFREG)|0644, 0)
	if err != nil {
		t.Fatalf("Mknod: %s", err)
	}
	dir, err := fsys.Mkdir(ffsp.RootIno, "d", 0755)
	if err != nil {
		t.Fatalf("Mkdir: %s", err)
	}

	if err := fsys.Rmdir(ffsp.RootIno, "f"); !errors.Is(err, ffsp.ErrNotDir) {
		t.Errorf("Rmdir on a file = %v, want ErrNotDir", err)
	}
	if err := fsys.Unlink(ffsp.RootIno, "d"); !errors.Is(err, ffsp.ErrIsDir) {
		t.Errorf("Unlink on a directory = %v, want ErrIsDir", err)
	}

	if err := fsys.Unlink(ffsp.RootIno, "f"); err != nil {
		t.Fatalf("Unlink: %s", err)
	}
	if _, err := fsys.GetAttrIno(file.Ino); err == nil {
		t.Error("unlinked inode should be gone")
	}
	if err := fsys.Rmdir(ffsp.RootIno, "d"); err != nil {
		t.Fatalf("Rmdir: %s", err)
	}
	if _, err := fsys.GetAttrIno(dir.Ino); err == nil {
		t.Error("rmdir'd inode should be gone")
	}
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	fsys := newTestFS(t, 64)
	dir, err := fsys.Mkdir(ffsp.RootIno, "d", 0755)
	if err != nil {
		t.Fatalf("Mkdir: %s", err)
	}
	if _, err := fsys.Mknod(dir.Ino, "f", uint32(ffsp.S_IFREG)|0644, 0); err != nil {
		t.Fatalf("Mknod: %s", err)
	}
	if err := fsys.Rmdir(ffsp.RootIno, "d"); !errors.Is(err, ffsp.ErrNotEmpty) {
		t.Errorf("Rmdir on non-empty dir = %v, want ErrNotEmpty", err)
	}
}

// TestNoSpaceOnInodeExhaustion checks the boundary where mkfs formats a
// volume with exactly enough inodes for the root plus a fixed number of
// files: the file that would need one more inode fails with ErrNoSpace
// instead of silently wrapping around.
func TestNoSpaceOnInodeExhaustion(t *testing.T) {
	fsys := newTestFS(t, 4) // inode numbers 0 (invalid), 1 (root), 2, 3: only 2 and 3 are allocatable
	var last error
	created := 0
	for i := 0; i < 8; i++ {
		name := string(rune('a' + i))
		if _, err := fsys.Mknod(ffsp.RootIno, name, uint32(ffsp.S_IFREG)|0644, 0); err != nil {
			last = err
			break
		}
		created++
	}
	if !errors.Is(last, ffsp.ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace once inodes are exhausted, got %v after creating %d files", last, created)
	}
}

func TestReadOnlyMountRejectsWrites(t *testing.T) {
	backend := ffsp.NewMemBackend(512 * 8192)
	if err := ffsp.Mkfs(backend, 64, ffsp.WithClusterSize(1024), ffsp.WithEraseSize(8192)); err != nil {
		t.Fatalf("Mkfs: %s", err)
	}
	fsys, err := ffsp.Mount(backend, ffsp.WithReadOnly())
	if err != nil {
		t.Fatalf("Mount: %s", err)
	}
	defer fsys.Unmount()

	if _, err := fsys.Mknod(ffsp.RootIno, "f", uint32(ffsp.S_IFREG)|0644, 0); !errors.Is(err, ffsp.ErrPermission) {
		t.Errorf("Mknod on read-only mount = %v, want ErrPermission", err)
	}
}

func TestStatfs(t *testing.T) {
	fsys := newTestFS(t, 64)
	st := fsys.Statfs()
	if st.ClusterSize != 1024 {
		t.Errorf("ClusterSize = %d, want 1024", st.ClusterSize)
	}
	if st.Inodes != 64 {
		t.Errorf("Inodes = %d, want 64", st.Inodes)
	}
	if st.FreeInodes == 0 || st.FreeInodes >= st.Inodes {
		t.Errorf("FreeInodes = %d, want something between 0 and %d", st.FreeInodes, st.Inodes)
	}
	if st.FreeClusters == 0 || st.FreeClusters >= st.Clusters {
		t.Errorf("FreeClusters = %d, want something between 0 and %d", st.FreeClusters, st.Clusters)
	}

	a, err := fsys.Mknod(ffsp.RootIno, "f", uint32(ffsp.S_IFREG)|0644, 0)
	if err != nil {
		t.Fatalf("Mknod: %s", err)
	}
	before := fsys.Statfs().FreeClusters
	data := bytes.Repeat([]byte{0xEF}, 2000) // promotes to clin, two clusters
	if _, err := fsys.Write(a.Ino, data, 0); err != nil {
		t.Fatalf("Write: %s", err)
	}
	after := fsys.Statfs().FreeClusters
	if after >= before {
		t.Errorf("FreeClusters after write = %d, want less than %d", after, before)
	}

	// Overwriting the same clin chunks again must not leak: each
	// overwrite supersedes the previous cluster, so the free count holds
	// steady instead of shrinking further.
	if _, err := fsys.Write(a.Ino, data, 0); err != nil {
		t.Fatalf("overwrite: %s", err)
	}
	steady := fsys.Statfs().FreeClusters
	if steady != after {
		t.Errorf("FreeClusters after overwrite = %d, want unchanged at %d", steady, after)
	}
}
