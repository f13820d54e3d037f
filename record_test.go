package ffsp

import "testing"

func TestSuperblockRoundtrip(t *testing.T) {
	sb := Superblock{
		FSID:          FSID,
		NEraseBlocks:  100,
		NIno:          256,
		BlockSize:     4096,
		ClusterSize:   4096,
		EraseSize:     1 << 20,
		NInoOpen:      8,
		NEraseOpen:    5,
		NEraseReserve: 3,
		NEraseWrites:  5,
	}
	buf, err := sb.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %s", err)
	}
	if len(buf) != superblockSize {
		t.Fatalf("expected %d bytes, got %d", superblockSize, len(buf))
	}

	var got Superblock
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %s", err)
	}
	if got != sb {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", got, sb)
	}
}

func TestSuperblockRejectsBadMagic(t *testing.T) {
	var sb Superblock
	buf, _ := sb.MarshalBinary() // FSID is zero, not FSID
	var got Superblock
	if err := got.UnmarshalBinary(buf); err != ErrInvalidSuper {
		t.Errorf("expected ErrInvalidSuper, got %v", err)
	}
}

func TestEraseblockEntryRoundtrip(t *testing.T) {
	e := EraseblockEntry{Type: ebFileClin, LastWrite: 3, CValid: 7, WriteOps: 42}
	buf, err := e.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %s", err)
	}
	if len(buf) != eraseblockEntrySize {
		t.Fatalf("expected %d bytes, got %d", eraseblockEntrySize, len(buf))
	}
	var got EraseblockEntry
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %s", err)
	}
	if got != e {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", got, e)
	}
}

func TestInodeRecordRoundtrip(t *testing.T) {
	var rec InodeRecord
	rec.Size = 12345
	rec.No = 7
	rec.Nlink = 2
	rec.Uid = 1000
	rec.Gid = 1000
	rec.Mode = uint32(S_IFREG) | 0644
	rec.setTier(tierClusterIndirect)
	rec.Ctime = timespec{Sec: 111, Nsec: 222}

	buf, err := rec.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %s", err)
	}
	if len(buf) != inodeRecordSize {
		t.Fatalf("expected %d bytes, got %d", inodeRecordSize, len(buf))
	}

	var got InodeRecord
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %s", err)
	}
	if got != rec {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", got, rec)
	}
	if got.tier() != tierClusterIndirect {
		t.Errorf("tier() = %v, want %v", got.tier(), tierClusterIndirect)
	}
}

func TestDirEntryRoundtrip(t *testing.T) {
	var e DirEntry
	e.Ino = 9
	e.setName("hello.txt")

	buf, err := e.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %s", err)
	}
	if len(buf) != dirEntrySize {
		t.Fatalf("expected %d bytes, got %d", dirEntrySize, len(buf))
	}

	var got DirEntry
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %s", err)
	}
	if !got.valid() || got.name() != "hello.txt" || got.Ino != 9 {
		t.Errorf("roundtrip mismatch: got ino=%d name=%q valid=%v", got.Ino, got.name(), got.valid())
	}
}

func TestDirEntryTombstone(t *testing.T) {
	var e DirEntry
	if e.valid() {
		t.Error("zero-value DirEntry should not be valid")
	}
}

func TestEraseblockTypeString(t *testing.T) {
	cases := map[EraseblockType]string{
		ebSuper:       "super",
		ebDentryInode: "dentry_inode",
		ebDentryClin:  "dentry_clin",
		ebFileInode:   "file_inode",
		ebFileClin:    "file_clin",
		ebEBIN:        "ebin",
		ebEmpty:       "empty",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("EraseblockType(%d).String() = %q, want %q", typ, got, want)
		}
	}
}

func TestRequiresSummary(t *testing.T) {
	want := map[EraseblockType]bool{
		ebSuper:       false,
		ebDentryInode: false,
		ebDentryClin:  true,
		ebFileInode:   false,
		ebFileClin:    true,
		ebEBIN:        true,
		ebEmpty:       false,
	}
	for typ, want := range want {
		if got := typ.requiresSummary(); got != want {
			t.Errorf("%v.requiresSummary() = %v, want %v", typ, got, want)
		}
	}
}

func TestDivCeil(t *testing.T) {
	cases := []struct{ a, b, want uint64 }{
		{0, 4, 0},
		{1, 4, 1},
		{4, 4, 1},
		{5, 4, 2},
		{8, 4, 2},
	}
	for _, c := range cases {
		if got := divCeil(c.a, c.b); got != c.want {
			t.Errorf("divCeil(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
