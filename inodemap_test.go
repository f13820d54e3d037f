package ffsp

import "testing"

func TestInodeMapFindFree(t *testing.T) {
	m := newInodeMap(8, 16)
	m.setCluster(RootIno, 3)

	ino := m.findFree()
	if ino != RootIno+1 {
		t.Fatalf("findFree() = %d, want %d", ino, RootIno+1)
	}

	m.setCluster(ino, 4)
	next := m.findFree()
	if next != RootIno+2 {
		t.Fatalf("findFree() after allocating = %d, want %d", next, RootIno+2)
	}
}

func TestInodeMapExhausted(t *testing.T) {
	m := newInodeMap(3, 16) // indices 0,1,2; 0 is invalid, 1 is RootIno
	m.setCluster(2, 5)      // the only allocatable inode is taken
	if got := m.findFree(); got != InvalidInoNo {
		t.Errorf("findFree() on exhausted map = %d, want InvalidInoNo", got)
	}
}

func TestInodeMapReleaseCluster(t *testing.T) {
	m := newInodeMap(8, 16)
	m.setCluster(2, 5)
	m.setCluster(3, 5)
	if m.occupancy[5] != 2 {
		t.Fatalf("occupancy[5] = %d, want 2", m.occupancy[5])
	}

	cl, emptied := m.releaseCluster(2)
	if cl != 5 || emptied {
		t.Errorf("releaseCluster(2) = (%d, %v), want (5, false)", cl, emptied)
	}
	cl, emptied = m.releaseCluster(3)
	if cl != 5 || !emptied {
		t.Errorf("releaseCluster(3) = (%d, %v), want (5, true)", cl, emptied)
	}
}

func TestInodeMapFreeAndReservedSentinels(t *testing.T) {
	m := newInodeMap(8, 16)
	if !m.isFree(2) {
		t.Error("fresh inode should be free")
	}
	m.setReserved(2)
	if m.isFree(2) || !m.isReserved(2) {
		t.Error("setReserved should clear isFree and set isReserved")
	}
	m.setFree(2)
	if !m.isFree(2) {
		t.Error("setFree should restore isFree")
	}
}
