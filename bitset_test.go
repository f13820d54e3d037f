package ffsp

import "testing"

func TestBitsetSetClearTest(t *testing.T) {
	b := newBitset(200)
	if b.test(5) {
		t.Error("bit 5 should start clear")
	}
	b.set(5)
	b.set(130)
	if !b.test(5) || !b.test(130) {
		t.Error("set bits should test true")
	}
	if b.test(6) {
		t.Error("untouched bit should test false")
	}
	b.clear(5)
	if b.test(5) {
		t.Error("cleared bit should test false")
	}
}

func TestBitsetPopcount(t *testing.T) {
	b := newBitset(128)
	if b.popcount() != 0 {
		t.Fatalf("fresh bitset popcount = %d, want 0", b.popcount())
	}
	for _, i := range []uint32{0, 1, 63, 64, 127} {
		b.set(i)
	}
	if got := b.popcount(); got != 5 {
		t.Errorf("popcount() = %d, want 5", got)
	}
}

func TestBitsetForEachOrder(t *testing.T) {
	b := newBitset(200)
	want := []uint32{2, 64, 65, 191}
	for _, i := range want {
		b.set(i)
	}
	var got []uint32
	b.forEach(func(ino uint32) { got = append(got, ino) })
	if len(got) != len(want) {
		t.Fatalf("forEach visited %d bits, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("forEach[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
