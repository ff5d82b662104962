package x86core

import "testing"

func TestNewMemoryStoreRoundsUpToPageMultiple(t *testing.T) {
	m := NewMemoryStore(64)
	if got := m.Size(); got != storePageSize {
		t.Errorf("Size = %d, want %d (rounded up to one page)", got, storePageSize)
	}
	m2 := NewMemoryStore(storePageSize + 1)
	if got := m2.Size(); got != 2*storePageSize {
		t.Errorf("Size = %d, want %d", got, 2*storePageSize)
	}
}

func TestMemoryStoreLittleEndianRoundTrip(t *testing.T) {
	m := NewMemoryStore(storePageSize)
	m.Write16(0, 0x1234)
	if got := m.Read8(0); got != 0x34 {
		t.Errorf("low byte = %#x, want 0x34 (little-endian)", got)
	}
	if got := m.Read8(1); got != 0x12 {
		t.Errorf("high byte = %#x, want 0x12", got)
	}
	if got := m.Read16(0); got != 0x1234 {
		t.Errorf("Read16 = %#x, want 0x1234", got)
	}

	m.Write32(0x10, 0xAABBCCDD)
	if got := m.Read8(0x10); got != 0xDD {
		t.Errorf("byte 0 = %#x, want 0xDD", got)
	}
	if got := m.Read8(0x13); got != 0xAA {
		t.Errorf("byte 3 = %#x, want 0xAA", got)
	}
	if got := m.Read32(0x10); got != 0xAABBCCDD {
		t.Errorf("Read32 = %#x, want 0xAABBCCDD", got)
	}

	m.Write64(0x20, 0x0102030405060708)
	if got := m.Read8(0x20); got != 0x08 {
		t.Errorf("byte 0 = %#x, want 0x08", got)
	}
	if got := m.Read8(0x27); got != 0x01 {
		t.Errorf("byte 7 = %#x, want 0x01", got)
	}
	if got := m.Read64(0x20); got != 0x0102030405060708 {
		t.Errorf("Read64 = %#x, want 0x0102030405060708", got)
	}
}

func TestMemoryStoreOutOfRangeReadsReturnZero(t *testing.T) {
	m := NewMemoryStore(storePageSize)
	size := m.Size()
	if got := m.Read8(size); got != 0 {
		t.Errorf("Read8 past end = %#x, want 0", got)
	}
	if got := m.Read32(size); got != 0 {
		t.Errorf("Read32 past end = %#x, want 0", got)
	}
}

func TestMemoryStoreOutOfRangeWritesAreDropped(t *testing.T) {
	m := NewMemoryStore(storePageSize)
	size := m.Size()
	m.Write8(size, 0xFF) // must not panic
	m.Write32(size+4, 0xDEADBEEF)
	if got := m.Read8(size); got != 0 {
		t.Errorf("out-of-range write landed: Read8 = %#x, want 0", got)
	}
}

func TestMemoryStoreUnalignedTailStraddlingEnd(t *testing.T) {
	m := NewMemoryStore(storePageSize)
	size := m.Size()
	// Write32 straddling the last 2 bytes of the store: only the low two
	// bytes are in range, the high two are silently dropped.
	m.Write32(size-2, 0x11223344)
	if got := m.Read8(size - 2); got != 0x44 {
		t.Errorf("byte at size-2 = %#x, want 0x44", got)
	}
	if got := m.Read8(size - 1); got != 0x33 {
		t.Errorf("byte at size-1 = %#x, want 0x33", got)
	}
	// Reading the same straddling range back reports zero for the two
	// bytes that fell outside the store rather than panicking.
	if got, want := m.Read32(size-2), uint32(0x3344); got != want {
		t.Errorf("Read32 straddling end = %#x, want %#x", got, want)
	}
}

func TestMemoryStoreCopyInOutOfRangeErrors(t *testing.T) {
	m := NewMemoryStore(storePageSize)
	size := m.Size()
	if err := m.CopyIn(size-1, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected CopyIn to report an error when the range escapes the store")
	}
	if err := m.CopyIn(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("CopyIn within bounds: %v", err)
	}
	out := make([]byte, 4)
	if err := m.CopyOut(0, out); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}
	if out[0] != 1 || out[3] != 4 {
		t.Errorf("CopyOut = %v, want [1 2 3 4]", out)
	}
}

func TestMemoryStoreResetZeroesData(t *testing.T) {
	m := NewMemoryStore(storePageSize)
	m.Write64(0, 0xFFFFFFFFFFFFFFFF)
	m.Reset()
	if got := m.Read64(0); got != 0 {
		t.Errorf("Read64 after Reset = %#x, want 0", got)
	}
}

func TestMemoryStoreSlice(t *testing.T) {
	m := NewMemoryStore(storePageSize)
	m.Write32(0x40, 0xCAFEBABE)
	s, err := m.Slice(0x40, 4)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if len(s) != 4 || s[0] != 0xBE || s[3] != 0xCA {
		t.Errorf("Slice bytes = %v, want [BE BA FE CA]", s)
	}
	if _, err := m.Slice(m.Size(), 1); err == nil {
		t.Error("expected Slice past the end of the store to error")
	}
}
