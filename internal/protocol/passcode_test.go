package protocol

import "testing"

func TestEncodePasscodeKnownValues(t *testing.T) {
	// "admin": a=97,d=100,m=109,i=105,n=110 at indices 0..4
	// p0 = 97+0 = 97      -> table[97] = 0x38
	// p1 = 100+1 = 101    -> table[101] = 0x40
	// p2 = 109+2 = 111    -> table[111] = 0x6a
	// p3 = 105+3 = 108    -> table[108] = 0x24
	// p4 = 110+4 = 114    -> table[114] = 0x4d
	got := EncodePasscode("admin")
	want := [5]byte{0x38, 0x40, 0x6a, 0x24, 0x4d}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("byte %d = %#x, want %#x", i, got[i], w)
		}
	}
	for i := 5; i < 16; i++ {
		if got[i] != 0 {
			t.Errorf("byte %d = %#x, want 0 (unused tail)", i, got[i])
		}
	}
}

func TestEncodePasscodeTruncatesLongInput(t *testing.T) {
	long := "0123456789abcdefGHIJ"
	got := EncodePasscode(long)
	wantPrefix := EncodePasscode(long[:16])
	if got != wantPrefix {
		t.Fatalf("EncodePasscode did not truncate to 16 chars: got %x, want %x", got, wantPrefix)
	}
}

func TestEncodePasscodeWrapsHighCodepoints(t *testing.T) {
	// index 0, char '~' (126): p = 126+0 = 126 -> table[126] = 0x52, no wrap needed.
	got := EncodePasscode("~")
	if got[0] != 0x52 {
		t.Fatalf("byte 0 = %#x, want 0x52", got[0])
	}
	// A char whose (ord+index) exceeds 126 must fold back via 32+p%127.
	// e.g. index 15 with char '~' (126): p = 126+15 = 141 > 126 -> 32+141%127 = 32+14 = 46 -> table[46]=0x60
	s := make([]byte, 16)
	for i := range s {
		s[i] = 'a'
	}
	s[15] = '~'
	got = EncodePasscode(string(s))
	if got[15] != 0x60 {
		t.Fatalf("byte 15 = %#x, want 0x60", got[15])
	}
}

func TestEncodePasscodeEmpty(t *testing.T) {
	got := EncodePasscode("")
	if got != ([16]byte{}) {
		t.Fatalf("EncodePasscode(\"\") = %x, want all zero", got)
	}
}
