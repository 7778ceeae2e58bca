package protocol

import "testing"

func TestSeqNumNextWraps(t *testing.T) {
	s := SeqNum(0xFFFF)
	if got := s.Next(); got != 0 {
		t.Fatalf("Next() at max = %#x, want 0", got)
	}
}

func TestSeqNumAfterBefore(t *testing.T) {
	cases := []struct {
		a, b       SeqNum
		aAfterB    bool
		aBeforeB   bool
	}{
		{a: 5, b: 3, aAfterB: true, aBeforeB: false},
		{a: 3, b: 5, aAfterB: false, aBeforeB: true},
		{a: 3, b: 3, aAfterB: false, aBeforeB: false},
		// wraparound: 2 is "after" 0xFFFE by the short way round
		{a: 2, b: 0xFFFE, aAfterB: true, aBeforeB: false},
		{a: 0xFFFE, b: 2, aAfterB: false, aBeforeB: true},
	}
	for _, c := range cases {
		if got := c.a.After(c.b); got != c.aAfterB {
			t.Errorf("SeqNum(%#x).After(%#x) = %v, want %v", c.a, c.b, got, c.aAfterB)
		}
		if got := c.a.Before(c.b); got != c.aBeforeB {
			t.Errorf("SeqNum(%#x).Before(%#x) = %v, want %v", c.a, c.b, got, c.aBeforeB)
		}
	}
}

func TestSeqNumDistance(t *testing.T) {
	if d := SeqNum(10).Distance(15); d != 5 {
		t.Fatalf("Distance(10,15) = %d, want 5", d)
	}
	if d := SeqNum(15).Distance(10); d != -5 {
		t.Fatalf("Distance(15,10) = %d, want -5", d)
	}
	if d := SeqNum(0xFFFE).Distance(2); d != 4 {
		t.Fatalf("Distance(0xFFFE,2) = %d, want 4", d)
	}
}
