package domain

import "testing"

func TestNewAccount_CopiesHoldings(t *testing.T) {
	src := map[InstrumentID]uint64{1: 10, 2: 0}
	a := NewAccount(7, 50000, src)

	src[1] = 99

	if got := a.Holding(1); got != 10 {
		t.Errorf("Holding(1) = %d, want 10", got)
	}
	if _, ok := a.Holdings[2]; ok {
		t.Error("zero holding should not be stored")
	}
	if a.Balance != 50000 {
		t.Errorf("Balance = %d, want 50000", a.Balance)
	}
}

func TestAccount_HoldingMissing(t *testing.T) {
	a := NewAccount(1, 0, nil)
	if got := a.Holding(42); got != 0 {
		t.Errorf("Holding(42) = %d, want 0", got)
	}
}

func TestAccount_SnapshotIsDetached(t *testing.T) {
	a := NewAccount(1, 100, map[InstrumentID]uint64{1: 5})
	a.Version = 3

	snap := a.Snapshot()
	a.Holdings[1] = 1
	a.Balance = 0

	if snap.Balance != 100 {
		t.Errorf("snapshot Balance = %d, want 100", snap.Balance)
	}
	if snap.Holdings[1] != 5 {
		t.Errorf("snapshot Holdings[1] = %d, want 5", snap.Holdings[1])
	}
	if snap.Version != 3 {
		t.Errorf("snapshot Version = %d, want 3", snap.Version)
	}
}
