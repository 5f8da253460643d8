package domain

import (
	"errors"
	"math"
	"testing"
)

func TestNotional(t *testing.T) {
	tests := []struct {
		name    string
		price   uint64
		qty     uint64
		want    uint64
		wantErr bool
	}{
		{"zero", 0, 10, 0, false},
		{"simple", 100, 4, 400, false},
		{"large", 1_000_000_000, 1_000_000_000, 1_000_000_000_000_000_000, false},
		{"max times one", math.MaxUint64, 1, math.MaxUint64, false},
		{"overflow", math.MaxUint64, 2, 0, true},
		{"overflow halves", 1 << 32, 1 << 32, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Notional(tt.price, tt.qty)
			if tt.wantErr {
				if !errors.Is(err, ErrArithmeticOverflow) {
					t.Errorf("Notional(%d, %d) error = %v, want ErrArithmeticOverflow", tt.price, tt.qty, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Notional(%d, %d) unexpected error: %v", tt.price, tt.qty, err)
			}
			if got != tt.want {
				t.Errorf("Notional(%d, %d) = %d, want %d", tt.price, tt.qty, got, tt.want)
			}
		})
	}
}

func TestAddChecked(t *testing.T) {
	if got, err := AddChecked(400, 50000); err != nil || got != 50400 {
		t.Errorf("AddChecked(400, 50000) = %d, %v", got, err)
	}
	if _, err := AddChecked(math.MaxUint64, 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Errorf("AddChecked(max, 1) error = %v, want ErrArithmeticOverflow", err)
	}
}
