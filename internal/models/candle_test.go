package models

import (
	"strings"
	"testing"
	"time"
)

func bars(offsets ...int) []Candle {
	base := time.Date(2024, 11, 20, 9, 15, 0, 0, time.UTC)
	out := make([]Candle, len(offsets))
	for i, m := range offsets {
		out[i] = Candle{Time: base.Add(time.Duration(m) * time.Minute)}
	}
	return out
}

func TestValidateCandles(t *testing.T) {
	tests := []struct {
		name    string
		in      []Candle
		wantErr string
	}{
		{name: "empty", in: nil},
		{name: "single", in: bars(0)},
		{name: "ascending", in: bars(0, 15, 30, 45)},
		{name: "duplicate time", in: bars(0, 15, 15, 30), wantErr: "duplicate candle at 2024-11-20T09:30:00Z"},
		{name: "out of order", in: bars(0, 30, 15), wantErr: "candle 2024-11-20T09:30:00Z out of order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCandles(tt.in)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseSide(t *testing.T) {
	for raw, want := range map[string]Side{"buy": SideBuy, " SELL ": SideSell, "Hold": SideHold} {
		got, err := ParseSide(raw)
		if err != nil || got != want {
			t.Fatalf("ParseSide(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseSide("SHORT"); err == nil {
		t.Fatal("expected error for unknown side")
	}
}
