package ram

import (
	"bytes"
	"testing"
)

func TestParsePlayedTime(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    uint32
		wantErr bool
	}{
		{
			name: "start of a save",
			raw:  []byte{0, 0, 0, 1}, // 0h 0m 0s, frame counter one ahead
			want: 0,
		},
		{
			name: "one of everything",
			raw:  []byte{1, 1, 1, 2},
			want: 1 + 60 + 60*60 + 60*60*60,
		},
		{
			name:    "frame counter zero underflows",
			raw:     []byte{0, 0, 0, 0},
			wantErr: true,
		},
		{
			name:    "frame counter too large",
			raw:     []byte{0, 0, 0, 61},
			wantErr: true,
		},
		{
			name:    "short region",
			raw:     []byte{1, 2, 3},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePlayedTime(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Error("ParsePlayedTime() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePlayedTime() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParsePlayedTime() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParsePresence(t *testing.T) {
	raw := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0xFF, 0xFF, 0x00}
	present, err := ParsePresence(raw)
	if err != nil {
		t.Fatalf("ParsePresence() error = %v", err)
	}
	want := [PartySize]bool{true, false, true, true}
	if present != want {
		t.Errorf("ParsePresence() = %v, want %v", present, want)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	low := []byte{0x0F, 0x90, 0, 0, 0xAA, 0x55, 0, 0}
	high := []byte{0x01, 0x80, 0, 0, 0x00, 0x00, 0, 0}
	present := [PartySize]bool{true, false, true, false}

	st, err := ParseStatus(low, high, present)
	if err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}
	if st[0].Bits != 0x8001900F {
		t.Errorf("char 0 bits = %08X, want 8001900F", st[0].Bits)
	}
	if st[1].Present {
		t.Error("char 1 should be absent")
	}
	if st[2].Bits != 0x000055AA {
		t.Errorf("char 2 bits = %08X, want 000055AA", st[2].Bits)
	}

	gotLow, gotHigh := StatusImages(st, low, high)
	if !bytes.Equal(gotLow, low) || !bytes.Equal(gotHigh, high) {
		t.Error("StatusImages() did not round trip")
	}
}

func TestStatusImagesPreservesAbsent(t *testing.T) {
	curLow := []byte{1, 2, 0xDE, 0xAD, 5, 6, 7, 8}
	curHigh := []byte{9, 10, 0xBE, 0xEF, 13, 14, 15, 16}

	var st PartyStatus
	st[0] = CharStatus{Present: true, Bits: 0}

	low, high := StatusImages(st, curLow, curHigh)
	if low[0] != 0 || low[1] != 0 || high[0] != 0 || high[1] != 0 {
		t.Error("present character's cleared bits not written")
	}
	// Absent characters keep whatever RAM held.
	if low[2] != 0xDE || low[3] != 0xAD || high[2] != 0xBE || high[3] != 0xEF {
		t.Error("absent character's bytes were overwritten")
	}
}

func TestMergeChestsMonotone(t *testing.T) {
	old := make([]byte, ChestBytes)
	incoming := make([]byte, ChestBytes)
	old[0] = 0b0011
	incoming[0] = 0b0101
	incoming[63] = 0x80

	merged, err := MergeChests(old, incoming)
	if err != nil {
		t.Fatalf("MergeChests() error = %v", err)
	}
	if merged[0] != 0b0111 {
		t.Errorf("merged[0] = %08b, want 0111", merged[0])
	}
	if merged[63] != 0x80 {
		t.Errorf("merged[63] = %02X, want 80", merged[63])
	}
	for i := range merged {
		if merged[i]&old[i] != old[i] {
			t.Fatalf("byte %d lost open-chest bits", i)
		}
	}

	if _, err := MergeChests(old[:10], incoming); err == nil {
		t.Error("MergeChests() with short mask expected error")
	}
}

func TestParseGP(t *testing.T) {
	gp, err := ParseGP([]byte{0x15, 0xCD, 0x5B})
	if err != nil {
		t.Fatalf("ParseGP() error = %v", err)
	}
	if gp != 6016277 {
		t.Errorf("ParseGP() = %d, want 6016277", gp)
	}
}
