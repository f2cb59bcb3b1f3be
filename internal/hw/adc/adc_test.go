package adc

import (
	"errors"
	"testing"
)

func TestDecodeMCP3008(t *testing.T) {
	cases := []struct {
		buf  []byte
		want int
	}{
		{[]byte{0xFF, 0x00, 0x00}, 0},
		{[]byte{0xFF, 0x03, 0xFF}, 1023},
		{[]byte{0xFF, 0xFA, 0x10}, 0x210},
	}
	for _, tc := range cases {
		if got := decodeMCP3008(tc.buf); got != tc.want {
			t.Errorf("decodeMCP3008(%v) = %d, want %d", tc.buf, got, tc.want)
		}
	}
}

func TestMCP3008Command(t *testing.T) {
	m := NewMCP3008(3, 0, 0)
	cmd := m.command()
	if cmd[0] != 1 || cmd[1] != 0xB0 || cmd[2] != 0 {
		t.Errorf("command = %v, want [1 176 0]", cmd)
	}
	if m.vref != 3.3 || m.hz != 1350000 {
		t.Errorf("defaults not applied: vref=%v hz=%d", m.vref, m.hz)
	}
}

func TestRead_BeforeProbe(t *testing.T) {
	readers := map[string]Reader{
		"ads1115": NewADS1115("", 0, 0),
		"mcp3008": NewMCP3008(0, 3.3, 0),
	}
	for name, r := range readers {
		if _, err := r.Read(); !errors.Is(err, ErrNotProbed) {
			t.Errorf("%s: Read before Probe error = %v, want ErrNotProbed", name, err)
		}
		if err := r.Close(); err != nil {
			t.Errorf("%s: Close on unopened reader: %v", name, err)
		}
	}
}

func TestADS1115DefaultAddress(t *testing.T) {
	if a := NewADS1115("", 0, 0); a.addr != 0x48 {
		t.Errorf("addr = 0x%x, want 0x48", a.addr)
	}
}

func TestChannel(t *testing.T) {
	for n := 0; n < 4; n++ {
		if _, err := channel(n); err != nil {
			t.Errorf("channel(%d): %v", n, err)
		}
	}
	if _, err := channel(4); err == nil {
		t.Error("channel(4): expected error")
	}
}

func TestNew(t *testing.T) {
	if r, err := New(Options{Kind: KindADS1115}); err != nil || r == nil {
		t.Errorf("New(ads1115) = %v, %v", r, err)
	}
	if r, err := New(Options{Kind: KindMCP3008, Channel: 1}); err != nil || r == nil {
		t.Errorf("New(mcp3008) = %v, %v", r, err)
	}
	if _, err := New(Options{Kind: KindSim}); err == nil {
		t.Error("New(sim): expected error, simulator is built elsewhere")
	}
}
