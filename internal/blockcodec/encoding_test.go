package blockcodec

import (
	"math"
	"testing"
)

func TestVarint64RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, math.MaxUint32, math.MaxUint64}
	for _, v := range values {
		buf := AppendVarint64(nil, v)
		got, n, err := DecodeVarint64(buf)
		if err != nil {
			t.Fatalf("DecodeVarint64(%d): %v", v, err)
		}
		if n != len(buf) {
			t.Errorf("DecodeVarint64(%d) consumed %d bytes, want %d", v, n, len(buf))
		}
		if got != v {
			t.Errorf("DecodeVarint64(%d) = %d", v, got)
		}
	}
}

func TestVarsignedint64RoundTrip(t *testing.T) {
	values := []int64{0, -1, 1, -4096, 4096, math.MinInt64, math.MaxInt64}
	for _, v := range values {
		buf := AppendVarsignedint64(nil, v)
		got, n, err := DecodeVarsignedint64(buf)
		if err != nil {
			t.Fatalf("DecodeVarsignedint64(%d): %v", v, err)
		}
		if n != len(buf) {
			t.Errorf("consumed %d bytes, want %d", n, len(buf))
		}
		if got != v {
			t.Errorf("DecodeVarsignedint64(%d) = %d", v, got)
		}
	}
}

func TestDecodeVarint64_Truncated(t *testing.T) {
	buf := AppendVarint64(nil, 1<<40)
	_, _, err := DecodeVarint64(buf[:len(buf)-1])
	if err == nil {
		t.Error("expected error decoding truncated varint")
	}
}

func TestFixed64RoundTrip(t *testing.T) {
	buf := AppendFixed64(nil, 0x0102030405060708)
	if got := DecodeFixed64(buf); got != 0x0102030405060708 {
		t.Errorf("DecodeFixed64 = %x", got)
	}
}

func TestFixed32RoundTrip(t *testing.T) {
	buf := AppendFixed32(nil, 0xdeadbeef)
	if got := DecodeFixed32(buf); got != 0xdeadbeef {
		t.Errorf("DecodeFixed32 = %x", got)
	}
}
