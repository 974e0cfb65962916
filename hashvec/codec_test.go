package hashvec

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]Hash{
		nil,
		{mkHash(1)},
		{mkHash(1), mkHash(2), mkHash(3)},
	}
	for _, hashes := range cases {
		enc, err := Encode(nil, hashes)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		decoded, n, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if n != len(enc) {
			t.Fatalf("consumed %d, want %d", n, len(enc))
		}
		if !Equal(decoded, hashes) {
			t.Fatalf("round trip mismatch: got %v, want %v", decoded, hashes)
		}
	}
}

func TestEncodeRejectsUnsorted(t *testing.T) {
	if _, err := Encode(nil, []Hash{mkHash(2), mkHash(1)}); err == nil {
		t.Fatal("expected error for unsorted input")
	}
}

func TestEncodeRejectsDuplicates(t *testing.T) {
	if _, err := Encode(nil, []Hash{mkHash(1), mkHash(1)}); err == nil {
		t.Fatal("expected error for duplicate-containing input")
	}
}

func TestDecodePreservesWireOrder(t *testing.T) {
	// Hand-build a wire-format vector with out-of-order hashes: decode
	// must return them as-is without re-sorting.
	var buf []byte
	buf = append(buf, 2, 0, 0, 0)
	h2 := mkHash(2)
	h1 := mkHash(1)
	buf = append(buf, h2[:]...)
	buf = append(buf, h1[:]...)

	decoded, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if decoded[0] != h2 || decoded[1] != h1 {
		t.Fatalf("Decode reordered input: %v", decoded)
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, _, err := Decode([]byte{1, 0}); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if _, _, err := Decode([]byte{1, 0, 0, 0}); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated for missing hash body, got %v", err)
	}
}

func TestDecodeLeavesTrailingBytes(t *testing.T) {
	enc, _ := Encode(nil, []Hash{mkHash(1)})
	enc = append(enc, 0xff, 0xff, 0xff)
	decoded, n, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(enc)-3 {
		t.Fatalf("consumed %d, want %d", n, len(enc)-3)
	}
	if !bytes.Equal(enc[n:], []byte{0xff, 0xff, 0xff}) {
		t.Fatal("trailing bytes lost")
	}
	if len(decoded) != 1 || decoded[0] != mkHash(1) {
		t.Fatalf("unexpected decoded: %v", decoded)
	}
}
