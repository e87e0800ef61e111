package lzf

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestRoundTripEmpty(t *testing.T) {
	c := Compress(nil)
	d, err := Decompress(c, 0)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(d) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(d))
	}
}

func TestRoundTripPatterns(t *testing.T) {
	mk := func(n int, fn func(i int) byte) []byte {
		b := make([]byte, n)
		for i := range b {
			b[i] = fn(i)
		}
		return b
	}

	cases := [][]byte{
		mk(4096, func(i int) byte { return byte(i) }),
		mk(4096, func(i int) byte { return 0 }),
		mk(4096, func(i int) byte { return byte(i % 3) }),
		append(mk(2048, func(i int) byte { return byte(i) }), mk(2048, func(i int) byte { return 0 })...),
		[]byte("the quick brown fox jumps over the lazy dog the quick brown fox"),
		[]byte{0x00, 0x01, 0x02},
		[]byte{0xFF},
	}

	for i, c := range cases {
		compressed := Compress(c)
		got, err := Decompress(compressed, len(c))
		if err != nil {
			t.Fatalf("case %d: Decompress: %v", i, err)
		}
		if !bytes.Equal(got, c) {
			t.Fatalf("case %d: round trip mismatch", i)
		}
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		n := rng.Intn(8192)
		b := make([]byte, n)
		rng.Read(b)
		compressed := Compress(b)
		got, err := Decompress(compressed, n)
		if err != nil {
			t.Fatalf("trial %d (n=%d): Decompress: %v", trial, n, err)
		}
		if !bytes.Equal(got, b) {
			t.Fatalf("trial %d (n=%d): round trip mismatch", trial, n)
		}
	}
}

func TestDecompressTruncated(t *testing.T) {
	_, err := Decompress([]byte{5, 1, 2}, 6)
	if err == nil {
		t.Fatal("expected error for truncated literal run")
	}
}

func TestDecompressWrongLength(t *testing.T) {
	c := Compress([]byte("hello world"))
	_, err := Decompress(c, 3)
	if err == nil {
		t.Fatal("expected error for length mismatch")
	}
}
