package compression

import (
	"bytes"
	"testing"
)

func TestUnitRoundTrip(t *testing.T) {
	codecs := []interface {
		Compress([]byte) ([]byte, error)
		Decompress([]byte) ([]byte, error)
		Type() int16
	}{
		&Lz4{},
		&Zstd{Level: 3},
		&None{},
	}
	payload := []byte("the quick brown monkey eats a banana")
	for _, c := range codecs {
		compressed, err := c.Compress(payload)
		if err != nil {
			t.Fatal(c.Type(), err)
		}
		decompressed, err := c.Decompress(compressed)
		if err != nil {
			t.Fatal(c.Type(), err)
		}
		if !bytes.Equal(payload, decompressed) {
			t.Fatal(c.Type(), string(decompressed))
		}
	}
}
