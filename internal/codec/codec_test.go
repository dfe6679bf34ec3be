package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRoundTripString(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"ascii", "the quick brown fox"},
		{"korean", "가격은 수요와 공급에 의해 결정된다"},
		{"surrogate pairs", "math 𝒜𝒷𝒸 and emoji 😀🎓"},
		{"newlines", "line one\nline two\r\nline three"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compress(tt.in)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			got, err := Decompress(p.Data)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if got != tt.in {
				t.Errorf("round trip: got %q, want %q", got, tt.in)
			}
		})
	}
}

func TestRoundTripStructured(t *testing.T) {
	in := map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "질문입니다"},
			map[string]any{"role": "ai", "content": "answer"},
		},
		"count": float64(2),
	}
	p, err := Compress(in)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(p.Data)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Errorf("round trip mismatch:\n got  %#v\n want %#v", got, in)
	}
}

func TestMetadata(t *testing.T) {
	in := strings.Repeat("repetitive content ", 50)
	p, err := Compress(in)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	m := p.Metadata
	if m.Algorithm != Algorithm || m.Version != Version {
		t.Errorf("unexpected algorithm/version: %q/%q", m.Algorithm, m.Version)
	}
	if m.OriginalSize != len(in) {
		t.Errorf("OriginalSize = %d, want %d", m.OriginalSize, len(in))
	}
	if m.CompressedSize != len(p.Data) {
		t.Errorf("CompressedSize = %d, want len(data) = %d", m.CompressedSize, len(p.Data))
	}
	want := float64(m.CompressedSize) / float64(m.OriginalSize)
	if m.CompressionRatio != want {
		t.Errorf("CompressionRatio = %v, want %v", m.CompressionRatio, want)
	}
	if m.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestCompressEmptyStringRatio(t *testing.T) {
	p, err := Compress("")
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if p.Metadata.OriginalSize != 0 {
		t.Errorf("OriginalSize = %d, want 0", p.Metadata.OriginalSize)
	}
	if p.Metadata.CompressionRatio != 0 {
		t.Errorf("CompressionRatio = %v, want 0 for empty input", p.Metadata.CompressionRatio)
	}
}

func TestDecompressLegacyEncoding(t *testing.T) {
	// Older payloads were written with the URL-safe base64 alphabet.
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"legacy":true}`)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	legacy := base64.URLEncoding.EncodeToString(buf.Bytes())

	got, err := Decompress(legacy)
	if err != nil {
		t.Fatalf("Decompress legacy payload: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok || m["legacy"] != true {
		t.Errorf("unexpected legacy payload: %#v", got)
	}
}

func TestDecompressGarbage(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not base64", "!!! not base64 !!!"},
		{"base64 but not gzip", base64.StdEncoding.EncodeToString([]byte("plain"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decompress(tt.data)
			if !errors.Is(err, ErrDecompression) {
				t.Errorf("expected ErrDecompression, got %v", err)
			}
		})
	}
}

func TestDecompressString(t *testing.T) {
	p, err := Compress("plain text")
	if err != nil {
		t.Fatal(err)
	}
	s, err := DecompressString(p.Data)
	if err != nil {
		t.Fatalf("DecompressString: %v", err)
	}
	if s != "plain text" {
		t.Errorf("got %q", s)
	}

	p2, err := Compress(map[string]string{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := DecompressString(p2.Data)
	if err != nil {
		t.Fatalf("DecompressString structured: %v", err)
	}
	if !strings.Contains(s2, `"k"`) {
		t.Errorf("expected re-serialized JSON, got %q", s2)
	}
}
