// Package codec provides reversible, metadata-tagged compression for the
// payloads persisted at storage boundaries (chat messages, submissions,
// session snapshots).
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// Algorithm identifies the compressed stream format.
	Algorithm = "gzip+base64"
	// Version is recorded in payload metadata for forward migrations.
	Version = "2"
)

// ErrDecompression signals that a stored payload could not be recovered.
// Callers must treat this as data loss and degrade to a placeholder rather
// than abort their larger operation.
var ErrDecompression = errors.New("codec: decompression produced no output")

// Metadata describes a compressed payload for storage-efficiency reporting.
type Metadata struct {
	Algorithm        string    `json:"algorithm"`
	Version          string    `json:"version"`
	OriginalSize     int       `json:"original_size"`
	CompressedSize   int       `json:"compressed_size"`
	CompressionRatio float64   `json:"compression_ratio"`
	Timestamp        time.Time `json:"timestamp"`
}

// Payload is a compressed value plus its provenance metadata.
type Payload struct {
	Data     string   `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// Compress serializes v (non-strings are marshaled to JSON first), gzips the
// result and encodes it as base64 text.
func Compress(v any) (Payload, error) {
	var plain string
	switch s := v.(type) {
	case string:
		plain = s
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Payload{}, fmt.Errorf("marshal payload: %w", err)
		}
		plain = string(b)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(plain)); err != nil {
		return Payload{}, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Payload{}, fmt.Errorf("compress payload: %w", err)
	}

	data := base64.StdEncoding.EncodeToString(buf.Bytes())
	originalSize := len(plain)
	ratio := 0.0
	if originalSize > 0 {
		ratio = float64(len(data)) / float64(originalSize)
	}
	return Payload{
		Data: data,
		Metadata: Metadata{
			Algorithm:        Algorithm,
			Version:          Version,
			OriginalSize:     originalSize,
			CompressedSize:   len(data),
			CompressionRatio: ratio,
			Timestamp:        time.Now().UTC(),
		},
	}, nil
}

// Decompress recovers the value stored in data. The decompressed text is
// re-parsed as JSON when possible so structured payloads round-trip; plain
// strings come back unchanged. Payloads written under the previous codec
// version used the URL-safe base64 alphabet, so that encoding is tried when
// the primary one yields nothing.
func Decompress(data string) (any, error) {
	if data == "" {
		return nil, ErrDecompression
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil || len(raw) == 0 {
		raw, err = base64.URLEncoding.DecodeString(data)
		if err != nil || len(raw) == 0 {
			return nil, ErrDecompression
		}
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, ErrDecompression
	}
	plain, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil || len(plain) == 0 {
		return nil, ErrDecompression
	}

	var v any
	if err := json.Unmarshal(plain, &v); err == nil {
		return v, nil
	}
	return string(plain), nil
}

// DecompressString is Decompress for callers that stored plain text. JSON
// string payloads decode to their string value; any other recovered shape is
// re-serialized.
func DecompressString(data string) (string, error) {
	v, err := Decompress(data)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", ErrDecompression
		}
		return string(b), nil
	}
}
