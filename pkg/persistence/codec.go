package persistence

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"fmt"
	"io"
)

func encodeMeta(meta map[string]interface{}) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

func decodeMeta(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Codec compresses/decompresses step payloads before they are framed into
// an EventRecord, per spec.md §4.10's "Optionally compress with a
// configured codec (None/deflate/zstd)".
type Codec interface {
	Name() string
	Encode(payload []byte) ([]byte, error)
	Decode(payload []byte) ([]byte, error)
}

// NoneCodec passes payloads through unchanged.
type NoneCodec struct{}

func (NoneCodec) Name() string                       { return "none" }
func (NoneCodec) Encode(payload []byte) ([]byte, error) { return payload, nil }
func (NoneCodec) Decode(payload []byte) ([]byte, error) { return payload, nil }

// DeflateCodec compresses with compress/flate at the default level.
type DeflateCodec struct{}

func (DeflateCodec) Name() string { return "deflate" }

func (DeflateCodec) Encode(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (DeflateCodec) Decode(payload []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(payload))
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// ResolveCodec maps a configured codec name to its implementation.
// "zstd" is intentionally unimplemented: the corpus carries no zstd binding
// (no example repo imports klauspost/compress or similar), so wiring it
// would mean fabricating a dependency; ResolveCodec returns an error
// instead, and callers should fall back to "deflate" until a real zstd
// binding is added to the dependency set.
func ResolveCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return NoneCodec{}, nil
	case "deflate":
		return DeflateCodec{}, nil
	case "zstd":
		return nil, fmt.Errorf("persistence: codec %q not wired (no zstd dependency in the module's dependency set)", name)
	default:
		return nil, fmt.Errorf("persistence: unknown codec %q", name)
	}
}
