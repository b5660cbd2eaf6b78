package client

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Serializer encodes request bodies and decodes response bodies.
//
// It is constructed explicitly and handed to every driver so all of them
// agree on one JSON dialect: compact output, HTML characters left
// unescaped, unknown fields ignored on decode and numbers kept as
// json.Number when decoding into untyped values.
type Serializer struct {
	indent string
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithIndent makes Marshal produce indented output. Used for display only.
func WithIndent(indent string) SerializerOption {
	return func(s *Serializer) { s.indent = indent }
}

// NewSerializer returns a Serializer with the given options applied.
func NewSerializer(opts ...SerializerOption) *Serializer {
	s := &Serializer{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Marshal encodes v. Empty structs and maps encode as {}.
func (s *Serializer) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if s.indent != "" {
		enc.SetIndent("", s.indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Unmarshal decodes data into v, tolerating unknown fields.
func (s *Serializer) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// Tree decodes data into an untyped value (maps, slices, json.Number).
func (s *Serializer) Tree(data []byte) (any, error) {
	var v any
	if err := s.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
