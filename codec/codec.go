// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package codec encodes wire messages for network transports.
//
// A message is a sequence of protobuf-style fields. When the message carries the
// JMS_COMPRESS property set to true, the payload fields (text, body and map entries)
// are encoded separately, compressed, and carried in a single bytes field.
package codec

import (
	"errors"
	"fmt"

	"github.com/absmach/jms/broker/wire"
	"github.com/absmach/jms/internal/bufpool"
	"github.com/absmach/jms/message"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the payload compression algorithm.
type Compression uint8

// Compression algorithms.
const (
	None Compression = iota
	Zstd
	S2
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	default:
		return "unknown"
	}
}

// ParseCompression parses a compression name as used in configuration.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "s2":
		return S2, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrCompression, s)
	}
}

// Codec errors.
var (
	ErrMalformed   = errors.New("malformed message encoding")
	ErrCompression = errors.New("unsupported compression")
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	scratch     = bufpool.New(256 * 1024)
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("failed to create zstd encoder: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		panic("failed to create zstd decoder: " + err.Error())
	}
}

// Codec marshals wire messages. The zero value compresses nothing.
type Codec struct {
	compression Compression
}

// New returns a codec that compresses payloads of messages requesting it with c.
func New(c Compression) *Codec {
	return &Codec{compression: c}
}

// Default compresses requested payloads with zstd.
var Default = New(Zstd)

// Marshal encodes m with the default codec.
func Marshal(m *wire.Message) ([]byte, error) {
	return Default.Marshal(m)
}

// Unmarshal decodes data with the default codec.
func Unmarshal(data []byte) (*wire.Message, error) {
	return Default.Unmarshal(data)
}

// Marshal encodes m.
func (c *Codec) Marshal(m *wire.Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}
	comp := None
	if wantsCompression(m) {
		comp = c.compression
	}
	if comp == None {
		return appendMessage(nil, m, true), nil
	}

	buf := scratch.Get()
	defer scratch.Put(buf)
	buf.Write(appendPayload(buf.AvailableBuffer(), m))

	var packed []byte
	switch comp {
	case Zstd:
		packed = zstdEncoder.EncodeAll(buf.Bytes(), nil)
	case S2:
		packed = s2.Encode(nil, buf.Bytes())
	default:
		return nil, fmt.Errorf("%w: %d", ErrCompression, comp)
	}

	b := appendMessage(nil, m, false)
	b = appendVarintField(b, fieldCompression, uint64(comp))
	b = appendBytesField(b, fieldPacked, packed)
	return b, nil
}

// Unmarshal decodes data. Any compression known to the package is accepted.
func (c *Codec) Unmarshal(data []byte) (*wire.Message, error) {
	m := &wire.Message{}
	var (
		comp   Compression
		packed []byte
	)
	err := parseMessage(data, m, func(num fieldNum, v []byte, n uint64) error {
		switch num {
		case fieldCompression:
			comp = Compression(n)
		case fieldPacked:
			packed = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch m.Kind {
	case message.TextKind, message.BytesKind, message.MapKind, message.ObjectKind:
	default:
		return nil, fmt.Errorf("%w: message kind %d", ErrMalformed, m.Kind)
	}
	if packed == nil {
		return m, nil
	}

	var plain []byte
	switch comp {
	case Zstd:
		plain, err = zstdDecoder.DecodeAll(packed, nil)
	case S2:
		plain, err = s2.Decode(nil, packed)
	default:
		return nil, fmt.Errorf("%w: %d", ErrCompression, comp)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := parseMessage(plain, m, nil); err != nil {
		return nil, err
	}
	return m, nil
}

func wantsCompression(m *wire.Message) bool {
	v, ok := m.Property(message.HeaderCompress)
	if !ok {
		return false
	}
	switch v.Kind() {
	case message.BooleanValue:
		b, _ := v.BoolValue()
		return b
	case message.StringValue:
		s, _ := v.StringValue()
		return s == "true"
	default:
		return false
	}
}
