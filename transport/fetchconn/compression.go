// Package fetchconn is the concrete, libkafka-backed implementation of
// fetchqueue.ProducerConn. The core package (fetchqueue) only depends on
// the ProducerConn interface; this package is where the real wire
// protocol work against Kafka brokers happens.
package fetchconn

import (
	"bytes"

	"github.com/DataDog/zstd"
	"github.com/mkocikowski/libkafka/compression"
	"github.com/pierrec/lz4"
)

// lz4Decompressor and zstdDecompressor mirror
// mkocikowski-kafkaclient/compression/compression.go's Lz4/Zstd types —
// same libraries, same wrapping, adapted to this module's naming.
type lz4Decompressor struct{}

func (lz4Decompressor) Compress(src []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := lz4.NewWriter(buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Decompressor) Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (lz4Decompressor) Type() int16 { return compression.Lz4 }

type zstdDecompressor struct{ Level int }

func (z zstdDecompressor) Compress(src []byte) ([]byte, error) {
	return zstd.CompressLevel(nil, src, z.Level)
}

func (zstdDecompressor) Decompress(src []byte) ([]byte, error) {
	return zstd.Decompress(nil, src)
}

func (zstdDecompressor) Type() int16 { return compression.Zstd }

type noneDecompressor struct{}

func (noneDecompressor) Compress(src []byte) ([]byte, error)   { return src, nil }
func (noneDecompressor) Decompress(src []byte) ([]byte, error) { return src, nil }
func (noneDecompressor) Type() int16                           { return compression.None }

// defaultDecompressors returns the standard libkafka batch.Decompressor
// set this module registers for consuming compressed fetch responses.
func defaultDecompressors() map[int16]decompressor {
	return map[int16]decompressor{
		compression.None: noneDecompressor{},
		compression.Lz4:  lz4Decompressor{},
		compression.Zstd: zstdDecompressor{Level: 1},
	}
}

// decompressor matches libkafka/batch.Decompressor's shape (Compress,
// Decompress, Type) without importing the batch package from this file,
// keeping the compression table reusable from conn.go where the concrete
// batch.Decompressor type is referenced directly.
type decompressor interface {
	Compress([]byte) ([]byte, error)
	Decompress([]byte) ([]byte, error)
	Type() int16
}
