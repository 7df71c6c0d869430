package cas

import (
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// Frame header layout: high nibble is the entry kind, low nibble the codec.
const (
	codecRaw  byte = 0
	codecZstd byte = 1
)

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
)

func codecs() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		// Neither constructor fails without options that can be invalid.
		zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		zstdDec, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdEnc, zstdDec
}

// frame prepends the header byte and compresses blob entries.
func frame(data []byte) []byte {
	kind := domain.KindForSize(len(data))
	if kind == domain.EntryMetadata {
		out := make([]byte, 0, len(data)+1)
		out = append(out, header(kind, codecRaw))
		return append(out, data...)
	}

	enc, _ := codecs()
	out := make([]byte, 1, len(data)/2+1)
	out[0] = header(kind, codecZstd)
	return enc.EncodeAll(data, out)
}

// unframe validates the header and returns the payload.
func unframe(raw []byte) ([]byte, domain.EntryKind, error) {
	if len(raw) == 0 {
		return nil, 0, zerr.Wrap(domain.ErrCorruptEntry, "empty entry")
	}

	kind := domain.EntryKind(raw[0] >> 4)
	codec := raw[0] & 0x0F
	if kind != domain.EntryMetadata && kind != domain.EntryBlob {
		return nil, 0, zerr.With(zerr.Wrap(domain.ErrCorruptEntry, "unknown entry kind"), "kind", uint8(kind))
	}

	switch codec {
	case codecRaw:
		return raw[1:], kind, nil
	case codecZstd:
		_, dec := codecs()
		data, err := dec.DecodeAll(raw[1:], nil)
		if err != nil {
			return nil, 0, zerr.Wrap(domain.ErrCorruptEntry, err.Error())
		}
		return data, kind, nil
	default:
		return nil, 0, zerr.With(zerr.Wrap(domain.ErrCorruptEntry, "unknown codec"), "codec", codec)
	}
}

func header(kind domain.EntryKind, codec byte) byte {
	return byte(kind)<<4 | codec
}
