package audio

import (
	"encoding/binary"
	"errors"
)

const wavHeaderSize = 44

// ErrNotWAV is returned when a buffer does not start with a PCM RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a PCM wav container")

// EncodeWAV wraps raw PCM in a RIFF/WAVE header so clients can play it
// without knowing the sample layout.
func EncodeWAV(pcm []byte, f Format) []byte {
	dataSize := len(pcm)
	blockAlign := f.Channels * f.BitDepth / 8

	out := make([]byte, wavHeaderSize+dataSize)
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], 1) // PCM
	le.PutUint16(out[22:24], uint16(f.Channels))
	le.PutUint32(out[24:28], uint32(f.SampleRate))
	le.PutUint32(out[28:32], uint32(f.BytesPerSecond()))
	le.PutUint16(out[32:34], uint16(blockAlign))
	le.PutUint16(out[34:36], uint16(f.BitDepth))

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(dataSize))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// DecodeWAV reads the canonical 44-byte header produced by EncodeWAV and
// returns the format and the PCM payload.
func DecodeWAV(b []byte) (Format, []byte, error) {
	if len(b) < wavHeaderSize || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[36:40]) != "data" {
		return Format{}, nil, ErrNotWAV
	}
	le := binary.LittleEndian
	if le.Uint16(b[20:22]) != 1 {
		return Format{}, nil, ErrNotWAV
	}
	f := Format{
		Channels:   int(le.Uint16(b[22:24])),
		SampleRate: int(le.Uint32(b[24:28])),
		BitDepth:   int(le.Uint16(b[34:36])),
	}
	size := int(le.Uint32(b[40:44]))
	if size > len(b)-wavHeaderSize {
		size = len(b) - wavHeaderSize
	}
	return f, b[wavHeaderSize : wavHeaderSize+size], nil
}
