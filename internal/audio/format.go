// Package audio converts client recordings into the PCM layout the realtime
// channel accepts and wraps model PCM output for playback.
package audio

import (
	"fmt"
	"strconv"
	"strings"
)

// Audio MIME types used on the wire.
const (
	MIMETypePCM = "audio/pcm"
	MIMETypeWAV = "audio/wav"
)

// Format describes raw little-endian signed PCM.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// ChannelFormat is the fixed input format of the realtime voice channel:
// mono, 16kHz, 16-bit little-endian.
var ChannelFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// MIMEType renders the format as a PCM mime type with its rate parameter.
func (f Format) MIMEType() string {
	return fmt.Sprintf("%s;rate=%d", MIMETypePCM, f.SampleRate)
}

// BytesPerSecond is the data rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// ParseRate extracts the rate parameter from a mime type such as
// "audio/pcm;rate=24000". It returns fallback when none is present.
func ParseRate(mimeType string, fallback int) int {
	parts := strings.Split(mimeType, ";")
	for _, param := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rate") {
			continue
		}
		if rate, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}
