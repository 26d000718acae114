package audio

import "time"

// Format constants for Discord voice receive. Opus frames from the voice
// gateway are always decoded to interleaved 16-bit stereo at 48 kHz.
const (
	SampleRate     = 48_000 // Hz
	Channels       = 2      // interleaved stereo
	FrameSize      = 960    // samples per channel (20 ms)
	MaxFrameSize   = 5760   // samples per channel (120 ms), the largest Opus frame
	BytesPerSample = 2      // s16le

	FrameDuration = 20 * time.Millisecond
	FrameBytes    = FrameSize * Channels * BytesPerSample
)

// RawFormat is the ffmpeg demuxer name for the raw PCM layout above.
const RawFormat = "s16le"

// BytesPerSecond is the data rate of raw PCM in the receive format.
const BytesPerSecond = SampleRate * Channels * BytesPerSample

// Duration reports how much audio n bytes of raw PCM hold.
func Duration(n int64) time.Duration {
	if n <= 0 {
		return 0
	}

	return time.Duration(n) * time.Second / BytesPerSecond
}
