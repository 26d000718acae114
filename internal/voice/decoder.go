package voice

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/Raikerian/go-discord-recorder/pkg/audio"
)

// AudioTrackDecoder turns one speaker's Opus frames into raw s16le PCM at
// 48 kHz stereo. A decoder carries inter-frame state and must only ever
// see frames from a single SSRC.
type AudioTrackDecoder interface {
	Decode(opus []byte) ([]byte, error)
}

// DecoderFactory opens a fresh decoder for a new capture.
type DecoderFactory func() (AudioTrackDecoder, error)

type opusTrackDecoder struct {
	dec *gopus.Decoder
}

// NewAudioTrackDecoder creates a gopus backed decoder in the receive format.
func NewAudioTrackDecoder() (AudioTrackDecoder, error) {
	dec, err := gopus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("%w: create opus decoder: %w", ErrDecodeFailed, err)
	}

	return &opusTrackDecoder{dec: dec}, nil
}

func (d *opusTrackDecoder) Decode(opus []byte) ([]byte, error) {
	if len(opus) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrDecodeFailed)
	}

	samples, err := d.dec.Decode(opus, audio.MaxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	return audio.PCMInt16ToLE(samples), nil
}
