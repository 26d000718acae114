package voice_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/gopus"

	"github.com/Raikerian/go-discord-recorder/internal/voice"
	"github.com/Raikerian/go-discord-recorder/pkg/audio"
)

func TestAudioTrackDecoder_DecodesOneFrame(t *testing.T) {
	enc, err := gopus.NewEncoder(audio.SampleRate, audio.Channels, gopus.Voip)
	require.NoError(t, err)

	pcm := make([]int16, audio.FrameSize*audio.Channels)
	for i := range pcm {
		pcm[i] = int16((i % 200) * 100)
	}
	frame, err := enc.Encode(pcm, audio.FrameSize, 4000)
	require.NoError(t, err)

	dec, err := voice.NewAudioTrackDecoder()
	require.NoError(t, err)

	out, err := dec.Decode(frame)
	require.NoError(t, err)
	assert.Len(t, out, audio.FrameBytes)
}

func TestAudioTrackDecoder_RejectsBadFrames(t *testing.T) {
	dec, err := voice.NewAudioTrackDecoder()
	require.NoError(t, err)

	_, err = dec.Decode(nil)
	assert.ErrorIs(t, err, voice.ErrDecodeFailed)
}
