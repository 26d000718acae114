package audio_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Raikerian/go-discord-recorder/pkg/audio"
)

func TestPCMInt16ToLE(t *testing.T) {
	got := audio.PCMInt16ToLE([]int16{1, -1, 256, -32768})

	assert.Equal(t, []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x01, 0x00, 0x80}, got)
	assert.Equal(t, []int16{1, -1, 256, -32768}, audio.LEToPCMInt16(got))
}

func TestLEToPCMInt16_OddLength(t *testing.T) {
	assert.Equal(t, []int16{2}, audio.LEToPCMInt16([]byte{0x02, 0x00, 0x7f}))
	assert.Empty(t, audio.LEToPCMInt16(nil))
}

func TestDuration(t *testing.T) {
	tests := map[string]struct {
		bytes int64
		want  time.Duration
	}{
		"empty":      {bytes: 0, want: 0},
		"negative":   {bytes: -10, want: 0},
		"one frame":  {bytes: audio.FrameBytes, want: audio.FrameDuration},
		"one second": {bytes: audio.BytesPerSecond, want: time.Second},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, audio.Duration(tt.bytes))
		})
	}
}
