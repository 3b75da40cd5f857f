// Package playback plays synthesized replies on the default output device
// through faiface/beep.
package playback

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	"github.com/teslashibe/go-voiceloop/pkg/tts"
)

// Decode turns an AudioResult into a beep stream.
func Decode(audio *tts.AudioResult) (beep.StreamSeekCloser, beep.Format, error) {
	if audio == nil || len(audio.Audio) == 0 {
		return nil, beep.Format{}, fmt.Errorf("playback: no audio")
	}

	switch audio.Format.Encoding {
	case tts.EncodingMP3:
		return mp3.Decode(io.NopCloser(bytes.NewReader(audio.Audio)))
	case tts.EncodingWAV:
		return wav.Decode(bytes.NewReader(audio.Audio))
	case tts.EncodingPCM:
		s, err := newPCMStreamer(audio.Audio, audio.Format.Channels)
		if err != nil {
			return nil, beep.Format{}, err
		}
		channels := audio.Format.Channels
		if channels == 0 {
			channels = 1
		}
		return s, beep.Format{
			SampleRate:  beep.SampleRate(audio.Format.SampleRate),
			NumChannels: channels,
			Precision:   2,
		}, nil
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %q", tts.ErrUnsupportedEncoding, audio.Format.Encoding)
	}
}

// pcmStreamer streams headerless little-endian PCM16.
type pcmStreamer struct {
	samples  []int16
	channels int
	pos      int // in frames
}

func newPCMStreamer(data []byte, channels int) (*pcmStreamer, error) {
	if channels <= 0 {
		channels = 1
	}
	if channels > 2 {
		return nil, fmt.Errorf("%w: %d channels", tts.ErrUnsupportedEncoding, channels)
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return &pcmStreamer{samples: samples, channels: channels}, nil
}

func (s *pcmStreamer) Stream(out [][2]float64) (int, bool) {
	n := 0
	for n < len(out) && s.pos < s.Len() {
		i := s.pos * s.channels
		l := float64(s.samples[i]) / 32768
		r := l
		if s.channels == 2 {
			r = float64(s.samples[i+1]) / 32768
		}
		out[n] = [2]float64{l, r}
		n++
		s.pos++
	}
	return n, n > 0
}

func (s *pcmStreamer) Err() error { return nil }

func (s *pcmStreamer) Len() int { return len(s.samples) / s.channels }

func (s *pcmStreamer) Position() int { return s.pos }

func (s *pcmStreamer) Seek(p int) error {
	if p < 0 || p > s.Len() {
		return fmt.Errorf("playback: seek %d out of range", p)
	}
	s.pos = p
	return nil
}

func (s *pcmStreamer) Close() error { return nil }
