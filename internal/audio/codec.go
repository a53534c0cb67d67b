package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// pcmScale maps [-1, 1] float samples onto the 16-bit signed range
const pcmScale = 32768.0

// Buffer is decoded audio held as one float32 slice per channel
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NumChannels returns the channel count
func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// Frames returns the number of samples per channel
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Interleaved returns the samples in channel-interleaved order
func (b *Buffer) Interleaved() []float32 {
	frames := b.Frames()
	channels := b.NumChannels()
	out := make([]float32, frames*channels)
	for ch := 0; ch < channels; ch++ {
		for i := 0; i < frames; i++ {
			out[i*channels+ch] = b.Channels[ch][i]
		}
	}
	return out
}

// EncodeBlock converts float samples to 16-bit signed little-endian PCM.
// Samples are clamped to [-1, 1], scaled by 32768 and truncated toward zero;
// +1.0 saturates at 32767.
func EncodeBlock(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodeBlock converts 16-bit little-endian PCM into a Buffer.
// Input is channel-interleaved; a trailing partial frame is rejected.
func DecodeBlock(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d bytes", len(data))
	}

	total := len(data) / 2
	if total%channels != 0 {
		return nil, fmt.Errorf("PCM sample count %d is not a multiple of %d channels", total, channels)
	}

	frames := total / channels
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}

	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Channels[ch][i] = float32(sample) / pcmScale
		}
	}

	return buf, nil
}

// DecodeFloat32 converts little-endian IEEE 754 float32 samples, the layout
// browsers produce from a Float32Array
func DecodeFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 data length must be a multiple of 4, got %d bytes", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

func floatToInt16(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	v := int32(float64(s) * pcmScale)
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}
