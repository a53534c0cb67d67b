package capture

import (
	"context"
	"errors"
	"io"

	"github.com/lexiqai/live-tutor/internal/audio"
	"github.com/rs/zerolog"
)

const (
	// DefaultSampleRate is the input rate the remote model expects
	DefaultSampleRate = 16000

	// DefaultBlockSize is the number of samples per encoded chunk
	DefaultBlockSize = 4096
)

// PipelineConfig configures a Pipeline
type PipelineConfig struct {
	SampleRate int
	BlockSize  int
}

// Pipeline turns a Source into a stream of fixed-size PCM chunks
type Pipeline struct {
	sampleRate int
	blockSize  int
	sender     Sender
	meter      *audio.LevelMeter
	onLevel    func(float64)
	logger     zerolog.Logger
}

// NewPipeline creates a capture pipeline. onLevel receives the smoothed
// loudness after every block and may be nil.
func NewPipeline(cfg PipelineConfig, sender Sender, meter *audio.LevelMeter, onLevel func(float64), logger zerolog.Logger) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if meter == nil {
		meter = audio.NewLevelMeter()
	}
	return &Pipeline{
		sampleRate: cfg.SampleRate,
		blockSize:  cfg.BlockSize,
		sender:     sender,
		meter:      meter,
		onLevel:    onLevel,
		logger:     logger,
	}
}

// Run reads src until ctx is cancelled or the device is released, both of
// which return nil. Any other read failure is returned as a *DeviceError.
// Blocks are emitted in capture order.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	var resampler *audio.Resampler
	if rate := src.SampleRate(); rate > 0 && rate != p.sampleRate {
		resampler = audio.NewResampler(rate, p.sampleRate)
		p.logger.Debug().
			Int("source_rate", rate).
			Int("target_rate", p.sampleRate).
			Msg("Resampling microphone input")
	}

	ring := audio.NewSampleRing(2*p.blockSize + 1)
	blocks := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				p.logger.Debug().
					Int("blocks", blocks).
					Int("discarded_samples", ring.Available()).
					Msg("Capture stopped")
				return nil
			}
			return AsDeviceError(Microphone, err)
		}

		if resampler != nil {
			frame = resampler.Process(frame)
		}

		// The ring always has room for at least one block once drained
		for len(frame) > 0 {
			n := ring.Write(frame)
			frame = frame[n:]

			for {
				block, ok := ring.ReadBlock(p.blockSize)
				if !ok {
					break
				}
				p.emit(block)
				blocks++
			}
		}
	}
}

func (p *Pipeline) emit(block []float32) {
	level := p.meter.ProcessBlock(block)
	if p.onLevel != nil {
		p.onLevel(level)
	}

	if p.sender != nil {
		p.sender.SendAudioChunk(audio.EncodeBlock(block))
	}
}
