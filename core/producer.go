package core

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/lisuiheng/hatcam-go/media"
	"github.com/lisuiheng/hatcam-go/metrics"
	"github.com/lisuiheng/hatcam-go/pkg/schema"
)

const (
	DefaultCadence     = 2.0
	MinCaptureInterval = 50 * time.Millisecond
	minCadence         = 0.1
)

// FrameSink is the part of a Manager the producer needs.
type FrameSink interface {
	IsOpen() bool
	Connect() error
	Send(v any) error
}

type ProducerConfig struct {
	StreamID schema.StreamID
	// Cadence in frames per second. <= 0 means DefaultCadence.
	Cadence float64
	// JPEG quality 1..100, 0 means media.DefaultJPEGQuality.
	Quality int
	// Frames wider than MaxWidth are downscaled. 0 keeps the source size.
	MaxWidth int
}

// CadenceInterval converts a sampling rate into a tick interval, never tighter
// than MinCaptureInterval.
func CadenceInterval(hz float64) time.Duration {
	if math.IsNaN(hz) || hz < minCadence {
		hz = minCadence
	}
	d := time.Duration(math.Floor(1000/hz)) * time.Millisecond
	if d < MinCaptureInterval {
		return MinCaptureInterval
	}
	return d
}

// Producer samples a media source on a fixed cadence and submits each frame
// to a sink. A cycle is skipped, never queued, whenever the source or the
// connection is not ready.
type Producer struct {
	streamID schema.StreamID
	sink     FrameSink
	encoder  media.Encoder
	logger   *slog.Logger
	metrics  *metrics.StreamMetrics

	mu       sync.Mutex
	source   media.Source
	interval time.Duration

	// runMu serialises Start, Stop and SetCadence; it is never taken by the
	// cadence loop.
	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

func NewProducer(cfg ProducerConfig, sink FrameSink, log *slog.Logger, m *metrics.StreamMetrics) (*Producer, error) {
	if sink == nil {
		return nil, errors.New("frame sink cannot be nil")
	}
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = DefaultCadence
	}
	return &Producer{
		streamID: cfg.StreamID,
		sink:     sink,
		encoder:  media.NewJPEGEncoder(cfg.Quality, cfg.MaxWidth),
		logger:   log.With("component", "producer"),
		metrics:  m,
		interval: CadenceInterval(cfg.Cadence),
	}, nil
}

// SetSource binds the media source sampled on each tick. It may be swapped
// while running; the next tick uses the new source.
func (p *Producer) SetSource(src media.Source) {
	p.mu.Lock()
	p.source = src
	p.mu.Unlock()
}

// SetCadence changes the sampling rate. A running producer is restarted
// through Start so the new interval applies at once, which also connects the
// sink if it is not open. A concurrent Stop wins: once it has returned the
// producer stays stopped.
func (p *Producer) SetCadence(hz float64) {
	interval := CadenceInterval(hz)
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.mu.Lock()
	p.interval = interval
	p.mu.Unlock()
	p.logger.Info("Capture cadence changed", "fps", hz, "interval", interval)

	if p.stop != nil {
		if err := p.start(); err != nil {
			p.logger.Warn("Failed to restart capture", "error", err)
		}
	}
}

func (p *Producer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Producer) Running() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.stop != nil
}

// Start begins producing. It needs a bound source and connects the sink when
// it is not open. Calling Start while running restarts the cadence loop.
func (p *Producer) Start() error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.start()
}

// start requires runMu.
func (p *Producer) start() error {
	p.mu.Lock()
	src, interval := p.source, p.interval
	p.mu.Unlock()
	if src == nil {
		p.logger.Warn("Cannot start capture, no media source bound")
		return ErrNoSource
	}

	if !p.sink.IsOpen() {
		if err := p.sink.Connect(); err != nil {
			p.logger.Warn("Connect before capture failed", "error", err)
		}
	}

	p.halt()
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(interval, p.stop, p.done)
	p.logger.Info("Capture started", "interval", interval)
	return nil
}

// Stop cancels the cadence loop and waits for an in-flight tick to finish.
func (p *Producer) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.stop == nil {
		return
	}
	p.halt()
	p.logger.Info("Capture stopped")
}

func (p *Producer) halt() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
	p.stop, p.done = nil, nil
}

func (p *Producer) loop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Producer) tick() {
	p.mu.Lock()
	src := p.source
	p.mu.Unlock()

	if src == nil {
		p.skip(metrics.SkipNoSource)
		return
	}
	if !src.Ready() {
		p.skip(metrics.SkipNotReady)
		return
	}
	if !p.sink.IsOpen() {
		p.skip(metrics.SkipDisconnected)
		if err := p.sink.Connect(); err != nil {
			p.logger.Debug("Reconnect from capture failed", "error", err)
		}
		return
	}
	if w, h := src.Dimensions(); w <= 0 || h <= 0 {
		p.skip(metrics.SkipEmptyFrame)
		return
	}

	img, err := src.Sample()
	if err != nil {
		p.logger.Debug("Failed to sample frame", "error", err)
		p.skip(metrics.SkipSampleError)
		return
	}
	data, err := p.encoder.Encode(img)
	if err != nil {
		p.logger.Warn("Failed to encode frame", "error", err)
		p.skip(metrics.SkipEncodeError)
		return
	}

	frame := schema.NewOutboundFrame(data, p.streamID)
	if err := p.sink.Send(frame); err != nil {
		p.skip(metrics.SkipSendError)
		return
	}
	p.metrics.FrameSent(len(data))
	p.logger.Debug("Frame sent",
		"kind", frame.Kind,
		"stream_id", frame.StreamID,
		"payload_len", len(frame.Payload))
}

func (p *Producer) skip(reason string) {
	p.metrics.FrameSkipped(reason)
	p.logger.Debug("Capture cycle skipped", "reason", reason)
}
