package traffic

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/crossflow-data/crossflow/internal/monitoring"
)

// LaneCounts is one sampled observation: the vehicle count per lane, with
// an optional per-class breakdown for lanes whose oracle reports classes.
type LaneCounts struct {
	Counts  [NumLanes]int
	ByClass [NumLanes]map[VehicleClass]int
}

// CountSource produces successive per-lane vehicle counts for the
// aggregation loop. Next blocks until the next sample is available or the
// context is cancelled. Sources never run out: an exhausted underlying
// recording restarts from the beginning.
type CountSource interface {
	Next(ctx context.Context) (LaneCounts, error)
	Close() error
}

// Detector is the external object-detection oracle: given one frame it
// returns the vehicles it sees. A failed call is treated by callers as
// zero vehicles for that frame, never as a fatal error.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
}

// Frame is one camera frame handed to the detection oracle.
type Frame struct {
	Lane   LaneID
	Index  int
	Width  int
	Height int
	Pixels []byte
}

// FrameSource produces one frame per lane per step. Implementations must
// loop: when the underlying footage ends it restarts at frame zero.
type FrameSource interface {
	Next(ctx context.Context) ([NumLanes]Frame, error)
	Close() error
}

// DetectorSource adapts a frame-level detection oracle into a CountSource,
// sampling every skip-th frame the way the live pipeline skips frames for
// throughput. Detection failures on a lane count as zero vehicles.
type DetectorSource struct {
	frames   FrameSource
	detector Detector
	skip     int
	step     int
}

// NewDetectorSource wraps frames and detector. A skip below 1 processes
// every frame.
func NewDetectorSource(frames FrameSource, detector Detector, skip int) *DetectorSource {
	if skip < 1 {
		skip = 1
	}
	return &DetectorSource{frames: frames, detector: detector, skip: skip}
}

// Next advances past skipped frames and runs detection on the sampled one.
func (s *DetectorSource) Next(ctx context.Context) (LaneCounts, error) {
	var frames [NumLanes]Frame
	for {
		var err error
		frames, err = s.frames.Next(ctx)
		if err != nil {
			return LaneCounts{}, err
		}
		s.step++
		if s.step%s.skip == 0 {
			break
		}
	}

	var out LaneCounts
	for _, id := range Lanes() {
		dets, err := s.detector.Detect(ctx, frames[id])
		if err != nil {
			monitoring.Logf("source: detection failed on lane %s, counting zero vehicles: %v", id, err)
			continue
		}
		out.Counts[id] = len(dets)
		out.ByClass[id] = CountByClass(dets)
	}
	return out, nil
}

// Close releases the underlying frame source.
func (s *DetectorSource) Close() error {
	return s.frames.Close()
}

// ReplaySource plays back a recorded per-lane count trace, looping forever.
// Trace files hold one sample per line as four comma-separated counts in
// lane order (North,South,East,West); blank lines and #-comments are
// skipped. It stands in for live camera feeds in dev mode and tests.
type ReplaySource struct {
	mu      sync.Mutex
	samples []LaneCounts
	pos     int
	skip    int
	step    int
	closed  bool
}

// NewReplaySource builds a looping source over the given samples.
func NewReplaySource(samples []LaneCounts, skip int) (*ReplaySource, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("replay source needs at least one sample")
	}
	if skip < 1 {
		skip = 1
	}
	return &ReplaySource{samples: samples, skip: skip}, nil
}

// LoadReplaySource reads a count trace file and returns a looping source
// over it.
func LoadReplaySource(path string, skip int) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	var samples []LaneCounts
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != NumLanes {
			return nil, fmt.Errorf("trace line %d: expected %d counts, got %d", lineNo, NumLanes, len(fields))
		}
		var sample LaneCounts
		for i, field := range fields {
			n, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				return nil, fmt.Errorf("trace line %d: %w", lineNo, err)
			}
			if n < 0 {
				return nil, fmt.Errorf("trace line %d: negative count %d", lineNo, n)
			}
			sample.Counts[i] = n
		}
		samples = append(samples, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}

	return NewReplaySource(samples, skip)
}

// Next returns the next sampled observation, wrapping at the end of the
// trace so playback never terminates.
func (s *ReplaySource) Next(ctx context.Context) (LaneCounts, error) {
	if err := ctx.Err(); err != nil {
		return LaneCounts{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return LaneCounts{}, fmt.Errorf("replay source is closed")
	}

	// Advance past skipped frames; the trace wraps around.
	for {
		sample := s.samples[s.pos]
		s.pos = (s.pos + 1) % len(s.samples)
		s.step++
		if s.step%s.skip == 0 {
			return sample, nil
		}
	}
}

// Close marks the source closed; subsequent Next calls fail.
func (s *ReplaySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
