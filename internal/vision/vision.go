// Package vision implements the fiducial detection pipeline (C5):
// undistortion, marker decoding, relative pose estimation, and
// temporal smoothing over a tracking history per marker.
package vision

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/yusuftiryaki/mower/internal/errs"
	"github.com/yusuftiryaki/mower/internal/hal"
	"github.com/yusuftiryaki/mower/internal/types"
)

// Intrinsics is the pinhole camera model: a 3x3 matrix K and a
// 5-element Brown-Conrady distortion vector (k1, k2, p1, p2, k3), the
// same parameter ordering OpenCV-style calibration tooling emits.
type Intrinsics struct {
	K           [3][3]float64
	Distortion  [5]float64
	MarkerSideM float64
}

// Extrinsics is the camera's fixed mounting pose in the robot frame:
// a forward offset, a height above the chassis plane, and a downward
// tilt in radians.
type Extrinsics struct {
	ForwardOffsetM float64
	HeightM        float64
	TiltRad        float64
}

// DetectionGate bounds which raw marker reads are trusted.
type DetectionGate struct {
	MinConfidence          float64
	MinMarkerPerimeterRate float64
	MaxMarkerPerimeterRate float64
	MaxDetectionDistance   float64
}

// Config parameterizes the pipeline.
type Config struct {
	Intrinsics          Intrinsics
	Extrinsics          Extrinsics
	Gate                DetectionGate
	TrackingHistory     int
	AgreeTolerance      float64 // max spread, as a fraction of median, to call detections "agreeing"
	ObstacleTimeout     time.Duration
	DetectionMaxWidthPx int // 0 disables downsampling before decode
}

// RawQuad is a single decoded marker's pixel-frame corners, identifier
// and decode confidence, exactly what a hardware/library marker
// decoder produces before any geometric reasoning.
type RawQuad struct {
	MarkerID      int
	Corners       [4][2]float64 // image-plane, already undistorted
	Confidence    float64
	FrameWidthPx  int
	FrameHeightPx int
}

// Decoder is the pixel-level marker decoding boundary: given an
// undistorted frame, return every candidate marker it found. A real
// binding would wrap an external marker-decoding library; Pipeline
// only depends on this interface so it can be exercised with a fake.
type Decoder interface {
	Decode(frame hal.Frame) ([]RawQuad, error)
}

// trackEntry is one historical smoothed-candidate reading for a
// marker, kept for the tracking_history window.
type trackEntry struct {
	reading   types.FiducialDetection
	timestamp time.Time
}

// Pipeline runs the per-frame undistort/detect/estimate/smooth
// sequence and maintains each marker's tracking history.
type Pipeline struct {
	cfg     Config
	decoder Decoder
	log     *logrus.Entry

	history map[int][]trackEntry
}

// NewPipeline builds a Pipeline bound to decoder.
func NewPipeline(cfg Config, decoder Decoder, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		decoder: decoder,
		log:     log,
		history: make(map[int][]trackEntry),
	}
}

// Process runs one frame through the pipeline, returning the
// temporally-smoothed detection for every marker currently tracked
// (including ones not seen this frame, until they go stale).
func (p *Pipeline) Process(frame hal.Frame) ([]types.FiducialDetection, error) {
	undistorted := Undistort(frame, p.cfg.Intrinsics)
	undistorted = DownscaleForDetection(undistorted, p.cfg.DetectionMaxWidthPx)

	quads, err := p.decoder.Decode(undistorted)
	if err != nil {
		return nil, errs.Wrap(errs.KindPerception, "vision.Process", "marker decode failed", err)
	}

	now := frame.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	for _, q := range quads {
		if !p.passesGate(q) {
			continue
		}
		reading, ok := p.estimatePose(q, now)
		if !ok {
			continue
		}
		p.push(q.MarkerID, reading, now)
	}

	p.evictStale(now)

	var out []types.FiducialDetection
	for id, entries := range p.history {
		if len(entries) == 0 {
			continue
		}
		out = append(out, p.smooth(id, entries))
	}
	return out, nil
}

// passesGate rejects decode-confidence and perimeter-rate outliers per
// spec.md §4.4.
func (p *Pipeline) passesGate(q RawQuad) bool {
	if q.Confidence < p.cfg.Gate.MinConfidence {
		return false
	}
	perimeter := quadPerimeter(q.Corners)
	frameDim := float64(q.FrameWidthPx)
	if frameDim <= 0 {
		return false
	}
	rate := perimeter / frameDim
	if rate < p.cfg.Gate.MinMarkerPerimeterRate || rate > p.cfg.Gate.MaxMarkerPerimeterRate {
		return false
	}
	return true
}

func quadPerimeter(c [4][2]float64) float64 {
	total := 0.0
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		dx := c[j][0] - c[i][0]
		dy := c[j][1] - c[i][1]
		total += math.Hypot(dx, dy)
	}
	return total
}

func (p *Pipeline) push(markerID int, reading types.FiducialDetection, now time.Time) {
	entries := p.history[markerID]
	entries = append(entries, trackEntry{reading: reading, timestamp: now})
	if len(entries) > p.cfg.TrackingHistory {
		entries = entries[len(entries)-p.cfg.TrackingHistory:]
	}
	p.history[markerID] = entries
}

func (p *Pipeline) evictStale(now time.Time) {
	for id, entries := range p.history {
		kept := entries[:0:0]
		for _, e := range entries {
			if now.Sub(e.timestamp) <= p.cfg.ObstacleTimeout {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(p.history, id)
			continue
		}
		p.history[id] = kept
	}
}

// smooth reports the median (range, bearing, yaw_offset) across
// entries when at least two agree within tolerance, else the latest
// raw reading unmodified.
func (p *Pipeline) smooth(markerID int, entries []trackEntry) types.FiducialDetection {
	latest := entries[len(entries)-1].reading

	if len(entries) < 2 {
		latest.Unsmoothed = true
		return latest
	}

	ranges := make([]float64, len(entries))
	bearings := make([]float64, len(entries))
	yaws := make([]float64, len(entries))
	for i, e := range entries {
		ranges[i] = e.reading.RangeM
		bearings[i] = e.reading.BearingRad
		yaws[i] = e.reading.YawOffsetRad
	}

	medRange := median(ranges)
	if !agree(ranges, medRange, p.cfg.AgreeTolerance) {
		latest.Unsmoothed = true
		return latest
	}

	return types.FiducialDetection{
		MarkerID:       markerID,
		RangeM:         medRange,
		BearingRad:     median(bearings),
		YawOffsetRad:   median(yaws),
		Confidence:     latest.Confidence,
		FrameTimestamp: latest.FrameTimestamp,
	}
}

// median sorts a copy of xs and reports the empirical-CDF median.
func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// agree reports whether at least two values in xs lie within tol (a
// fraction of the median's magnitude, with a floor to stay meaningful
// near zero) of the median.
func agree(xs []float64, med, tol float64) bool {
	bound := tol * absf(med)
	if bound < 1e-6 {
		bound = 1e-6
	}
	n := 0
	for _, x := range xs {
		if absf(x-med) <= bound {
			n++
		}
	}
	return n >= 2
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func (p *Pipeline) estimatePose(q RawQuad, now time.Time) (types.FiducialDetection, bool) {
	rangeM, bearingRad, yawRad, ok := solvePose(q, p.cfg.Intrinsics, p.cfg.Extrinsics)
	if !ok {
		return types.FiducialDetection{}, false
	}
	if p.cfg.Gate.MaxDetectionDistance > 0 && rangeM > p.cfg.Gate.MaxDetectionDistance {
		return types.FiducialDetection{}, false
	}
	return types.FiducialDetection{
		MarkerID:       q.MarkerID,
		RangeM:         rangeM,
		BearingRad:     bearingRad,
		YawOffsetRad:   yawRad,
		Confidence:     q.Confidence,
		FrameTimestamp: now,
	}, true
}

// String implements fmt.Stringer for debug logging of a RawQuad.
func (q RawQuad) String() string {
	return fmt.Sprintf("quad(id=%d conf=%.2f)", q.MarkerID, q.Confidence)
}
