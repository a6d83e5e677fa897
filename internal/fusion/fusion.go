// Package fusion implements the differential-drive Extended Kalman
// Filter that produces the robot's fused Pose from wheel encoders, IMU
// yaw rate, and GNSS fixes.
package fusion

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/yusuftiryaki/mower/internal/errs"
	"github.com/yusuftiryaki/mower/internal/geo"
	"github.com/yusuftiryaki/mower/internal/hal"
	"github.com/yusuftiryaki/mower/internal/types"
)

// State indices into the 5-element state vector (X, Y, theta, v, omega).
const (
	stX = iota
	stY
	stTheta
	stV
	stOmega
	stateDim = 5
)

// FusionConfig mirrors navigation.kalman and the drivetrain geometry
// from config; pulses-per-revolution is always a runtime parameter,
// never hardcoded, since it is hardware-specific (spec.md §9).
type FusionConfig struct {
	WheelDiameter       float64 // meters
	WheelBase           float64 // meters
	PulsesPerRevolution float64

	ProcessNoise     float64 // multiplier on the model covariance
	MeasurementNoise float64 // multiplier on the GNSS covariance

	OutlierK float64 // innovation gate: reject if |innovation| > K*sqrt(S)

	ImuYawWeight float64 // complementary blend weight for yaw, 0..1; 1 = IMU only

	MinFixQuality int
	MaxHDOP       float64

	DegradedQualityThreshold float64
	DegradedSustain          time.Duration
	EncoderStallTimeout      time.Duration
}

// DefaultFusionConfig returns reasonable defaults; callers overlay
// config-sourced values on top.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		ProcessNoise:             1.0,
		MeasurementNoise:         1.0,
		OutlierK:                 5.0,
		ImuYawWeight:             0.98,
		MinFixQuality:            2,
		MaxHDOP:                  5.0,
		DegradedQualityThreshold: 0.3,
		DegradedSustain:          10 * time.Second,
		EncoderStallTimeout:      2 * time.Second,
	}
}

// EKF is the sole owner of the fused Pose; every other task reads a
// published snapshot via Snapshot, never the filter itself.
type EKF struct {
	mu    sync.RWMutex
	cfg   FusionConfig
	log   *logrus.Entry
	state *mat.VecDense
	cov   *mat.SymDense

	anchor *geo.Anchor

	quality           float64
	qualityBelowSince time.Time
	degraded          bool

	haveLastEncoder bool
	lastLeft        int64
	lastRight       int64
	lastEncoderMono int64
	stuck           bool
}

// NewEKF builds a filter at the origin with large initial covariance,
// per spec.md §4.1's initialization rule.
func NewEKF(cfg FusionConfig, log *logrus.Entry) *EKF {
	state := mat.NewVecDense(stateDim, nil)
	cov := mat.NewSymDense(stateDim, nil)
	for i := 0; i < stateDim; i++ {
		cov.SetSym(i, i, 1000.0)
	}
	return &EKF{
		cfg:     cfg,
		log:     log,
		state:   state,
		cov:     cov,
		anchor:  geo.NewAnchor(),
		quality: 1.0,
	}
}

func (f *EKF) distPerTick() float64 {
	return (math.Pi * f.cfg.WheelDiameter) / f.cfg.PulsesPerRevolution
}

// Predict advances the filter using one encoder reading and one IMU
// sample, over the elapsed time dt (seconds). Encoder ticks are
// cumulative; Predict tracks the previous cumulative counts itself.
func (f *EKF) Predict(ctx context.Context, encoders hal.EncoderReading, imu hal.ImuSample, dt float64, nowMono int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dt <= 0 {
		return errs.New(errs.KindLocalization, "fusion.Predict", "non-positive dt")
	}

	var deltaLeft, deltaRight int64
	if f.haveLastEncoder {
		deltaLeft = encoders.Left - f.lastLeft
		deltaRight = encoders.Right - f.lastRight
	}
	f.lastLeft, f.lastRight = encoders.Left, encoders.Right
	f.haveLastEncoder = true

	distPerTick := f.distPerTick()
	distLeft := float64(deltaLeft) * distPerTick
	distRight := float64(deltaRight) * distPerTick

	v := (distLeft + distRight) / (2 * dt)
	omegaWheel := (distRight - distLeft) / (f.cfg.WheelBase * dt)
	omega := f.cfg.ImuYawWeight*imu.AngularRateZ + (1-f.cfg.ImuYawWeight)*omegaWheel

	f.updateStallSignal(v, omega, deltaLeft, deltaRight, nowMono)

	theta := f.state.AtVec(stTheta)
	x := f.state.AtVec(stX)
	y := f.state.AtVec(stY)

	newX := x + v*math.Cos(theta)*dt
	newY := y + v*math.Sin(theta)*dt
	newTheta := geo.NormalizeAngle(theta + omega*dt)

	f.state.SetVec(stX, newX)
	f.state.SetVec(stY, newY)
	f.state.SetVec(stTheta, newTheta)
	f.state.SetVec(stV, v)
	f.state.SetVec(stOmega, omega)

	// Jacobian of the motion model at the pre-update state.
	F := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		F.Set(i, i, 1.0)
	}
	F.Set(stX, stTheta, -v*math.Sin(theta)*dt)
	F.Set(stX, stV, math.Cos(theta)*dt)
	F.Set(stY, stTheta, v*math.Cos(theta)*dt)
	F.Set(stY, stV, math.Sin(theta)*dt)
	F.Set(stTheta, stOmega, dt)

	var temp mat.Dense
	temp.Mul(F, f.cov)
	var predictedCov mat.Dense
	predictedCov.Mul(&temp, F.T())

	q := f.cfg.ProcessNoise
	qDiag := []float64{0.01 * q, 0.01 * q, 0.005 * q, 0.05 * q, 0.05 * q}
	f.cov = symmetrize(&predictedCov, qDiag)

	f.decayQuality(nowMono)

	return nil
}

// updateStallSignal raises Stuck when commanded motion is implied by a
// non-zero prior velocity estimate but the encoders report no ticks
// for longer than EncoderStallTimeout.
func (f *EKF) updateStallSignal(v, omega float64, deltaLeft, deltaRight int64, nowMono int64) {
	commandedMotion := math.Abs(f.state.AtVec(stV)) > 1e-3 || math.Abs(f.state.AtVec(stOmega)) > 1e-3
	if deltaLeft != 0 || deltaRight != 0 {
		f.lastEncoderMono = nowMono
		f.stuck = false
		return
	}
	if commandedMotion && f.lastEncoderMono != 0 {
		elapsed := time.Duration(nowMono - f.lastEncoderMono)
		if elapsed > f.cfg.EncoderStallTimeout {
			f.stuck = true
		}
	}
}

// Stuck reports whether the encoders have stalled under commanded
// motion, per spec.md §4.1's failure semantics.
func (f *EKF) Stuck() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stuck
}

// UpdateGNSS ingests a GNSS fix. Fixes below the configured quality or
// above the configured HDOP bound are ignored outright (boundary
// behavior per spec.md §8); the first accepted fix anchors the local
// frame and collapses position covariance.
func (f *EKF) UpdateGNSS(fix hal.GnssFix) error {
	if fix.FixQuality < f.cfg.MinFixQuality || fix.HDOP >= f.cfg.MaxHDOP {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	point := geo.Point{Latitude: fix.Latitude, Longitude: fix.Longitude}

	if !f.anchor.Fixed() {
		f.anchor.Fix(point)
		f.state.SetVec(stX, 0)
		f.state.SetVec(stY, 0)
		f.cov.SetSym(stX, stX, 0.1)
		f.cov.SetSym(stY, stY, 0.1)
		f.quality = 1.0
		f.qualityBelowSince = time.Time{}
		return nil
	}

	local, err := f.anchor.ToLocal(point)
	if err != nil {
		return errs.Wrap(errs.KindLocalization, "fusion.UpdateGNSS", "projecting fix", err)
	}

	H := mat.NewDense(2, stateDim, nil)
	H.Set(0, stX, 1.0)
	H.Set(1, stY, 1.0)

	z := mat.NewVecDense(2, []float64{local.X, local.Y})
	var expected mat.VecDense
	expected.MulVec(H, f.state)

	innovation := mat.NewVecDense(2, nil)
	innovation.SubVec(z, &expected)

	var temp mat.Dense
	temp.Mul(H, f.cov)
	var S mat.Dense
	S.Mul(&temp, H.T())

	measNoise := f.cfg.MeasurementNoise * fix.HDOP * fix.HDOP
	S.Set(0, 0, S.At(0, 0)+measNoise)
	S.Set(1, 1, S.At(1, 1)+measNoise)

	for i := 0; i < 2; i++ {
		gate := f.cfg.OutlierK * math.Sqrt(math.Max(S.At(i, i), 1e-9))
		if math.Abs(innovation.AtVec(i)) > gate {
			f.log.WithFields(logrus.Fields{"axis": i, "innovation": innovation.AtVec(i), "gate": gate}).
				Warn("rejecting gnss fix as innovation outlier")
			return errs.ErrGNSSOutlier
		}
	}

	var Sinv mat.Dense
	if err := Sinv.Inverse(&S); err != nil {
		return errs.Wrap(errs.KindLocalization, "fusion.UpdateGNSS", "inverting innovation covariance", err)
	}

	var PHt mat.Dense
	PHt.Mul(f.cov, H.T())
	var K mat.Dense
	K.Mul(&PHt, &Sinv)

	var correction mat.VecDense
	correction.MulVec(&K, innovation)
	f.state.AddVec(f.state, &correction)
	f.state.SetVec(stTheta, geo.NormalizeAngle(f.state.AtVec(stTheta)))

	I := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		I.Set(i, i, 1.0)
	}
	var KH mat.Dense
	KH.Mul(&K, H)
	var IminusKH mat.Dense
	IminusKH.Sub(I, &KH)
	var updatedCov mat.Dense
	updatedCov.Mul(&IminusKH, f.cov)
	f.cov = symmetrize(&updatedCov, nil)

	f.quality = 1.0
	f.qualityBelowSince = time.Time{}
	f.degraded = false

	return nil
}

// decayQuality reduces the odometry_quality scalar while no GNSS
// update has landed, and raises Degraded once it stays below threshold
// for DegradedSustain, per spec.md §4.1.
func (f *EKF) decayQuality(nowMono int64) {
	const decayPerTick = 0.002
	f.quality = math.Max(0, f.quality-decayPerTick)

	now := time.Now()
	if f.quality < f.cfg.DegradedQualityThreshold {
		if f.qualityBelowSince.IsZero() {
			f.qualityBelowSince = now
		} else if now.Sub(f.qualityBelowSince) > f.cfg.DegradedSustain {
			f.degraded = true
		}
	} else {
		f.qualityBelowSince = time.Time{}
	}
}

// Degraded reports whether localization quality has been below
// threshold for longer than DegradedSustain.
func (f *EKF) Degraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.degraded
}

// Quality returns the current odometry_quality scalar in [0, 1].
func (f *EKF) Quality() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.quality
}

// Snapshot returns the current Pose. The covariance is copied out so
// callers can't observe (or retain references into) filter-internal
// mutable state.
func (f *EKF) Snapshot(nowMono int64) types.Pose {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var cov [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			cov[i][j] = f.cov.At(i, j)
		}
	}

	return types.Pose{
		X:             f.state.AtVec(stX),
		Y:             f.state.AtVec(stY),
		Theta:         f.state.AtVec(stTheta),
		Linear:        f.state.AtVec(stV),
		Angular:       f.state.AtVec(stOmega),
		Cov:           cov,
		UpdatedAtMono: nowMono,
	}
}

// symmetrize folds a Dense covariance back into a SymDense, averaging
// off-diagonal elements to guard against asymmetry from floating-point
// error, and optionally adds a diagonal process-noise vector.
func symmetrize(m *mat.Dense, addDiag []float64) *mat.SymDense {
	n, _ := m.Dims()
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			if i == j && addDiag != nil {
				v += addDiag[i]
			}
			data[i*n+j] = v
			data[j*n+i] = v
		}
	}
	return mat.NewSymDense(n, data)
}
