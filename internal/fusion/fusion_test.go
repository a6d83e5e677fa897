package fusion

import (
	"context"
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/yusuftiryaki/mower/internal/hal"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(testWriter{})
	return l.WithField("component", "fusion_test")
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func baseConfig() FusionConfig {
	cfg := DefaultFusionConfig()
	cfg.WheelDiameter = 0.065
	cfg.WheelBase = 0.235
	cfg.PulsesPerRevolution = 1000
	return cfg
}

// TestStraightLineOdometry is scenario 1 from spec.md §8: both encoders
// issue 1000 ticks over 5s with zero IMU yaw, starting at the origin.
func TestStraightLineOdometry(t *testing.T) {
	ekf := NewEKF(baseConfig(), testLogger())
	ctx := context.Background()

	// Baseline call establishes the previous-tick reference.
	if err := ekf.Predict(ctx, hal.EncoderReading{Left: 0, Right: 0}, hal.ImuSample{}, 0.01, 0); err != nil {
		t.Fatalf("baseline Predict: %v", err)
	}

	if err := ekf.Predict(ctx, hal.EncoderReading{Left: 1000, Right: 1000}, hal.ImuSample{}, 5.0, int64(5*1e9)); err != nil {
		t.Fatalf("Predict: %v", err)
	}

	pose := ekf.Snapshot(int64(5 * 1e9))
	if math.Abs(pose.X-0.204) > 0.002 {
		t.Errorf("x = %v, want ~0.204 within 2mm", pose.X)
	}
	if math.Abs(pose.Y) > 0.002 {
		t.Errorf("y = %v, want ~0", pose.Y)
	}
	if math.Abs(pose.Theta) > 0.002 {
		t.Errorf("theta = %v, want ~0", pose.Theta)
	}
}

// TestInPlaceTurn is scenario 2 from spec.md §8: left +500, right -500,
// wheel_base = 0.235, with the IMU reporting the matching yaw rate,
// expecting |delta theta| ~= 0.868 rad.
func TestInPlaceTurn(t *testing.T) {
	ekf := NewEKF(baseConfig(), testLogger())
	ctx := context.Background()

	if err := ekf.Predict(ctx, hal.EncoderReading{Left: 0, Right: 0}, hal.ImuSample{}, 0.01, 0); err != nil {
		t.Fatalf("baseline Predict: %v", err)
	}
	if err := ekf.Predict(ctx, hal.EncoderReading{Left: 500, Right: -500}, hal.ImuSample{AngularRateZ: -0.868}, 1.0, int64(1e9)); err != nil {
		t.Fatalf("Predict: %v", err)
	}

	pose := ekf.Snapshot(int64(1e9))
	wantDeg := 0.868
	gotDeg := 2 * math.Pi / 180 // 2 degrees, the tolerance from spec.md §8
	if math.Abs(math.Abs(pose.Theta)-wantDeg) > gotDeg {
		t.Errorf("|theta| = %v, want ~%v within 2deg", math.Abs(pose.Theta), wantDeg)
	}
}

func TestEKF_ThetaStaysNormalized(t *testing.T) {
	ekf := NewEKF(baseConfig(), testLogger())
	ctx := context.Background()

	left, right := int64(0), int64(0)
	if err := ekf.Predict(ctx, hal.EncoderReading{Left: left, Right: right}, hal.ImuSample{AngularRateZ: 10}, 0.01, 0); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for tick := int64(1); tick <= 200; tick++ {
		left += 5
		right += 5
		if err := ekf.Predict(ctx, hal.EncoderReading{Left: left, Right: right}, hal.ImuSample{AngularRateZ: 10}, 0.05, tick*int64(50*1e6)); err != nil {
			t.Fatalf("Predict tick %d: %v", tick, err)
		}
		pose := ekf.Snapshot(tick * int64(50*1e6))
		if pose.Theta <= -math.Pi || pose.Theta > math.Pi {
			t.Fatalf("theta out of (-pi, pi] at tick %d: %v", tick, pose.Theta)
		}
	}
}

func TestEKF_CovarianceStaysSymmetric(t *testing.T) {
	ekf := NewEKF(baseConfig(), testLogger())
	ctx := context.Background()
	if err := ekf.Predict(ctx, hal.EncoderReading{Left: 100, Right: 120}, hal.ImuSample{AngularRateZ: 0.2}, 0.1, int64(1e8)); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	pose := ekf.Snapshot(int64(1e8))
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(pose.Cov[i][j]-pose.Cov[j][i]) > 1e-9 {
				t.Errorf("covariance not symmetric at (%d,%d): %v vs %v", i, j, pose.Cov[i][j], pose.Cov[j][i])
			}
		}
	}
}

func TestEKF_FirstGNSSFixAnchorsAndCollapsesCovariance(t *testing.T) {
	ekf := NewEKF(baseConfig(), testLogger())

	before := ekf.Snapshot(0)
	if before.Cov[0][0] < 100 {
		t.Fatalf("expected large initial covariance, got %v", before.Cov[0][0])
	}

	if err := ekf.UpdateGNSS(hal.GnssFix{Latitude: 41.0, Longitude: 29.0, FixQuality: 2, HDOP: 1.0}); err != nil {
		t.Fatalf("UpdateGNSS: %v", err)
	}

	after := ekf.Snapshot(0)
	if after.X != 0 || after.Y != 0 {
		t.Errorf("first fix should anchor at (0,0), got (%v, %v)", after.X, after.Y)
	}
	if after.Cov[0][0] >= before.Cov[0][0] {
		t.Errorf("expected covariance to collapse after first fix, got %v (was %v)", after.Cov[0][0], before.Cov[0][0])
	}
}

func TestEKF_UpdateGNSS_IgnoresHighHDOP(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxHDOP = 5.0
	ekf := NewEKF(cfg, testLogger())

	if err := ekf.UpdateGNSS(hal.GnssFix{Latitude: 41.0, Longitude: 29.0, FixQuality: 2, HDOP: 1.0}); err != nil {
		t.Fatalf("UpdateGNSS: %v", err)
	}
	before := ekf.Snapshot(0)

	// HDOP at/above the bound must be ignored outright.
	if err := ekf.UpdateGNSS(hal.GnssFix{Latitude: 41.01, Longitude: 29.01, FixQuality: 2, HDOP: 5.0}); err != nil {
		t.Fatalf("UpdateGNSS: %v", err)
	}
	after := ekf.Snapshot(0)
	if before != after {
		t.Errorf("state changed despite HDOP at bound: before %+v after %+v", before, after)
	}
}

func TestEKF_UpdateGNSS_RejectsOutlier(t *testing.T) {
	ekf := NewEKF(baseConfig(), testLogger())
	if err := ekf.UpdateGNSS(hal.GnssFix{Latitude: 41.0, Longitude: 29.0, FixQuality: 2, HDOP: 1.0}); err != nil {
		t.Fatalf("anchoring UpdateGNSS: %v", err)
	}

	// A fix several kilometers away is an outlier given the tight
	// covariance right after anchoring.
	err := ekf.UpdateGNSS(hal.GnssFix{Latitude: 42.5, Longitude: 30.5, FixQuality: 2, HDOP: 1.0})
	if err == nil {
		t.Fatal("expected outlier rejection error")
	}
}
