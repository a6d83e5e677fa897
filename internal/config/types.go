// Package config defines the Go structs mirroring the control stack's
// YAML configuration surface, and the validation that turns the
// behavioral contracts attached to each key in the external-interfaces
// section into fail-fast startup errors.
package config

import "github.com/yusuftiryaki/mower/internal/geo"

// Config is the root of the on-disk configuration tree.
type Config struct {
	Robot                     Robot                     `yaml:"robot"`
	Simulation                Simulation                `yaml:"simulation"`
	Navigation                Navigation                `yaml:"navigation"`
	Charging                  Charging                  `yaml:"charging"`
	Safety                    Safety                    `yaml:"safety"`
	DynamicObstacleAvoidance  DynamicObstacleAvoidance  `yaml:"dynamic_obstacle_avoidance"`
}

// Robot identifies the unit in logs only; it has no behavioral contract.
type Robot struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Simulation selects whether hardware ports bind to synthetic generators.
type Simulation struct {
	Enabled bool `yaml:"enabled"`
}

// Navigation covers drivetrain geometry, the fusion filter's tuning
// scalars, path-planning resolution, the mowing mission's coverage
// parameters, and the boundary polygon plus its safety margins.
type Navigation struct {
	WheelDiameter    float64          `yaml:"wheel_diameter"`
	WheelBase        float64          `yaml:"wheel_base"`
	Kalman           Kalman           `yaml:"kalman"`
	PathPlanning     PathPlanning     `yaml:"path_planning"`
	Missions         Missions         `yaml:"missions"`
	BoundaryCoords   []geo.Point      `yaml:"boundary_coordinates"`
	BoundarySafety   BoundarySafety   `yaml:"boundary_safety"`
}

// Kalman holds scalar multipliers on the EKF's model/measurement
// covariances; see internal/fusion for how they're applied.
type Kalman struct {
	ProcessNoise     float64 `yaml:"process_noise"`
	MeasurementNoise float64 `yaml:"measurement_noise"`
}

// PathPlanning tunes the occupancy grid.
type PathPlanning struct {
	GridResolution  float64 `yaml:"grid_resolution"`
	ObstaclePadding float64 `yaml:"obstacle_padding"`
}

// Missions groups mission-specific parameters; only mowing exists today.
type Missions struct {
	Mowing Mowing `yaml:"mowing"`
}

// Mowing is the coverage mission's geometry.
type Mowing struct {
	Overlap    float64 `yaml:"overlap"`
	Speed      float64 `yaml:"speed"`
	BrushWidth float64 `yaml:"brush_width"`
}

// BoundarySafety governs the margin the planner and supervisor keep
// from the boundary polygon.
type BoundarySafety struct {
	BufferDistance  float64 `yaml:"buffer_distance"`
	WarningDistance float64 `yaml:"warning_distance"`
	MaxDeviation    float64 `yaml:"max_deviation"`
	CheckFrequency  float64 `yaml:"check_frequency"`
}

// Charging covers both the GNSS-guided approach and the fiducial-marker
// precision docking phases, plus the power-sensor contact confirmation.
type Charging struct {
	GpsDock     GpsDock     `yaml:"gps_dock"`
	Apriltag    Apriltag    `yaml:"apriltag"`
	PowerSensor PowerSensor `yaml:"power_sensor"`
	Docking     Docking     `yaml:"docking"`
}

// Docking tunes the state machine's timeouts, search behavior, and
// retry policy; fields not already covered by GpsDock/Apriltag/
// PowerSensor's own phase thresholds.
type Docking struct {
	RotationSpeed            float64 `yaml:"rotation_speed"`
	SearchTimeout            float64 `yaml:"search_timeout"`            // seconds
	PreciseThreshold         float64 `yaml:"precise_threshold"`         // meters; COARSE_APPROACH -> PRECISION
	LostTimeout              float64 `yaml:"lost_timeout"`              // seconds
	ContactConsecutiveSamples int    `yaml:"contact_consecutive_samples"`
	ContactTimeout           float64 `yaml:"contact_timeout"` // seconds
	RetryBudget              int     `yaml:"retry_budget"`
}

// GpsDock is the dock's geodetic location and the GNSS-phase thresholds.
type GpsDock struct {
	RawLatitude             float64         `yaml:"latitude"`
	RawLongitude            float64         `yaml:"longitude"`
	AccuracyRadius          float64         `yaml:"accuracy_radius"`
	PreciseApproachDistance float64         `yaml:"precise_approach_distance"`
	MediumDistanceThreshold float64         `yaml:"medium_distance_threshold"`
	ApriltagDetectionRange  float64         `yaml:"apriltag_detection_range"`
	ApproachSpeeds          ApproachSpeeds  `yaml:"approach_speeds"`
}

// Location builds the geo.Point from the raw lat/lon fields; config
// files express the dock location as flat latitude/longitude keys, not
// a nested point, so this adapts between the two shapes.
func (d GpsDock) Location() geo.Point {
	return geo.Point{Latitude: d.RawLatitude, Longitude: d.RawLongitude}
}

// ApproachSpeeds are the step-down speeds used as the dock is neared.
type ApproachSpeeds struct {
	Normal    float64 `yaml:"normal"`
	Slow      float64 `yaml:"slow"`
	VerySlow  float64 `yaml:"very_slow"`
	UltraSlow float64 `yaml:"ultra_slow"`
	Precise   float64 `yaml:"precise"`
}

// Apriltag describes the dock's fiducial marker and the camera
// calibration used to estimate range/bearing to it. Field names follow
// the upstream config vocabulary verbatim (sarj_istasyonu_tag_id =
// "charging station tag id", tag_boyutu = "tag size") since these are
// the literal YAML keys operators already maintain.
type Apriltag struct {
	SarjIstasyonuTagID int         `yaml:"sarj_istasyonu_tag_id"`
	TagBoyutu          float64     `yaml:"tag_boyutu"`
	KameraMatrix       [3][3]float64 `yaml:"kamera_matrix"`
	DistortionCoeffs   [5]float64  `yaml:"distortion_coeffs"`
	Detection          Detection   `yaml:"detection"`
	Tolerances         Tolerances  `yaml:"tolerances"`
}

// Detection gates which marker observations are trusted.
type Detection struct {
	MinConfidence         float64 `yaml:"min_confidence"`
	MaxDetectionDistance  float64 `yaml:"max_detection_distance"`
	MinMarkerPerimeterRate float64 `yaml:"min_marker_perimeter_rate"`
	MaxMarkerPerimeterRate float64 `yaml:"max_marker_perimeter_rate"`
}

// Tolerances bound the precision-docking phase's acceptance windows.
type Tolerances struct {
	HedefMesafe      float64 `yaml:"hedef_mesafe"`      // target range, meters
	HassasMesafe     float64 `yaml:"hassas_mesafe"`     // precision range, meters
	AciToleransi     float64 `yaml:"aci_toleransi"`     // angle tolerance, degrees
	PozisyonToleransi float64 `yaml:"pozisyon_toleransi"` // position tolerance, meters
}

// PowerSensor gates contact confirmation during the CONTACT dock phase.
type PowerSensor struct {
	SarjAkimiEsigi     float64 `yaml:"sarj_akimi_esigi"`      // charge current threshold, amps
	BaglantiVoltajEsigi float64 `yaml:"baglanti_voltaj_esigi"` // connection voltage threshold, volts
}

// Safety holds the supervisor's hard interlock thresholds.
type Safety struct {
	TiltControl        TiltControl        `yaml:"tilt_control"`
	Watchdog           Watchdog           `yaml:"watchdog"`
	Bumper             Bumper             `yaml:"bumper"`
	CollisionDetection CollisionDetection `yaml:"collision_detection"`
	BatterySafety      BatterySafety      `yaml:"battery_safety"`
}

type TiltControl struct {
	MaxTiltAngle     float64 `yaml:"max_tilt_angle"`     // degrees
	WarningThreshold float64 `yaml:"warning_threshold"`  // fraction of max_tilt_angle; exit gate
	DebounceTime     float64 `yaml:"tilt_debounce"`      // seconds tilt must stay below the warning gate before release
}

type Watchdog struct {
	Timeout float64 `yaml:"timeout"` // seconds
}

// Bumper configures the BUMPER_HOLD dwell after a bumper-hit event.
type Bumper struct {
	HoldTime float64 `yaml:"bumper_hold_time"` // seconds
}

type CollisionDetection struct {
	DistanceThreshold   float64 `yaml:"distance_threshold"`    // meters; hard, see DESIGN.md
	EmergencyAngularLimit float64 `yaml:"emergency_angular_limit"` // rad/s bound applied when collision is imminent
}

type BatterySafety struct {
	MinBatteryVoltage  float64 `yaml:"min_battery_voltage"`
	RapidDrainThreshold float64 `yaml:"rapid_drain_threshold"`
	MaxCurrentDraw     float64 `yaml:"max_current_draw"`
}

// DynamicObstacleAvoidance configures the local planner (C4, DWA).
type DynamicObstacleAvoidance struct {
	DWA            DWA            `yaml:"dwa"`
	RobotPhysics   RobotPhysics   `yaml:"robot_physics"`
	NavigationModes NavigationModes `yaml:"navigation_modes"`
	Performance    Performance    `yaml:"performance"`
}

type DWA struct {
	VelocityResolution    float64    `yaml:"velocity_resolution"`
	AngularResolution     float64    `yaml:"angular_resolution"`
	TimeHorizon           float64    `yaml:"time_horizon"`
	Dt                    float64    `yaml:"dt"`
	// EmergencyBrakeDistance is the local planner's soft setpoint; per
	// DESIGN.md's resolution of the source's two overlapping distance
	// fields, this must be >= safety.collision_detection.distance_threshold.
	EmergencyBrakeDistance float64   `yaml:"emergency_brake_distance"`
	Weights               DWAWeights `yaml:"weights"`
}

type DWAWeights struct {
	Heading    float64 `yaml:"heading"`
	Obstacle   float64 `yaml:"obstacle"`
	Velocity   float64 `yaml:"velocity"`
	Smoothness float64 `yaml:"smoothness"`
}

type RobotPhysics struct {
	Radius         float64 `yaml:"radius"`
	MaxLinearSpeed float64 `yaml:"max_linear_speed"`
	MaxAngularSpeed float64 `yaml:"max_angular_speed"`
	MaxLinearAccel float64 `yaml:"max_linear_accel"`
	MaxAngularAccel float64 `yaml:"max_angular_accel"`
}

// NavigationModes parameterizes the four DWA operating profiles named
// in the spec: normal, conservative, aggressive, emergency.
type NavigationModes struct {
	Normal       ModeProfile `yaml:"normal"`
	Conservative ModeProfile `yaml:"conservative"`
	Aggressive   ModeProfile `yaml:"aggressive"`
	Emergency    ModeProfile `yaml:"emergency"`
}

type ModeProfile struct {
	SpeedFactor  float64 `yaml:"speed_factor"`
	SafetyFactor float64 `yaml:"safety_factor"`
}

type Performance struct {
	MaxReplanningFrequency float64 `yaml:"max_replanning_frequency"`
	StuckDetectionLimit    float64 `yaml:"stuck_detection_limit"`
	WaypointTolerance      float64 `yaml:"waypoint_tolerance"`
}
