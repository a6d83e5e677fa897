package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yusuftiryaki/mower/internal/errs"
)

// Load reads and validates a configuration file. envOverlay, if
// non-empty, is read after base and decoded onto it, so every key the
// overlay file sets wins and every key it omits keeps the base value
// (environment-specific overrides, e.g. configs/config.production.yaml
// over configs/config.yaml).
func Load(basePath, envOverlay string) (*Config, error) {
	cfg, err := loadFile(basePath)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "config.Load", "reading base config", err)
	}

	if envOverlay != "" {
		overlay, err := os.ReadFile(envOverlay)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "config.Load", "reading overlay config", err)
		}
		if err := mergeYAML(cfg, overlay); err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "config.Load", "parsing overlay config", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// mergeYAML unmarshals the overlay document onto base, so any key the
// overlay sets wins and any key it omits keeps the base value.
// yaml.v3 unmarshal-onto-existing-struct semantics give us this for
// free: only present keys touch the destination fields.
func mergeYAML(base *Config, overlay []byte) error {
	return yaml.Unmarshal(overlay, base)
}

// Validate checks the behavioral contracts named in the external
// interfaces section: out-of-range values fail fast at startup rather
// than producing silently wrong motion.
func (c *Config) Validate() error {
	if c.Navigation.WheelBase <= 0 {
		return errs.New(errs.KindConfiguration, "config.Validate", "navigation.wheel_base must be > 0")
	}
	if c.Navigation.WheelDiameter <= 0 {
		return errs.New(errs.KindConfiguration, "config.Validate", "navigation.wheel_diameter must be > 0")
	}
	if c.Navigation.PathPlanning.GridResolution <= 0 {
		return errs.New(errs.KindConfiguration, "config.Validate", "navigation.path_planning.grid_resolution must be > 0")
	}
	if len(c.Navigation.BoundaryCoords) < 3 {
		return errs.New(errs.KindConfiguration, "config.Validate", "navigation.boundary_coordinates must describe a closed polygon with at least 3 vertices")
	}
	for _, p := range c.Navigation.BoundaryCoords {
		if !p.Valid() {
			return errs.New(errs.KindConfiguration, "config.Validate", "navigation.boundary_coordinates contains an out-of-range latitude/longitude")
		}
	}
	if c.DynamicObstacleAvoidance.RobotPhysics.MaxLinearSpeed <= 0 {
		return errs.New(errs.KindConfiguration, "config.Validate", "dynamic_obstacle_avoidance.robot_physics.max_linear_speed must be > 0")
	}
	if c.Safety.Watchdog.Timeout <= 0 {
		return errs.New(errs.KindConfiguration, "config.Validate", "safety.watchdog.timeout must be > 0")
	}
	if c.Safety.CollisionDetection.DistanceThreshold <= 0 {
		return errs.New(errs.KindConfiguration, "config.Validate", "safety.collision_detection.distance_threshold must be > 0")
	}
	// Open question resolved per DESIGN.md: the supervisor's collision
	// threshold is the hard limit, the DWA's emergency brake distance is
	// the local planner's soft setpoint, and supervisor <= DWA must hold.
	if c.DynamicObstacleAvoidance.DWA.EmergencyBrakeDistance > 0 &&
		c.Safety.CollisionDetection.DistanceThreshold > c.DynamicObstacleAvoidance.DWA.EmergencyBrakeDistance {
		return errs.New(errs.KindConfiguration, "config.Validate",
			"safety.collision_detection.distance_threshold must be <= dynamic_obstacle_avoidance.dwa.emergency_brake_distance")
	}
	return nil
}
