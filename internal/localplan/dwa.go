// Package localplan implements the Dynamic Window Approach local
// planner (C4): each control tick it samples admissible velocities,
// forward-simulates and scores them, and emits a single MotionCommand
// that progresses along the active Path while avoiding locally
// observed obstacles.
package localplan

import (
	"math"
	"time"

	"github.com/yusuftiryaki/mower/internal/geo"
	"github.com/yusuftiryaki/mower/internal/types"
)

// Mode selects one of four operating profiles: SpeedFactor scales the
// sampling window's top linear speed and SafetyFactor scales the
// clearance a trajectory must keep beyond its braking distance. The
// acceleration limits and the obstacle weight in the score are the same
// in every mode.
type Mode string

const (
	ModeNormal       Mode = "normal"
	ModeConservative Mode = "conservative"
	ModeAggressive   Mode = "aggressive"
	// ModeEmergency holds zero velocity and is only selectable by the
	// safety supervisor, never by the planner itself.
	ModeEmergency Mode = "emergency"
)

// Profile is one navigation mode's tuning, sourced from
// dynamic_obstacle_avoidance.navigation_modes in config.
type Profile struct {
	SpeedFactor  float64
	SafetyFactor float64
}

// Weights scores a sampled trajectory's heading/obstacle/velocity/
// smoothness terms.
type Weights struct {
	Heading    float64
	Obstacle   float64
	Velocity   float64
	Smoothness float64
}

// Limits are the vehicle's kinodynamic bounds.
type Limits struct {
	MaxLinearSpeed  float64
	MaxAngularSpeed float64
	MaxLinearAccel  float64
	MaxAngularAccel float64
	Radius          float64
}

// Config bundles everything DWA needs each tick.
type Config struct {
	VelocityResolution float64
	AngularResolution  float64
	TimeHorizon        float64
	Dt                 float64
	Weights            Weights
	Limits             Limits
	Profiles           map[Mode]Profile
	WaypointTolerance  float64
	StuckLimit         int
	BrakingDistance    float64
}

// Obstacle is a locally observed obstruction in the local frame.
type Obstacle struct {
	X, Y   float64
	Radius float64
}

// Planner holds the state carried between ticks: the last issued
// command (for smoothness scoring and tie-breaking) and the stuck
// counter.
type Planner struct {
	cfg          Config
	lastLinear   float64
	lastAngular  float64
	stuckCounter int
}

// NewPlanner builds a Planner with no prior command.
func NewPlanner(cfg Config) *Planner {
	return &Planner{cfg: cfg}
}

// Result is one tick's outcome.
type Result struct {
	Command      types.MotionCommand
	GoalReached  bool
	Stuck        bool
	ReplanNeeded bool
}

// Tick produces one MotionCommand that advances path from pose,
// avoiding obstacles, under the given mode. path's cursor is advanced
// in place when the current waypoint is reached.
func (p *Planner) Tick(pose types.Pose, path *types.Path, obstacles []Obstacle, mode Mode, nowMono int64) Result {
	if path.Advance(pose.X, pose.Y) {
		// Cursor advanced; re-check for exhaustion below.
	}
	if path.Done() {
		p.stuckCounter = 0
		return Result{Command: p.zero(nowMono), GoalReached: true}
	}

	if mode == ModeEmergency {
		p.lastLinear, p.lastAngular = 0, 0
		return Result{Command: p.zero(nowMono)}
	}

	waypoint, _ := path.Current()
	profile := p.cfg.Profiles[mode]
	if profile.SpeedFactor == 0 {
		profile = Profile{SpeedFactor: 1, SafetyFactor: 1}
	}

	best, ok := p.search(pose, waypoint, obstacles, profile)
	if !ok {
		p.stuckCounter++
		p.lastLinear, p.lastAngular = 0, 0
		return Result{
			Command:      p.zero(nowMono),
			Stuck:        true,
			ReplanNeeded: p.stuckCounter >= p.cfg.StuckLimit,
		}
	}

	p.stuckCounter = 0
	p.lastLinear, p.lastAngular = best.linear, best.angular

	return Result{Command: types.MotionCommand{
		LinearVelocity:  best.linear,
		AngularVelocity: best.angular,
		DeadlineMono:    nowMono + int64(p.cfg.Dt*float64(time.Second)),
	}}
}

func (p *Planner) zero(nowMono int64) types.MotionCommand {
	return types.MotionCommand{DeadlineMono: nowMono + int64(p.cfg.Dt*float64(time.Second))}
}

type sample struct {
	linear, angular float64
	score           float64
}

// search enumerates the admissible velocity window, scores each
// forward-simulated trajectory, and returns the winner.
func (p *Planner) search(pose types.Pose, waypoint types.Waypoint, obstacles []Obstacle, profile Profile) (sample, bool) {
	vMax := p.cfg.Limits.MaxLinearSpeed * profile.SpeedFactor
	wMax := p.cfg.Limits.MaxAngularSpeed

	dt := p.cfg.Dt
	vLow := math.Max(0, pose.Linear-p.cfg.Limits.MaxLinearAccel*dt)
	vHigh := math.Min(vMax, pose.Linear+p.cfg.Limits.MaxLinearAccel*dt)
	wLow := math.Max(-wMax, pose.Angular-p.cfg.Limits.MaxAngularAccel*dt)
	wHigh := math.Min(wMax, pose.Angular+p.cfg.Limits.MaxAngularAccel*dt)

	var best sample
	bestScore := math.Inf(-1)
	found := false

	if p.cfg.VelocityResolution <= 0 || p.cfg.AngularResolution <= 0 {
		return sample{}, false
	}

	for v := vLow; v <= vHigh+1e-9; v += p.cfg.VelocityResolution {
		for w := wLow; w <= wHigh+1e-9; w += p.cfg.AngularResolution {
			traj := simulate(pose, v, w, p.cfg.TimeHorizon, dt)
			clearance := minClearance(traj, obstacles, p.cfg.Limits.Radius)
			brakingDistance := (v * v) / (2 * math.Max(p.cfg.Limits.MaxLinearAccel, 1e-6))
			if clearance < brakingDistance*profile.SafetyFactor {
				continue
			}

			score := p.score(traj, waypoint, clearance, v, vMax)
			if score > bestScore || (score == bestScore && continuityBetter(v, w, best, p.lastLinear, p.lastAngular, found)) {
				bestScore = score
				best = sample{linear: v, angular: w, score: score}
				found = true
			}
		}
	}

	return best, found
}

// continuityBetter breaks exact ties by preferring the sample closest
// to the last issued command, per spec.md §4.3's tie-breaking rule.
func continuityBetter(v, w float64, current sample, lastV, lastW float64, haveCurrent bool) bool {
	if !haveCurrent {
		return true
	}
	distNew := math.Hypot(v-lastV, w-lastW)
	distCur := math.Hypot(current.linear-lastV, current.angular-lastW)
	return distNew < distCur
}

type trajPoint struct{ x, y, theta float64 }

func simulate(pose types.Pose, v, w, horizon, dt float64) []trajPoint {
	x, y, theta := pose.X, pose.Y, pose.Theta
	var traj []trajPoint
	for t := 0.0; t < horizon; t += dt {
		x += v * math.Cos(theta) * dt
		y += v * math.Sin(theta) * dt
		theta = geo.NormalizeAngle(theta + w*dt)
		traj = append(traj, trajPoint{x, y, theta})
	}
	return traj
}

func minClearance(traj []trajPoint, obstacles []Obstacle, robotRadius float64) float64 {
	if len(obstacles) == 0 {
		return math.Inf(1)
	}
	min := math.Inf(1)
	for _, pt := range traj {
		for _, o := range obstacles {
			d := math.Hypot(pt.x-o.X, pt.y-o.Y) - o.Radius - robotRadius
			if d < min {
				min = d
			}
		}
	}
	return min
}

const clearanceCap = 3.0

// score weights heading/obstacle/velocity/smoothness per spec.md §4.3.
func (p *Planner) score(traj []trajPoint, waypoint types.Waypoint, clearance, v, vMax float64) float64 {
	if len(traj) == 0 {
		return math.Inf(-1)
	}
	end := traj[len(traj)-1]
	bearingToGoal := math.Atan2(waypoint.Y-end.y, waypoint.X-end.x)
	headingError := math.Abs(geo.NormalizeAngle(bearingToGoal - end.theta))
	headingScore := 1 - headingError/math.Pi

	obstacleScore := math.Min(clearance, clearanceCap) / clearanceCap

	velocityScore := 0.0
	if vMax > 0 {
		velocityScore = v / vMax
	}

	smoothnessScore := -math.Hypot(v-p.lastLinear, 0) // linear continuity term

	w := p.cfg.Weights
	return w.Heading*headingScore + w.Obstacle*obstacleScore + w.Velocity*velocityScore + w.Smoothness*smoothnessScore
}
