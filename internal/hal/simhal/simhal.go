// Package simhal provides deterministic, software-only implementations
// of every hal capability interface, selected when simulation.enabled
// is set and used throughout this module's own tests. It mirrors the
// SimulatorMock role in the wider fleet's simulation harness, resolved
// once at startup rather than branching on a mode string at call sites.
package simhal

import (
	"context"
	"sync"
	"time"

	"github.com/yusuftiryaki/mower/internal/hal"
)

func nowMono() int64 { return time.Now().UnixNano() }

func ok() hal.Health { return hal.Health{LastUpdateMono: nowMono(), OK: true} }

// Drive is a no-op differential drive that records the last commanded
// velocity, useful for asserting what the local planner issued.
type Drive struct {
	mu      sync.Mutex
	linear  float64
	angular float64
	health  hal.Health
}

func NewDrive() *Drive { return &Drive{health: ok()} }

func (d *Drive) SetWheelPowers(ctx context.Context, p hal.WheelPowers) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = ok()
	return nil
}

func (d *Drive) SetVelocity(ctx context.Context, linear, angular float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.linear, d.angular = linear, angular
	d.health = ok()
	return nil
}

// Last returns the most recently commanded velocity, for test assertions.
func (d *Drive) Last() (linear, angular float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.linear, d.angular
}

func (d *Drive) Health() hal.Health {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.health
}

// Encoders generates straight-line ticks at a fixed rate when driven by
// Advance, standing in for a scripted encoder sequence in tests.
type Encoders struct {
	mu                  sync.Mutex
	left                int64
	right               int64
	lastLeft, lastRight int64 // counts reported by the previous Read
	health              hal.Health
}

func NewEncoders() *Encoders { return &Encoders{health: ok()} }

// Advance adds deltaLeft/deltaRight ticks to the cumulative counts.
func (e *Encoders) Advance(deltaLeft, deltaRight int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.left += deltaLeft
	e.right += deltaRight
}

func (e *Encoders) Read(ctx context.Context) (hal.EncoderReading, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reading := hal.EncoderReading{
		Left: e.left, Right: e.right,
		DeltaLeft: e.left - e.lastLeft, DeltaRight: e.right - e.lastRight,
		Timestamp: time.Now(),
	}
	e.lastLeft, e.lastRight = e.left, e.right
	e.health = ok()
	return reading, nil
}

func (e *Encoders) Health() hal.Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

// Imu reports a constant heading rate, set via SetYawRate.
type Imu struct {
	mu      sync.Mutex
	yawRate float64
	health  hal.Health
}

func NewImu() *Imu { return &Imu{health: ok()} }

func (i *Imu) SetYawRate(rate float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.yawRate = rate
}

func (i *Imu) Read(ctx context.Context) (hal.ImuSample, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	sample := hal.ImuSample{AngularRateZ: i.yawRate, Timestamp: time.Now()}
	i.health = ok()
	return sample, nil
}

func (i *Imu) Health() hal.Health {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.health
}

// Gnss replays a scripted sequence of fixes, one per Read call, holding
// the last fix once the script is exhausted.
type Gnss struct {
	mu     sync.Mutex
	script []hal.GnssFix
	idx    int
	health hal.Health
}

func NewGnss(script []hal.GnssFix) *Gnss {
	return &Gnss{script: script, health: ok()}
}

func (g *Gnss) Read(ctx context.Context) (hal.GnssFix, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.script) == 0 {
		g.health = hal.Health{LastUpdateMono: nowMono(), OK: false}
		return hal.GnssFix{}, nil
	}
	fix := g.script[g.idx]
	if g.idx < len(g.script)-1 {
		g.idx++
	}
	g.health = ok()
	return fix, nil
}

func (g *Gnss) Health() hal.Health {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.health
}

// Digital is a fake e-stop/bumper source toggled directly by tests.
type Digital struct {
	mu     sync.Mutex
	state  hal.DigitalState
	health hal.Health
}

func NewDigital() *Digital { return &Digital{health: ok()} }

func (d *Digital) Set(state hal.DigitalState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
}

func (d *Digital) Read(ctx context.Context) (hal.DigitalState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = ok()
	return d.state, nil
}

func (d *Digital) Health() hal.Health {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.health
}

// Power is a fake bus sense channel set directly by tests.
type Power struct {
	mu      sync.Mutex
	reading hal.PowerReading
	health  hal.Health
}

func NewPower(voltage, current float64) *Power {
	return &Power{reading: hal.PowerReading{Voltage: voltage, Current: current}, health: ok()}
}

func (p *Power) Set(voltage, current float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reading = hal.PowerReading{Voltage: voltage, Current: current, Timestamp: time.Now()}
}

func (p *Power) Read(ctx context.Context) (hal.PowerReading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = ok()
	return p.reading, nil
}

func (p *Power) Health() hal.Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// Outputs records the last commanded buzzer/aux-motor state.
type Outputs struct {
	mu     sync.Mutex
	buzzer bool
	aux    map[string]float64
	health hal.Health
}

func NewOutputs() *Outputs {
	return &Outputs{aux: make(map[string]float64), health: ok()}
}

func (o *Outputs) SetBuzzer(ctx context.Context, on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buzzer = on
	o.health = ok()
	return nil
}

func (o *Outputs) SetAuxMotor(ctx context.Context, name string, power float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aux[name] = power
	o.health = ok()
	return nil
}

func (o *Outputs) Health() hal.Health {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.health
}

// NewPorts assembles a complete, healthy simulated hal.Ports bundle
// with no GNSS script and a dock-bus power sensor defaulted to zero, so
// cmd/mowerd has a runnable path without real hardware.
func NewPorts() hal.Ports {
	return hal.Ports{
		Drive:    NewDrive(),
		Encoders: NewEncoders(),
		Imu:      NewImu(),
		Gnss:     NewGnss(nil),
		Camera:   nil,
		Battery:  NewPower(24.0, 1.0),
		DockBus:  NewPower(0, 0),
		Digital:  NewDigital(),
		Outputs:  NewOutputs(),
	}
}
