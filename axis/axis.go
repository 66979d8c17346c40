// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package axis holds the immutable machine description: which motors exist,
// how they are geared and wired, and how each one is homed.
package axis

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// ErrConfig is returned for a missing or invalid machine parameter.
var ErrConfig = errors.New("config error")

// Id names a physical motor (and the home sensor attached to it).
type Id string

const (
	X        Id = "x"
	YLeft    Id = "y-left"
	YRight   Id = "y-right"
	ZLift    Id = "z-lift"
	Rotation Id = "rotation"
)

// Ids lists every motor the machine may carry.
var Ids = []Id{X, YLeft, YRight, ZLift, Rotation}

// Group is a degree of freedom as seen by callers.
type Group string

const (
	GroupX Group = "X"
	GroupY Group = "Y"
	GroupZ Group = "Z"
	GroupR Group = "R"
)

// Groups lists the groups in interpolation order.
var Groups = []Group{GroupX, GroupY, GroupZ, GroupR}

var groupMotors = map[Group][]Id{
	GroupX: {X},
	GroupY: {YLeft, YRight},
	GroupZ: {ZLift},
	GroupR: {Rotation},
}

// Motors returns the motors driven by the group. The first motor is the one
// the group position is read from.
func (g Group) Motors() []Id {
	return groupMotors[g]
}

// Group returns the group the motor belongs to.
func (id Id) Group() Group {
	for g, m := range groupMotors {
		for _, v := range m {
			if v == id {
				return g
			}
		}
	}
	return ""
}

// ParseGroup accepts a group name in either case.
func ParseGroup(s string) (Group, error) {
	switch s {
	case "x", "X":
		return GroupX, nil
	case "y", "Y":
		return GroupY, nil
	case "z", "Z":
		return GroupZ, nil
	case "r", "R", "rot", "rotation":
		return GroupR, nil
	}
	return "", errors.Wrapf(ErrConfig, "unknown axis group %q", s)
}

// Limits is a closed travel range in engineering units.
type Limits struct {
	Min, Max float64
}

// Clamp returns v limited to the range.
func (l Limits) Clamp(v float64) float64 {
	return math.Max(l.Min, math.Min(l.Max, v))
}

// Pins is the wiring of one motor. Enable and Sensor are -1 when absent.
type Pins struct {
	Step, Dir, Enable int
	EnableActiveLow   bool
	Sensor            int
	SensorActiveLow   bool
}

// Config is the description of a single motor.
type Config struct {
	Id            Id
	StepsPerUnit  float64
	Invert        bool
	StepPeriod    time.Duration // Fastest rated period between steps
	HomeDir       int           // +1 or -1
	SeekPeriod    time.Duration
	VerifyPeriod  time.Duration
	BackOffPeriod time.Duration
	BackOff       float64
	BackOffSecond float64
	Clearance     float64
	SeekLimit     float64 // Maximum travel while searching for the sensor
	Limits        *Limits
	Debounce      time.Duration
	Readings      int // 0 uses the machine default
	Pins          Pins
}

// Steps converts a distance to a whole step count.
func (c *Config) Steps(dist float64) int {
	return int(math.Round(math.Abs(dist) * c.StepsPerUnit))
}

// StepDistance is the travel of a single step.
func (c *Config) StepDistance() float64 {
	return 1 / c.StepsPerUnit
}

// Machine is the complete machine description.
type Machine struct {
	Backend         string // rpio, cdev, sysfs or sim
	Chip            string
	PulseWidth      time.Duration
	PulseLow        time.Duration
	Readings        int
	RampFraction    float64
	RampMax         int
	RampFactor      float64
	Feed            float64 // Default feed in units/second, 0 runs at the rated period
	RepeatTolerance int     // Steps
	RepeatStrict    bool
	RealtimeCPU     int // -1 disables
	Axes            map[Id]*Config
}

// Axis returns the motor config, or nil if the motor is not fitted.
func (m *Machine) Axis(id Id) *Config {
	return m.Axes[id]
}

// HasGroup reports whether every motor of the group is configured.
func (m *Machine) HasGroup(g Group) bool {
	ids := g.Motors()
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if m.Axes[id] == nil {
			return false
		}
	}
	return true
}

// Limits returns a copy of the travel limits of the group.
func (m *Machine) Limits(g Group) (Limits, bool) {
	if !m.HasGroup(g) {
		return Limits{}, false
	}
	c := m.Axes[g.Motors()[0]]
	if c.Limits == nil {
		return Limits{}, false
	}
	return *c.Limits, true
}

// Groups returns the configured groups in interpolation order.
func (m *Machine) Groups() []Group {
	var gl []Group
	for _, g := range Groups {
		if m.HasGroup(g) {
			gl = append(gl, g)
		}
	}
	return gl
}

// Clone returns a deep copy.
func (m *Machine) Clone() *Machine {
	n := *m
	n.Axes = make(map[Id]*Config, len(m.Axes))
	for id, c := range m.Axes {
		cc := *c
		if c.Limits != nil {
			l := *c.Limits
			cc.Limits = &l
		}
		n.Axes[id] = &cc
	}
	return &n
}

// Validate checks that every motor carries the parameters motion needs.
func (m *Machine) Validate() error {
	if len(m.Axes) == 0 {
		return errors.Wrap(ErrConfig, "no motors configured")
	}
	if m.Readings < 1 {
		return errors.Wrapf(ErrConfig, "readings must be at least 1 (%d)", m.Readings)
	}
	if m.RampFraction < 0 || m.RampFraction > 0.5 {
		return errors.Wrapf(ErrConfig, "ramp fraction %g outside 0..0.5", m.RampFraction)
	}
	if m.RampMax < 0 || m.RampFactor < 0 || m.Feed < 0 || m.RepeatTolerance < 0 {
		return errors.Wrap(ErrConfig, "negative ramp, feed or repeat parameter")
	}
	ids := make([]string, 0, len(m.Axes))
	for id := range m.Axes {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, n := range ids {
		id := Id(n)
		c := m.Axes[id]
		if c.Id != id {
			return errors.Wrapf(ErrConfig, "%s: config filed under %q", c.Id, id)
		}
		if id.Group() == "" {
			return errors.Wrapf(ErrConfig, "unknown motor %q", id)
		}
		if err := c.validate(); err != nil {
			return errors.Wrapf(err, "%s", id)
		}
	}
	_, l := m.Axes[YLeft]
	_, r := m.Axes[YRight]
	if l != r {
		return errors.Wrap(ErrConfig, "Y group requires both y-left and y-right")
	}
	if l {
		a, b := m.Axes[YLeft], m.Axes[YRight]
		if a.StepsPerUnit != b.StepsPerUnit || a.HomeDir != b.HomeDir {
			return errors.Wrap(ErrConfig, "y-left and y-right disagree on steps or home direction")
		}
		if (a.Limits == nil) != (b.Limits == nil) || (a.Limits != nil && *a.Limits != *b.Limits) {
			return errors.Wrap(ErrConfig, "y-left and y-right disagree on limits")
		}
	}
	return nil
}

func (c *Config) validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"steps", c.StepsPerUnit},
		{"period", float64(c.StepPeriod)},
		{"seek_period", float64(c.SeekPeriod)},
		{"verify_period", float64(c.VerifyPeriod)},
		{"backoff_period", float64(c.BackOffPeriod)},
		{"backoff", c.BackOff},
		{"backoff second", c.BackOffSecond},
		{"clearance", c.Clearance},
		{"seek", c.SeekLimit},
	}
	for _, p := range positive {
		if !(p.v > 0) || math.IsInf(p.v, 0) {
			return errors.Wrapf(ErrConfig, "%s must be positive", p.name)
		}
	}
	if c.HomeDir != 1 && c.HomeDir != -1 {
		return errors.Wrapf(ErrConfig, "home direction must be 1 or -1 (%d)", c.HomeDir)
	}
	if c.Debounce < 0 || c.Readings < 0 {
		return errors.Wrap(ErrConfig, "negative debounce or readings")
	}
	if c.Limits != nil && c.Limits.Min >= c.Limits.Max {
		return errors.Wrapf(ErrConfig, "limits %g,%g are empty", c.Limits.Min, c.Limits.Max)
	}
	if c.Pins.Step < 0 || c.Pins.Dir < 0 {
		return errors.Wrap(ErrConfig, "step and dir pins are required")
	}
	return nil
}

// Default returns the fabric cutter as built: 60x40 inch bed, 80 steps/mm
// belts on X and Y, lead screw lift and a bladed rotation stage.
func Default() *Machine {
	m := &Machine{
		Backend:         "rpio",
		Chip:            "gpiochip0",
		PulseWidth:      5 * time.Microsecond,
		PulseLow:        5 * time.Microsecond,
		Readings:        2,
		RampFraction:    0.25,
		RampMax:         100,
		RampFactor:      1.0,
		RepeatTolerance: 4,
		RealtimeCPU:     -1,
		Axes:            make(map[Id]*Config),
	}
	belt := func(id Id, step, dir, en, hall int, debounce time.Duration, max float64) *Config {
		return &Config{
			Id:            id,
			StepsPerUnit:  2032,
			StepPeriod:    500 * time.Microsecond,
			HomeDir:       -1,
			SeekPeriod:    500 * time.Microsecond,
			VerifyPeriod:  2 * time.Millisecond,
			BackOffPeriod: time.Millisecond,
			BackOff:       0.197,
			BackOffSecond: 0.1,
			Clearance:     0.197,
			SeekLimit:     max + 4,
			Limits:        &Limits{0, max},
			Debounce:      debounce,
			Pins:          Pins{Step: step, Dir: dir, Enable: en, EnableActiveLow: true, Sensor: hall, SensorActiveLow: true},
		}
	}
	m.Axes[X] = belt(X, 24, 23, 9, 16, 15*time.Millisecond, 60)
	m.Axes[YLeft] = belt(YLeft, 22, 27, 17, 1, 10*time.Millisecond, 40)
	m.Axes[YRight] = belt(YRight, 6, 5, 10, 20, 10*time.Millisecond, 40)
	m.Axes[YRight].Invert = true
	m.Axes[ZLift] = &Config{
		Id:            ZLift,
		StepsPerUnit:  4064,
		StepPeriod:    500 * time.Microsecond,
		HomeDir:       1,
		SeekPeriod:    500 * time.Microsecond,
		VerifyPeriod:  2 * time.Millisecond,
		BackOffPeriod: time.Millisecond,
		BackOff:       0.1,
		BackOffSecond: 0.05,
		Clearance:     0.1,
		SeekLimit:     4,
		Limits:        &Limits{-3, 0},
		Debounce:      40 * time.Millisecond,
		Pins:          Pins{Step: 18, Dir: 7, Enable: 8, EnableActiveLow: true, Sensor: 25, SensorActiveLow: true},
	}
	m.Axes[Rotation] = &Config{
		Id:            Rotation,
		StepsPerUnit:  1600.0 / 360,
		StepPeriod:    time.Millisecond,
		HomeDir:       -1,
		SeekPeriod:    time.Millisecond,
		VerifyPeriod:  4 * time.Millisecond,
		BackOffPeriod: 2 * time.Millisecond,
		BackOff:       10,
		BackOffSecond: 5,
		Clearance:     10,
		SeekLimit:     400,
		Debounce:      25 * time.Millisecond,
		Pins:          Pins{Step: 26, Dir: 19, Enable: 13, EnableActiveLow: true, Sensor: 12, SensorActiveLow: true},
	}
	return m
}

func (id Id) String() string {
	return string(id)
}

func (g Group) String() string {
	return string(g)
}

// Describe gives a one line summary of a motor, used by the CLI.
func (c *Config) Describe() string {
	s := fmt.Sprintf("%s: %g steps/unit, home %+d, step %s, seek %s/%s", c.Id, c.StepsPerUnit, c.HomeDir, c.StepPeriod, c.SeekPeriod, c.VerifyPeriod)
	if c.Limits != nil {
		s += fmt.Sprintf(", limits %g..%g", c.Limits.Min, c.Limits.Max)
	}
	return s
}
