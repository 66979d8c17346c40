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

// Package simulator provides virtual stepper drivers and hall sensors so
// that the motion system can run without hardware.
//
// Each motor tracks its position in steps of its direction line. Its home
// sensor asserts once the motor has passed the sensor edge on the home
// side, and stays asserted beyond it.
package simulator

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/io"
	"github.com/aamcrae/fabriccnc/sensor"
)

// Clock is a virtual clock that advances only when waited on.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to a fixed start time.
func NewClock() *Clock {
	return &Clock{now: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Wait(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Motor is a simulated driver, motor and home sensor.
type Motor struct {
	Name      axis.Id
	wait      io.Waiter
	pulseTime time.Duration

	mu        sync.Mutex
	line      bool
	enabled   bool
	position  int64 // Steps, positive when stepped with the direction line high
	pulses    int64
	homeSide  int64 // +1 if the sensor is on the positive side
	edge      int64
	inside    bool
	drift     int64
	dead      bool
	stuck     bool
	glitch    int
	reads     int
	failAfter int64
	hook      func(pulses int64)
}

func newMotor(id axis.Id, w io.Waiter, pulse time.Duration) *Motor {
	return &Motor{Name: id, wait: w, pulseTime: pulse, homeSide: 1, failAfter: -1}
}

func (m *Motor) Direction(forward bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.line = forward
	return nil
}

// Pulse moves the motor one step if the driver is enabled.
func (m *Motor) Pulse() error {
	m.mu.Lock()
	if m.failAfter >= 0 && m.pulses >= m.failAfter {
		m.mu.Unlock()
		return errors.Errorf("%s: simulated driver fault", m.Name)
	}
	if m.enabled {
		if m.line {
			m.position++
		} else {
			m.position--
		}
	}
	m.pulses++
	n := m.pulses
	hook := m.hook
	m.mu.Unlock()
	m.wait.Wait(m.pulseTime)
	if hook != nil {
		hook(n)
	}
	return nil
}

func (m *Motor) Enable(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = on
	return nil
}

func (m *Motor) Idle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.line = false
	return nil
}

// Raw reads the home sensor.
func (m *Motor) Raw() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	in := m.homeSide*m.position >= m.edge
	if m.inside && !in {
		m.edge += m.drift
	}
	m.inside = in
	switch {
	case m.dead:
		return false, nil
	case m.stuck:
		return true, nil
	case m.glitch > 0 && m.reads%m.glitch == 0:
		return !in, nil
	}
	return in, nil
}

// Position returns the motor position in direction line steps.
func (m *Motor) Position() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Pulses returns the number of step pulses received.
func (m *Motor) Pulses() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulses
}

// Enabled reports whether the driver is powered.
func (m *Motor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// OnPulse sets a function called after every pulse with the pulse count.
func (m *Motor) OnPulse(f func(pulses int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = f
}

// Dead makes the sensor never assert.
func (m *Motor) Dead(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = v
}

// Stuck makes the sensor always assert.
func (m *Motor) Stuck(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stuck = v
}

// Glitch inverts every nth sensor reading, 0 to disable.
func (m *Motor) Glitch(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.glitch = n
}

// Drift moves the sensor edge by steps each time the motor leaves the sensor.
func (m *Motor) Drift(steps int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drift = steps
}

// FailAfter makes every pulse after n pulses fail, -1 to disable.
func (m *Motor) FailAfter(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
}

// Machine is a simulated cutter.
type Machine struct {
	config *axis.Machine
	motors map[axis.Id]*Motor
}

// New creates a motor for every motor of m. Each sensor is placed a quarter
// of the motor's seek travel away on its home side. Pulses wait on w.
func New(m *axis.Machine, w io.Waiter) *Machine {
	s := &Machine{config: m.Clone(), motors: make(map[axis.Id]*Motor)}
	for id, c := range s.config.Axes {
		mt := newMotor(id, w, m.PulseWidth+m.PulseLow)
		s.motors[id] = mt
		s.PlaceSensor(id, c.SeekLimit/4)
	}
	return s
}

// Motor returns the simulated motor, or nil.
func (s *Machine) Motor(id axis.Id) *Motor {
	return s.motors[id]
}

// PlaceSensor puts the sensor edge distance units from the motor's
// current position, in its home direction.
func (s *Machine) PlaceSensor(id axis.Id, distance float64) {
	c := s.config.Axes[id]
	m := s.motors[id]
	if c == nil || m == nil {
		return
	}
	side := int64(c.HomeDir)
	if c.Invert {
		side = -side
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.homeSide = side
	m.edge = side*m.position + int64(c.Steps(distance))
	m.inside = side*m.position >= m.edge
}

// Steps returns the motor position in steps of the motor's own direction,
// with any inversion removed.
func (s *Machine) Steps(id axis.Id) int64 {
	c := s.config.Axes[id]
	p := s.motors[id].Position()
	if c.Invert {
		return -p
	}
	return p
}

// Travel returns the distance moved by the motor in units.
func (s *Machine) Travel(id axis.Id) float64 {
	return float64(s.Steps(id)) / s.config.Axes[id].StepsPerUnit
}

// Outputs returns the step outputs for an engine.
func (s *Machine) Outputs() map[axis.Id]io.StepOutput {
	o := make(map[axis.Id]io.StepOutput)
	for id, m := range s.motors {
		o[id] = m
	}
	return o
}

// Sensors returns the sensor inputs for an engine.
func (s *Machine) Sensors() map[axis.Id]sensor.Input {
	in := make(map[axis.Id]sensor.Input)
	for id, m := range s.motors {
		in[id] = m
	}
	return in
}
