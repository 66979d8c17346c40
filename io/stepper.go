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

package io

import (
	"time"

	"github.com/pkg/errors"
)

// StepOutput is a step/direction stepper driver.
type StepOutput interface {
	Direction(forward bool) error
	Pulse() error
	Enable(on bool) error
	Idle() error
}

// PinOutput is a StepOutput driving a step/dir driver through GPIO lines.
type PinOutput struct {
	step, dir, enable Setter
	enableLow         bool
	high, low         time.Duration
	wait              Waiter
}

// NewPinOutput creates an output for a driver. enable may be nil.
// high and low are the minimum step pulse width and the minimum time the
// step line is held low afterwards; the low time also covers the driver's
// direction setup time.
func NewPinOutput(step, dir, enable Setter, enableLow bool, high, low time.Duration, w Waiter) *PinOutput {
	p := new(PinOutput)
	p.step = step
	p.dir = dir
	p.enable = enable
	p.enableLow = enableLow
	p.high = high
	p.low = low
	p.wait = w
	return p
}

func (p *PinOutput) Direction(forward bool) error {
	v := 0
	if forward {
		v = 1
	}
	if err := p.dir.Set(v); err != nil {
		return err
	}
	p.wait.Wait(p.low)
	return nil
}

func (p *PinOutput) Pulse() error {
	if err := p.step.Set(1); err != nil {
		return err
	}
	p.wait.Wait(p.high)
	if err := p.step.Set(0); err != nil {
		return err
	}
	p.wait.Wait(p.low)
	return nil
}

func (p *PinOutput) Enable(on bool) error {
	if p.enable == nil {
		return nil
	}
	v := 0
	if on != p.enableLow {
		v = 1
	}
	return p.enable.Set(v)
}

// Idle drives the step and direction lines low.
func (p *PinOutput) Idle() error {
	if err := p.step.Set(0); err != nil {
		return err
	}
	return p.dir.Set(0)
}

// StepResult is the motion caused by one call to Step.
type StepResult struct {
	Steps    int     // +1 or -1
	Distance float64 // Signed distance in units
}

// Stepper sequences single steps on one motor, applying direction inversion.
// Stepper is not safe for concurrent use; a single goroutine owns all
// steppers of a machine.
type Stepper struct {
	Name     string
	out      StepOutput
	invert   bool
	distance float64
	line     int // Last direction line level, -1 if unknown
}

// NewStepper creates a Stepper moving 1/stepsPerUnit units each step.
func NewStepper(name string, out StepOutput, stepsPerUnit float64, invert bool) *Stepper {
	s := new(Stepper)
	s.Name = name
	s.out = out
	s.invert = invert
	s.distance = 1 / stepsPerUnit
	s.line = -1
	return s
}

// Step moves the motor one step. The returned result is the motion that
// actually took place; on error no step was taken.
// The direction line is only rewritten when it changes.
func (s *Stepper) Step(forward bool) (StepResult, error) {
	line := 0
	if forward != s.invert {
		line = 1
	}
	if line != s.line {
		if err := s.out.Direction(line == 1); err != nil {
			s.line = -1
			return StepResult{}, errors.Wrapf(ErrHardware, "%s: direction: %v", s.Name, err)
		}
		s.line = line
	}
	if err := s.out.Pulse(); err != nil {
		return StepResult{}, errors.Wrapf(ErrHardware, "%s: step: %v", s.Name, err)
	}
	if forward {
		return StepResult{Steps: 1, Distance: s.distance}, nil
	}
	return StepResult{Steps: -1, Distance: -s.distance}, nil
}

// Idle returns the lines to their resting state.
func (s *Stepper) Idle() error {
	s.line = -1
	if err := s.out.Idle(); err != nil {
		return errors.Wrapf(ErrHardware, "%s: idle: %v", s.Name, err)
	}
	return nil
}

// Enable powers the driver on or off.
func (s *Stepper) Enable(on bool) error {
	if err := s.out.Enable(on); err != nil {
		return errors.Wrapf(ErrHardware, "%s: enable: %v", s.Name, err)
	}
	return nil
}
