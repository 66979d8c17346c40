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

package motion

import (
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/io"
	"github.com/aamcrae/fabriccnc/profile"
	"github.com/aamcrae/fabriccnc/sensor"
)

// State is the activity of the engine.
type State int

const (
	Idle State = iota
	Moving
	Homing
	Faulted // Idle, but at least one group must be homed again
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Moving:
		return "moving"
	case Homing:
		return "homing"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}

// homeOrder lifts the tool before any other group moves.
var homeOrder = []axis.Group{axis.GroupZ, axis.GroupX, axis.GroupY, axis.GroupR}

// Hardware is the I/O an engine drives. Every fitted motor needs an
// output; motors without a sensor cannot be homed.
type Hardware struct {
	Outputs map[axis.Id]io.StepOutput
	Sensors map[axis.Id]sensor.Input
	Clock   io.Clock
}

type request struct {
	run   func() error
	reply chan error
}

// Engine is the public face of the motion system.
// All stepping is done in a background goroutine. Each request blocks its
// caller until the request completes; a request made while another is
// running is rejected with ErrConcurrentMove.
// Stop may be called from any goroutine to abort the running request.
type Engine struct {
	machine  *axis.Machine
	sensors  *sensor.Debouncer
	pos      *tracker
	steppers map[axis.Id]*io.Stepper
	mover    *Mover
	homer    *Homer
	cancel   atomic.Bool
	reqs     chan request
	exited   chan struct{}
	closeErr error

	mu     sync.Mutex
	state  State
	phase  Phase
	done   chan struct{} // Closed when the running request completes
	faults map[axis.Group]error
	closed bool
}

// NewEngine validates the machine, enables the motors and starts the
// stepping goroutine. The machine is copied; later changes to m have no effect.
func NewEngine(m *axis.Machine, hw Hardware) (*Engine, error) {
	if m == nil {
		return nil, errors.Wrap(ErrConfig, "no machine")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if hw.Clock == nil {
		return nil, errors.Wrap(ErrConfig, "no clock")
	}
	e := new(Engine)
	e.machine = m.Clone()
	e.sensors = sensor.NewDebouncer(hw.Clock)
	e.pos = newTracker(e.machine)
	e.steppers = make(map[axis.Id]*io.Stepper)
	e.faults = make(map[axis.Group]error)
	for _, id := range axis.Ids {
		c := e.machine.Axes[id]
		if c == nil {
			continue
		}
		out := hw.Outputs[id]
		if out == nil {
			return nil, errors.Wrapf(ErrConfig, "%s: no step output", id)
		}
		e.steppers[id] = io.NewStepper(string(id), out, c.StepsPerUnit, c.Invert)
		if in := hw.Sensors[id]; in != nil {
			readings := c.Readings
			if readings == 0 {
				readings = e.machine.Readings
			}
			e.sensors.Add(id, in, c.Debounce, readings)
		}
	}
	r := &rig{
		machine:  e.machine,
		steppers: e.steppers,
		sensors:  e.sensors,
		pos:      e.pos,
		wait:     hw.Clock,
		cancel:   &e.cancel,
		params: profile.Params{
			Fraction: e.machine.RampFraction,
			Max:      e.machine.RampMax,
			Factor:   e.machine.RampFactor,
		},
	}
	e.mover = &Mover{rig: r}
	e.homer = &Homer{rig: r, Phase: e.enterPhase}
	if err := e.enable(true); err != nil {
		e.enable(false)
		return nil, err
	}
	e.reqs = make(chan request)
	e.exited = make(chan struct{})
	go e.handler()
	return e, nil
}

func (e *Engine) enable(on bool) error {
	var first error
	for _, id := range axis.Ids {
		if s, ok := e.steppers[id]; ok {
			if err := s.Enable(on); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// goroutine handler
// Runs each request to completion in turn.
func (e *Engine) handler() {
	defer close(e.exited)
	if e.machine.RealtimeCPU >= 0 {
		if err := io.Realtime(e.machine.RealtimeCPU); err != nil {
			log.Printf("motion: realtime setup: %v", err)
		}
	}
	for r := range e.reqs {
		r.reply <- r.run()
	}
	var ids []axis.Id
	for id := range e.steppers {
		ids = append(ids, id)
	}
	err := e.mover.idle(ids)
	if derr := e.enable(false); err == nil {
		err = derr
	}
	e.closeErr = err
}

// exec runs fn on the stepping goroutine in the given state.
func (e *Engine) exec(op State, fn func() error) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.state == Moving || e.state == Homing {
		st := e.state
		e.mu.Unlock()
		return errors.Wrapf(ErrConcurrentMove, "engine is %s", st)
	}
	e.state = op
	done := make(chan struct{})
	e.done = done
	e.cancel.Store(false)
	e.mu.Unlock()

	reply := make(chan error, 1)
	e.reqs <- request{run: fn, reply: reply}
	err := <-reply

	e.mu.Lock()
	e.state = Idle
	e.done = nil
	close(done)
	e.mu.Unlock()
	return err
}

// MoveTo moves the groups named in target to their absolute positions.
// feed is in units/sec along the path; 0 uses the machine default.
// Targets outside the travel limits are clamped, the clamped move is made
// and a *LimitError is returned.
func (e *Engine) MoveTo(target Position, feed float64) error {
	return e.exec(Moving, func() error {
		return e.move(target, feed)
	})
}

// Jog moves one group by delta, subject to the same clamping as MoveTo.
func (e *Engine) Jog(g axis.Group, delta float64) error {
	return e.exec(Moving, func() error {
		cur := e.pos.snapshot()
		return e.move(Position{g: cur[g] + delta}, 0)
	})
}

func (e *Engine) move(target Position, feed float64) error {
	cur := e.pos.snapshot()
	cmd := MoveCommand{Delta: make(map[axis.Group]float64), Feed: feed}
	var clamps []Clamp
	for g := range target {
		if !e.machine.HasGroup(g) {
			return &Error{Op: "move", Group: g, Err: errors.Wrap(ErrConfig, "group not fitted")}
		}
	}
	for _, g := range axis.Groups {
		t, ok := target[g]
		if !ok {
			continue
		}
		if err := e.fault(g); err != nil {
			return &Error{Op: "move", Group: g, Err: errors.Wrapf(ErrAxisFaulted, "%v", err)}
		}
		if math.IsNaN(t) {
			return &Error{Op: "move", Group: g, Err: errors.Wrap(ErrPositionLimit, "target is not a number")}
		}
		if l, ok := e.machine.Limits(g); ok {
			if c := l.Clamp(t); c != t {
				log.Printf("%s: target %g clamped to %g", g, t, c)
				clamps = append(clamps, Clamp{Group: g, Requested: t, Clamped: c, Limits: l})
				t = c
			}
		}
		cmd.Delta[g] = t - cur[g]
	}
	if err := e.mover.Move(cmd); err != nil {
		e.noteFault(err)
		return err
	}
	if len(clamps) > 0 {
		return &LimitError{Clamps: clamps}
	}
	return nil
}

// HomeAxis homes one group. A successful home clears any fault on the group.
func (e *Engine) HomeAxis(g axis.Group) error {
	return e.exec(Homing, func() error {
		return e.home(g)
	})
}

// HomeAll homes every fitted group, Z first. A failure does not prevent
// the remaining groups from being homed; all failures are returned in a
// *HomeAllError.
func (e *Engine) HomeAll() error {
	return e.exec(Homing, func() error {
		failed := make(map[axis.Group]error)
		for _, g := range homeOrder {
			if !e.machine.HasGroup(g) {
				continue
			}
			if e.cancel.Load() {
				failed[g] = &Error{Op: "home", Group: g, Err: ErrStopped}
				continue
			}
			if err := e.home(g); err != nil {
				failed[g] = err
			}
		}
		if len(failed) > 0 {
			return &HomeAllError{Failed: failed}
		}
		return nil
	})
}

func (e *Engine) home(g axis.Group) error {
	err := e.homer.Home(g)
	if err == nil {
		e.mu.Lock()
		delete(e.faults, g)
		e.mu.Unlock()
		return nil
	}
	e.noteFault(err)
	return err
}

func (e *Engine) enterPhase(g axis.Group, p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
	log.Printf("%s: %s", g, p)
}

func (e *Engine) noteFault(err error) {
	var me *Error
	if !errors.As(err, &me) || me.Group == "" || !faulting(err) {
		return
	}
	e.mu.Lock()
	e.faults[me.Group] = err
	e.mu.Unlock()
	log.Printf("%s: faulted: %v", me.Group, err)
}

func (e *Engine) fault(g axis.Group) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faults[g]
}

// Faults returns the groups that need homing before they can move.
func (e *Engine) Faults() map[axis.Group]error {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := make(map[axis.Group]error, len(e.faults))
	for g, err := range e.faults {
		f[g] = err
	}
	return f
}

// Stop aborts the running request and waits for it to finish.
// It is a no-op if the engine is idle.
func (e *Engine) Stop() {
	if done := e.signal(); done != nil {
		<-done
	}
}

// Cancel aborts the running request without waiting.
func (e *Engine) Cancel() {
	e.signal()
}

func (e *Engine) signal() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel.Store(true)
	return e.done
}

// Position returns a snapshot of the position of every group.
func (e *Engine) Position() Position {
	return e.pos.snapshot()
}

// MotorSteps returns the step count of every motor since it was last homed.
func (e *Engine) MotorSteps() map[axis.Id]int64 {
	return e.pos.motors()
}

// State returns the current activity.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Idle && len(e.faults) > 0 {
		return Faulted
	}
	return e.state
}

// Phase returns the current homing phase; only meaningful while homing.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// SensorStatus returns the diagnostics of every home sensor. While idle the
// sensors are sampled first; while busy the last readings taken by the
// running request are reported. No request can start while the idle
// sensors are being sampled.
func (e *Engine) SensorStatus() (map[axis.Id]sensor.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idle := !e.closed && e.state != Moving && e.state != Homing
	st := make(map[axis.Id]sensor.Status)
	for _, id := range e.sensors.Ids() {
		if idle {
			if _, err := e.sensors.Read(id); err != nil {
				return nil, hardware(err)
			}
		}
		st[id], _ = e.sensors.Status(id)
	}
	return st, nil
}

// Machine returns a copy of the machine description.
func (e *Engine) Machine() *axis.Machine {
	return e.machine.Clone()
}

// Close stops any running request, returns the lines to rest and disables
// the motors.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cancel.Store(true)
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
	close(e.reqs)
	<-e.exited
	return e.closeErr
}

// Groups returns the fitted groups in home order.
func (e *Engine) Groups() []axis.Group {
	var gl []axis.Group
	for _, g := range homeOrder {
		if e.machine.HasGroup(g) {
			gl = append(gl, g)
		}
	}
	return gl
}
