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

// Package motion coordinates the stepper motors of the cutter: interpolated
// multi-axis moves, homing against the hall sensors and the Engine that
// serialises both onto a single stepping goroutine.
package motion

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/io"
	"github.com/aamcrae/fabriccnc/profile"
	"github.com/aamcrae/fabriccnc/sensor"
)

// rig is the hardware shared by the mover and the homer. Only the
// engine goroutine may step.
type rig struct {
	machine  *axis.Machine
	steppers map[axis.Id]*io.Stepper
	sensors  *sensor.Debouncer
	pos      *tracker
	wait     io.Waiter
	cancel   *atomic.Bool
	params   profile.Params
}

func (r *rig) stopped() bool {
	return r.cancel.Load()
}

// step moves one motor and records the step.
func (r *rig) step(id axis.Id, forward bool) error {
	res, err := r.steppers[id].Step(forward)
	if err != nil {
		return err
	}
	r.pos.add(id, res)
	return nil
}

// idle returns the lines of the motors to rest, reporting the first failure.
func (r *rig) idle(ids []axis.Id) error {
	var first error
	for _, id := range ids {
		if err := r.steppers[id].Idle(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MoveCommand is a relative move. Groups absent from Delta do not move.
type MoveCommand struct {
	Delta map[axis.Group]float64
	Feed  float64 // Units/sec along the path, 0 for the machine default
}

// maxSteps bounds the step count of any one group in a single move.
const maxSteps = math.MaxInt32

type groupMove struct {
	group    axis.Group
	ids      []axis.Id
	steps    int
	forward  bool
	homeward bool
}

// Mover runs interpolated moves. The group with the most steps (the
// dominant group) steps on every iteration; every other group steps on the
// iterations where its share of the move crosses a whole step.
type Mover struct {
	*rig
}

// Move executes the command. On any exit the position reflects exactly the
// steps taken.
func (m *Mover) Move(cmd MoveCommand) (err error) {
	moves, total, err := m.plan(cmd)
	if err != nil || total == 0 {
		return err
	}
	prof := profile.Plan(total, m.cruise(cmd, moves, total), m.params)
	var ids []axis.Id
	for _, gm := range moves {
		ids = append(ids, gm.ids...)
	}
	defer func() {
		if ierr := m.idle(ids); ierr != nil && err == nil {
			err = &Error{Op: "move", Err: ierr}
		}
	}()
	for i := 0; i < total; i++ {
		if m.stopped() {
			return &Error{Op: "move", Err: errors.Wrapf(ErrStopped, "after %d of %d steps", i, total)}
		}
		for _, gm := range moves {
			if gm.homeward {
				if err := m.checkLimit(gm); err != nil {
					return err
				}
			}
		}
		for _, gm := range moves {
			if !due(i, gm.steps, total) {
				continue
			}
			for _, id := range gm.ids {
				if err := m.step(id, gm.forward); err != nil {
					return &Error{Op: "move", Group: gm.group, Err: err}
				}
			}
		}
		m.wait.Wait(prof.Delay(i))
	}
	return nil
}

// due reports whether a group of n steps steps on iteration i of total.
func due(i, n, total int) bool {
	a := int64(i+1) * int64(n) / int64(total)
	b := int64(i) * int64(n) / int64(total)
	return a > b
}

func (m *Mover) plan(cmd MoveCommand) ([]*groupMove, int, error) {
	var moves []*groupMove
	total := 0
	for _, g := range axis.Groups {
		d := cmd.Delta[g]
		if d == 0 {
			continue
		}
		if !m.machine.HasGroup(g) {
			return nil, 0, &Error{Op: "move", Group: g, Err: errors.Wrap(ErrConfig, "group not fitted")}
		}
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, 0, &Error{Op: "move", Group: g, Err: errors.Wrapf(ErrPositionLimit, "invalid distance %g", d)}
		}
		ids := g.Motors()
		c := m.machine.Axes[ids[0]]
		if math.Abs(d)*c.StepsPerUnit > maxSteps {
			return nil, 0, &Error{Op: "move", Group: g, Err: errors.Wrapf(ErrPositionLimit, "distance %g exceeds %d steps", d, maxSteps)}
		}
		n := c.Steps(d)
		if n == 0 {
			continue
		}
		moves = append(moves, &groupMove{
			group:    g,
			ids:      ids,
			steps:    n,
			forward:  d > 0,
			homeward: (d > 0) == (c.HomeDir > 0),
		})
		if n > total {
			total = n
		}
	}
	for g := range cmd.Delta {
		if len(g.Motors()) == 0 {
			return nil, 0, &Error{Op: "move", Group: g, Err: errors.Wrap(ErrConfig, "unknown group")}
		}
	}
	return moves, total, nil
}

// cruise returns the base period of the move: the feed period, but never
// faster than any motor's rated period allows for its share of the steps.
func (m *Mover) cruise(cmd MoveCommand, moves []*groupMove, total int) time.Duration {
	var period time.Duration
	var sq, rot float64
	for _, gm := range moves {
		for _, id := range gm.ids {
			p := time.Duration(int64(m.machine.Axes[id].StepPeriod) * int64(gm.steps) / int64(total))
			if p > period {
				period = p
			}
		}
		d := cmd.Delta[gm.group]
		if gm.group == axis.GroupR {
			rot = math.Abs(d)
		} else {
			sq += d * d
		}
	}
	feed := cmd.Feed
	if feed <= 0 {
		feed = m.machine.Feed
	}
	if feed > 0 {
		length := math.Sqrt(sq)
		if length == 0 {
			length = rot
		}
		if fp := time.Duration(length / feed * float64(time.Second) / float64(total)); fp > period {
			period = fp
		}
	}
	return period
}

// checkLimit samples the home sensors of a group moving toward them.
func (m *Mover) checkLimit(gm *groupMove) error {
	for _, id := range gm.ids {
		if !m.sensors.Has(id) {
			continue
		}
		hit, err := m.sensors.Read(id)
		if err != nil {
			return &Error{Op: "move", Group: gm.group, Err: hardware(err)}
		}
		if hit {
			return &Error{Op: "move", Group: gm.group, Err: errors.Wrapf(ErrLimitTripped, "%s", id)}
		}
	}
	return nil
}
