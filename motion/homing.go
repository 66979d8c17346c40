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
	"time"

	"github.com/pkg/errors"

	"github.com/aamcrae/fabriccnc/axis"
)

// Phase is a step of the homing sequence.
type Phase int

const (
	SeekCoarse Phase = iota
	BackOff
	SeekFine
	BackOffSecond
	VerifyFine
	Clearance
)

var phaseNames = []string{"seek coarse", "back off", "seek fine", "back off second", "verify fine", "clearance"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// fineMargin is the minimum number of steps allowed for a fine approach
// beyond the distance backed off.
const fineMargin = 64

// Homer finds the machine zero of a group. The sensor is found at seek
// speed, then approached twice more at verify speed; the two slow
// approaches must trigger at the same motor step to within the machine's
// repeat tolerance. The group is then moved clear of the sensor and that
// point becomes zero.
// Each motor of the Y group stops as soon as its own sensor triggers, which
// squares the gantry.
type Homer struct {
	*rig
	// Phase is called on entry to each phase, if set.
	Phase func(axis.Group, Phase)
}

// Home runs the homing sequence for the group. On failure the position
// of the group is left as stepped and is not zeroed.
func (h *Homer) Home(g axis.Group) error {
	if err := h.home(g); err != nil {
		return &Error{Op: "home", Group: g, Err: err}
	}
	return nil
}

func (h *Homer) home(g axis.Group) error {
	if !h.machine.HasGroup(g) {
		return errors.Wrap(ErrConfig, "group not fitted")
	}
	ids := g.Motors()
	for _, id := range ids {
		if !h.sensors.Has(id) {
			return errors.Wrapf(ErrConfig, "%s has no home sensor", id)
		}
	}
	c := h.machine.Axes[ids[0]]
	toward := c.HomeDir > 0
	back := c.Steps(c.BackOff)
	second := c.Steps(c.BackOffSecond)
	log.Printf("%s: homing", g)
	defer func() {
		if err := h.idle(ids); err != nil {
			log.Printf("%s: %v", g, err)
		}
	}()

	h.enter(g, SeekCoarse)
	h.reset(ids)
	if _, err := h.seek(g, ids, toward, c.SeekPeriod, c.Steps(c.SeekLimit)); err != nil {
		return err
	}
	h.enter(g, BackOff)
	if err := h.backOff(ids, !toward, back, c.BackOffPeriod, true); err != nil {
		return err
	}
	h.enter(g, SeekFine)
	first, err := h.seek(g, ids, toward, c.VerifyPeriod, fineBudget(back))
	if err != nil {
		return err
	}
	h.enter(g, BackOffSecond)
	if err := h.backOff(ids, !toward, second, c.BackOffPeriod, true); err != nil {
		return err
	}
	h.enter(g, VerifyFine)
	h.reset(ids)
	verify, err := h.seek(g, ids, toward, c.VerifyPeriod, fineBudget(second))
	if err != nil {
		return err
	}
	if err := h.compare(g, first, verify); err != nil {
		return err
	}
	h.enter(g, Clearance)
	if err := h.backOff(ids, !toward, c.Steps(c.Clearance), c.BackOffPeriod, false); err != nil {
		return err
	}
	h.pos.zero(g)
	log.Printf("%s: homed", g)
	return nil
}

func fineBudget(back int) int {
	if back*2 < back+fineMargin {
		return back + fineMargin
	}
	return back * 2
}

func (h *Homer) enter(g axis.Group, p Phase) {
	if h.Phase != nil {
		h.Phase(g, p)
	}
}

func (h *Homer) reset(ids []axis.Id) {
	for _, id := range ids {
		h.sensors.Reset(id)
	}
}

// seek steps the motors toward their sensors, stopping each motor when its
// sensor triggers. The motor step count at each trigger is returned.
func (h *Homer) seek(g axis.Group, ids []axis.Id, forward bool, period time.Duration, budget int) (map[axis.Id]int64, error) {
	active := append([]axis.Id(nil), ids...)
	at := make(map[axis.Id]int64)
	for n := 0; ; n++ {
		if h.stopped() {
			return nil, errors.Wrapf(ErrStopped, "after %d steps", n)
		}
		var next []axis.Id
		for _, id := range active {
			hit, err := h.sensors.Read(id)
			if err != nil {
				return nil, hardware(err)
			}
			if hit {
				at[id] = h.pos.motor(id)
				if len(ids) > 1 {
					log.Printf("%s: %s sensor triggered after %d steps", g, id, n)
				}
				continue
			}
			next = append(next, id)
		}
		active = next
		if len(active) == 0 {
			return at, nil
		}
		if n >= budget {
			return nil, errors.Wrapf(ErrSensorFault, "%v sensor not triggered within %d steps", active, budget)
		}
		for _, id := range active {
			if err := h.step(id, forward); err != nil {
				return nil, err
			}
		}
		h.wait.Wait(period)
	}
}

// backOff moves all motors together for steps, sampling the sensors as it
// goes. If clear is set the sensors must release afterwards.
func (h *Homer) backOff(ids []axis.Id, forward bool, steps int, period time.Duration, clear bool) error {
	for i := 0; i < steps; i++ {
		if h.stopped() {
			return errors.Wrapf(ErrStopped, "after %d steps", i)
		}
		for _, id := range ids {
			if err := h.step(id, forward); err != nil {
				return err
			}
		}
		h.wait.Wait(period)
		if err := h.sample(ids); err != nil {
			return err
		}
	}
	if !clear {
		return nil
	}
	return h.settle(ids, period)
}

func (h *Homer) sample(ids []axis.Id) error {
	for _, id := range ids {
		if _, err := h.sensors.Read(id); err != nil {
			return hardware(err)
		}
	}
	return nil
}

// settle waits, without stepping, for the debounced sensors to release.
// A sensor still asserted once its debounce time has passed is stuck.
func (h *Homer) settle(ids []axis.Id, period time.Duration) error {
	for _, id := range ids {
		c := h.machine.Axes[id]
		readings := c.Readings
		if readings == 0 {
			readings = h.machine.Readings
		}
		tries := int(c.Debounce/period) + readings + 1
		for n := 0; ; n++ {
			hit, err := h.sensors.Read(id)
			if err != nil {
				return hardware(err)
			}
			if !hit {
				break
			}
			if n >= tries {
				return errors.Wrapf(ErrSensorFault, "%s sensor still asserted after backing off, stuck sensor", id)
			}
			h.wait.Wait(period)
		}
	}
	return nil
}

// compare checks the step counts of the two fine approaches.
func (h *Homer) compare(g axis.Group, first, verify map[axis.Id]int64) error {
	for _, id := range sortedIds(first) {
		d := verify[id] - first[id]
		if d < 0 {
			d = -d
		}
		if d <= int64(h.machine.RepeatTolerance) {
			continue
		}
		if h.machine.RepeatStrict {
			return errors.Wrapf(ErrRepeatability, "%s triggered %d steps apart", id, d)
		}
		log.Printf("%s: %s fine approaches triggered %d steps apart (tolerance %d)", g, id, d, h.machine.RepeatTolerance)
	}
	return nil
}
