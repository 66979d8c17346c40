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

// Package sensor debounces the hall effect home sensors.
//
// Each sensor keeps a short ring of raw readings. The debounced value only
// changes when every reading in the ring agrees and the debounce time has
// passed since the previous accepted change. Isolated readings that flip
// against their neighbours are counted as noise; a burst of noise marks the
// sensor as suffering interference, which is reported but never an error.
package sensor

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/aamcrae/fabriccnc/axis"
)

const (
	noiseWindow = time.Second
	noiseLimit  = 3 // Noise readings per window before interference is flagged
)

// Input is a raw sensor line, true when the sensor is asserted.
type Input interface {
	Raw() (bool, error)
}

// Clock supplies the time base for debounce timing.
type Clock interface {
	Now() time.Time
}

// Status is a diagnostic snapshot of a sensor.
type Status struct {
	Raw          bool
	Debounced    bool
	SinceChange  time.Duration // 0 if no change has been accepted since reset
	Noise        int           // Noise readings in the current window
	Interference bool
}

type state struct {
	name         axis.Id
	in           Input
	debounce     time.Duration
	history      []bool
	next         int
	filled       int
	raw          bool
	debounced    bool
	lastChange   time.Time
	prev         [2]bool // The two readings before the latest
	seen         int
	noise        int
	noiseStart   time.Time
	interference bool
}

// Debouncer owns the state of every home sensor.
type Debouncer struct {
	mu      sync.Mutex
	clock   Clock
	sensors map[axis.Id]*state
}

// NewDebouncer creates an empty debouncer.
func NewDebouncer(clock Clock) *Debouncer {
	d := new(Debouncer)
	d.clock = clock
	d.sensors = make(map[axis.Id]*state)
	return d
}

// Add registers a sensor. readings is the history length, at least 1.
func (d *Debouncer) Add(id axis.Id, in Input, debounce time.Duration, readings int) {
	if readings < 1 {
		readings = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sensors[id] = &state{name: id, in: in, debounce: debounce, history: make([]bool, readings)}
}

// Has reports whether a sensor is registered for the motor.
func (d *Debouncer) Has(id axis.Id) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sensors[id] != nil
}

// Ids returns the registered sensors in sorted order.
func (d *Debouncer) Ids() []axis.Id {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []axis.Id
	for id := range d.sensors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Read samples the sensor once and returns the debounced value.
func (d *Debouncer) Read(id axis.Id) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sensors[id]
	if s == nil {
		return false, errors.Errorf("%s: no sensor", id)
	}
	raw, err := s.in.Raw()
	if err != nil {
		return s.debounced, errors.Wrapf(err, "%s: sensor read", id)
	}
	s.sample(raw, d.clock.Now())
	return s.debounced, nil
}

// Reset clears the history, the last change time and the debounced value.
func (d *Debouncer) Reset(id axis.Id) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.sensors[id]; s != nil {
		s.next, s.filled, s.seen = 0, 0, 0
		s.debounced = false
		s.lastChange = time.Time{}
		s.noise = 0
		s.noiseStart = time.Time{}
		s.interference = false
	}
}

// Status returns the current diagnostics without sampling the sensor.
func (d *Debouncer) Status(id axis.Id) (Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sensors[id]
	if s == nil {
		return Status{}, false
	}
	st := Status{Raw: s.raw, Debounced: s.debounced, Noise: s.noise, Interference: s.interference}
	if !s.lastChange.IsZero() {
		st.SinceChange = d.clock.Now().Sub(s.lastChange)
	}
	return st, true
}

func (s *state) sample(raw bool, now time.Time) {
	s.history[s.next] = raw
	s.next = (s.next + 1) % len(s.history)
	if s.filled < len(s.history) {
		s.filled++
	}
	s.raw = raw
	s.checkNoise(raw, now)
	if s.filled < len(s.history) || raw == s.debounced {
		return
	}
	for _, v := range s.history {
		if v != raw {
			return
		}
	}
	if !s.lastChange.IsZero() && now.Sub(s.lastChange) < s.debounce {
		return
	}
	s.debounced = raw
	s.lastChange = now
}

// checkNoise counts a reading as noise when it is sandwiched between two
// readings that agree with each other.
func (s *state) checkNoise(raw bool, now time.Time) {
	if s.seen >= 2 && s.prev[0] == raw && s.prev[1] != raw {
		if s.noiseStart.IsZero() || now.Sub(s.noiseStart) >= noiseWindow {
			s.noiseStart = now
			s.noise = 0
		}
		s.noise++
		if s.noise > noiseLimit && !s.interference {
			s.interference = true
			log.Printf("%s: sensor interference, %d noisy readings within %s", s.name, s.noise, noiseWindow)
		}
	} else if s.interference && now.Sub(s.noiseStart) >= noiseWindow {
		s.interference = false
		s.noise = 0
		log.Printf("%s: sensor interference cleared", s.name)
	}
	s.prev[0], s.prev[1] = s.prev[1], raw
	if s.seen < 2 {
		s.seen++
	}
}
