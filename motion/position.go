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
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/io"
)

// Position maps each axis group to its location in units.
type Position map[axis.Group]float64

func (p Position) String() string {
	var s []string
	for _, g := range axis.Groups {
		if v, ok := p[g]; ok {
			s = append(s, fmt.Sprintf("%s=%.4f", g, v))
		}
	}
	return strings.Join(s, " ")
}

// tracker counts the steps taken by every motor. Positions are derived
// from the step counts so that no rounding accumulates.
type tracker struct {
	mu      sync.Mutex
	steps   map[axis.Id]int64
	perUnit map[axis.Id]float64
	groups  []axis.Group
}

func newTracker(m *axis.Machine) *tracker {
	t := new(tracker)
	t.steps = make(map[axis.Id]int64)
	t.perUnit = make(map[axis.Id]float64)
	for id, c := range m.Axes {
		t.steps[id] = 0
		t.perUnit[id] = c.StepsPerUnit
	}
	t.groups = m.Groups()
	return t
}

// add records a step that has been taken.
func (t *tracker) add(id axis.Id, r io.StepResult) {
	t.mu.Lock()
	t.steps[id] += int64(r.Steps)
	t.mu.Unlock()
}

func (t *tracker) motor(id axis.Id) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.steps[id]
}

func (t *tracker) zero(g axis.Group) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range g.Motors() {
		t.steps[id] = 0
	}
}

func (t *tracker) snapshot() Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := make(Position, len(t.groups))
	for _, g := range t.groups {
		id := g.Motors()[0]
		p[g] = float64(t.steps[id]) / t.perUnit[id]
	}
	return p
}

func (t *tracker) motors() map[axis.Id]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := make(map[axis.Id]int64, len(t.steps))
	for id, v := range t.steps {
		m[id] = v
	}
	return m
}

// sortedIds returns the keys of a motor map in a stable order.
func sortedIds(m map[axis.Id]int64) []axis.Id {
	var ids []axis.Id
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
