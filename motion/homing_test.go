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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aamcrae/fabriccnc/axis"
)

func TestHomeIdempotent(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	require.NoError(t, e.HomeAxis(axis.GroupX))
	assert.Equal(t, 0.0, e.Position()[axis.GroupX])
	first := sim.Steps(axis.X)
	// Sensor is 16 inches out, homed position is the clearance back from it.
	assert.InDelta(t, -16+0.197, sim.Travel(axis.X), 0.01)

	require.NoError(t, e.HomeAxis(axis.GroupX))
	assert.Equal(t, 0.0, e.Position()[axis.GroupX])
	assert.Equal(t, first, sim.Steps(axis.X))
	assert.Equal(t, Idle, e.State())
}

func TestHomeThenMove(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	require.NoError(t, e.HomeAxis(axis.GroupX))
	zero := sim.Steps(axis.X)
	require.NoError(t, e.MoveTo(Position{axis.GroupX: 2.5}, 0))
	assert.Equal(t, 2.5, e.Position()[axis.GroupX])
	assert.Equal(t, zero+5080, sim.Steps(axis.X))
	// Returning to zero moves toward the sensor without reaching it.
	require.NoError(t, e.MoveTo(Position{axis.GroupX: 0}, 0))
	assert.Equal(t, zero, sim.Steps(axis.X))
}

func TestHomePhases(t *testing.T) {
	e, _ := newTestEngine(t, testMachine())
	var phases []Phase
	e.homer.Phase = func(g axis.Group, p Phase) {
		phases = append(phases, p)
		e.enterPhase(g, p)
	}
	require.NoError(t, e.HomeAxis(axis.GroupR))
	assert.Equal(t, []Phase{SeekCoarse, BackOff, SeekFine, BackOffSecond, VerifyFine, Clearance}, phases)
	assert.Equal(t, Clearance, e.Phase())
}

func TestHomeDualY(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	// The right hand sensor is ten steps further away; the gantry is racked.
	sim.PlaceSensor(axis.YRight, 11+10*xStep)
	require.NoError(t, e.HomeAxis(axis.GroupY))

	assert.Equal(t, 0.0, e.Position()[axis.GroupY])
	steps := e.MotorSteps()
	assert.Equal(t, int64(0), steps[axis.YLeft])
	assert.Equal(t, int64(0), steps[axis.YRight])
	assert.Equal(t, int64(10), sim.Steps(axis.YLeft)-sim.Steps(axis.YRight))

	// Both motors now move as one.
	require.NoError(t, e.Jog(axis.GroupY, 1))
	assert.Equal(t, int64(10), sim.Steps(axis.YLeft)-sim.Steps(axis.YRight))
	steps = e.MotorSteps()
	assert.Equal(t, int64(2032), steps[axis.YLeft])
	assert.Equal(t, int64(2032), steps[axis.YRight])
}

func TestHomeSensorFault(t *testing.T) {
	m := testMachine()
	m.Axes[axis.X].SeekLimit = 2
	e, sim := newTestEngine(t, m)
	require.NoError(t, e.Jog(axis.GroupX, 1))
	sim.Motor(axis.X).Dead(true)

	err := e.HomeAxis(axis.GroupX)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSensorFault))
	assert.Equal(t, Faulted, e.State())

	// The seek budget was stepped and recorded, nothing more.
	p := e.Position()[axis.GroupX]
	assert.InDelta(t, 1.0-2.0, p, 1e-12)
	assert.InDelta(t, sim.Travel(axis.X), p, 1e-12)

	err = e.MoveTo(Position{axis.GroupX: 1}, 0)
	assert.True(t, errors.Is(err, ErrAxisFaulted))
	assert.InDelta(t, p, e.Position()[axis.GroupX], 1e-12)

	sim.Motor(axis.X).Dead(false)
	sim.PlaceSensor(axis.X, 0.5)
	require.NoError(t, e.HomeAxis(axis.GroupX))
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, 0.0, e.Position()[axis.GroupX])
}

func TestHomeStuckSensor(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	sim.Motor(axis.ZLift).Stuck(true)
	err := e.HomeAxis(axis.GroupZ)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSensorFault))
	assert.Contains(t, err.Error(), "stuck")
	assert.Contains(t, e.Faults(), axis.GroupZ)
}

func TestHomeRepeatability(t *testing.T) {
	m := testMachine()
	m.RepeatStrict = true
	e, sim := newTestEngine(t, m)
	sim.Motor(axis.X).Drift(10)
	err := e.HomeAxis(axis.GroupX)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRepeatability))
	assert.Equal(t, Faulted, e.State())
	assert.NotEqual(t, 0.0, e.Position()[axis.GroupX])
}

func TestHomeRepeatabilityLogged(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	sim.Motor(axis.X).Drift(10)
	require.NoError(t, e.HomeAxis(axis.GroupX))
	assert.Equal(t, 0.0, e.Position()[axis.GroupX])
}

func TestHomeNoisySensor(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	sim.Motor(axis.X).Glitch(7)
	require.NoError(t, e.HomeAxis(axis.GroupX))
	assert.Equal(t, 0.0, e.Position()[axis.GroupX])
	assert.InDelta(t, -16+0.197, sim.Travel(axis.X), 0.01)
}

func TestHomeStopped(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	sim.Motor(axis.X).OnPulse(func(n int64) {
		if n == 100 {
			e.Cancel()
		}
	})
	err := e.HomeAxis(axis.GroupX)
	assert.True(t, errors.Is(err, ErrStopped))
	assert.Equal(t, Idle, e.State())
	assert.Empty(t, e.Faults())
	assert.InDelta(t, -100*xStep, e.Position()[axis.GroupX], 1e-12)
}

func TestHomeAll(t *testing.T) {
	e, _ := newTestEngine(t, testMachine())
	var order []axis.Group
	e.homer.Phase = func(g axis.Group, p Phase) {
		if p == SeekCoarse {
			order = append(order, g)
		}
	}
	require.NoError(t, e.Jog(axis.GroupX, 3))
	require.NoError(t, e.HomeAll())
	assert.Equal(t, []axis.Group{axis.GroupZ, axis.GroupX, axis.GroupY, axis.GroupR}, order)
	for g, v := range e.Position() {
		assert.Equal(t, 0.0, v, "%s", g)
	}
}

func TestHomeAllPartial(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	sim.Motor(axis.ZLift).Dead(true)
	err := e.HomeAll()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSensorFault))
	var he *HomeAllError
	require.True(t, errors.As(err, &he))
	assert.Len(t, he.Failed, 1)
	assert.Contains(t, he.Failed, axis.GroupZ)
	assert.Contains(t, err.Error(), "home Z")

	p := e.Position()
	assert.Equal(t, 0.0, p[axis.GroupX])
	assert.Equal(t, 0.0, p[axis.GroupY])
	assert.Equal(t, 0.0, p[axis.GroupR])
	assert.NotEqual(t, 0.0, p[axis.GroupZ])
	assert.Equal(t, Faulted, e.State())
	assert.Equal(t, map[axis.Group]bool{axis.GroupZ: true}, faultSet(e))
}

func faultSet(e *Engine) map[axis.Group]bool {
	s := make(map[axis.Group]bool)
	for g := range e.Faults() {
		s[g] = true
	}
	return s
}

func TestFineBudget(t *testing.T) {
	assert.Equal(t, 800, fineBudget(400))
	assert.Equal(t, 74, fineBudget(10))
}
