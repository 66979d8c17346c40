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
	"runtime"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/simulator"
)

const xStep = 1.0 / 2032

func testMachine() *axis.Machine {
	m := axis.Default()
	m.Backend = "sim"
	return m
}

func newTestEngine(t *testing.T, m *axis.Machine) (*Engine, *simulator.Machine) {
	t.Helper()
	clk := simulator.NewClock()
	sim := simulator.New(m, clk)
	e, err := NewEngine(m, Hardware{Outputs: sim.Outputs(), Sensors: sim.Sensors(), Clock: clk})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, sim
}

func TestCoordinatedMove(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	require.NoError(t, e.MoveTo(Position{axis.GroupX: 2.0, axis.GroupY: 1.0}, 0))

	assert.Equal(t, int64(4064), sim.Steps(axis.X))
	assert.Equal(t, int64(2032), sim.Steps(axis.YLeft))
	assert.Equal(t, int64(2032), sim.Steps(axis.YRight))
	assert.Equal(t, int64(4064), sim.Motor(axis.X).Pulses())
	assert.Equal(t, int64(2032), sim.Motor(axis.YRight).Pulses())

	p := e.Position()
	assert.Equal(t, 2.0, p[axis.GroupX])
	assert.Equal(t, 1.0, p[axis.GroupY])
	assert.Equal(t, 0.0, p[axis.GroupZ])
	assert.InDelta(t, sim.Travel(axis.X), p[axis.GroupX], 1e-12)
	assert.InDelta(t, sim.Travel(axis.YRight), p[axis.GroupY], 1e-12)
	assert.Equal(t, Idle, e.State())
}

func TestCancelledMove(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	sim.Motor(axis.X).OnPulse(func(n int64) {
		if n == 1000 {
			e.Cancel()
		}
	})
	err := e.MoveTo(Position{axis.GroupX: 2.0, axis.GroupY: 1.0}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStopped))

	assert.Equal(t, int64(1000), sim.Steps(axis.X))
	assert.Equal(t, int64(500), sim.Steps(axis.YLeft))
	assert.Equal(t, int64(500), sim.Steps(axis.YRight))
	p := e.Position()
	assert.InDelta(t, 1000*xStep, p[axis.GroupX], 1e-12)
	assert.InDelta(t, 500*xStep, p[axis.GroupY], 1e-12)
	assert.InDelta(t, sim.Travel(axis.X), p[axis.GroupX], 1e-12)
	assert.Equal(t, Idle, e.State())

	// The next request is not affected by the earlier cancel.
	sim.Motor(axis.X).OnPulse(nil)
	require.NoError(t, e.MoveTo(Position{axis.GroupX: 2.0, axis.GroupY: 1.0}, 0))
	assert.Equal(t, 2.0, e.Position()[axis.GroupX])
}

func TestStopWaits(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	started := make(chan struct{})
	sim.Motor(axis.X).OnPulse(func(n int64) {
		if n == 10 {
			close(started)
			for !e.cancel.Load() {
				runtime.Gosched()
			}
		}
	})
	errc := make(chan error, 1)
	go func() {
		errc <- e.MoveTo(Position{axis.GroupX: 2.0}, 0)
	}()
	<-started
	e.Stop()
	assert.Equal(t, Idle, e.State())
	assert.True(t, errors.Is(<-errc, ErrStopped))
	assert.Equal(t, int64(10), sim.Steps(axis.X))
	assert.InDelta(t, 10*xStep, e.Position()[axis.GroupX], 1e-12)
}

func TestStopIdle(t *testing.T) {
	e, _ := newTestEngine(t, testMachine())
	e.Stop()
	require.NoError(t, e.Jog(axis.GroupX, 0.5))
	assert.InDelta(t, 0.5, e.Position()[axis.GroupX], 1e-12)
}

func TestConcurrentRejected(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	started := make(chan struct{})
	release := make(chan struct{})
	sim.Motor(axis.X).OnPulse(func(n int64) {
		if n == 10 {
			close(started)
			<-release
		}
	})
	errc := make(chan error, 1)
	go func() {
		errc <- e.MoveTo(Position{axis.GroupX: 1.0}, 0)
	}()
	<-started
	assert.Equal(t, Moving, e.State())

	// Position can be read while moving. The tenth step is still inside
	// its pulse and not yet counted.
	assert.InDelta(t, 9*xStep, e.Position()[axis.GroupX], 1e-12)
	assert.Equal(t, int64(9), e.MotorSteps()[axis.X])

	err := e.Jog(axis.GroupY, 1)
	assert.True(t, errors.Is(err, ErrConcurrentMove))
	err = e.HomeAxis(axis.GroupZ)
	assert.True(t, errors.Is(err, ErrConcurrentMove))
	err = e.HomeAll()
	assert.True(t, errors.Is(err, ErrConcurrentMove))
	assert.Equal(t, int64(0), sim.Motor(axis.YLeft).Pulses())

	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, 1.0, e.Position()[axis.GroupX])
}

func TestPositionConcurrentReads(t *testing.T) {
	e, _ := newTestEngine(t, testMachine())
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		last := 0.0
		for {
			select {
			case <-stop:
				return
			default:
			}
			p := e.Position()[axis.GroupX]
			assert.GreaterOrEqual(t, p, last)
			last = p
		}
	}()
	require.NoError(t, e.MoveTo(Position{axis.GroupX: 3.0}, 0))
	close(stop)
	wg.Wait()
}

func TestJog(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	require.NoError(t, e.Jog(axis.GroupX, 1.5))
	require.NoError(t, e.Jog(axis.GroupX, -0.5))
	assert.InDelta(t, 1.0, e.Position()[axis.GroupX], 1e-12)
	assert.Equal(t, int64(2032), sim.Steps(axis.X))
	assert.Equal(t, int64(4064), sim.Motor(axis.X).Pulses())

	// Rotation has no limits.
	require.NoError(t, e.Jog(axis.GroupR, 720))
	assert.InDelta(t, 720, e.Position()[axis.GroupR], 1e-9)
}

func TestClamp(t *testing.T) {
	m := testMachine()
	m.Axes[axis.X].Limits = &axis.Limits{Min: 0, Max: 3}
	e, sim := newTestEngine(t, m)

	err := e.MoveTo(Position{axis.GroupX: 5, axis.GroupY: 1}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPositionLimit))
	var le *LimitError
	require.True(t, errors.As(err, &le))
	require.Len(t, le.Clamps, 1)
	assert.Equal(t, Clamp{Group: axis.GroupX, Requested: 5, Clamped: 3, Limits: axis.Limits{Min: 0, Max: 3}}, le.Clamps[0])

	p := e.Position()
	assert.Equal(t, 3.0, p[axis.GroupX])
	assert.Equal(t, 1.0, p[axis.GroupY])
	assert.Equal(t, int64(3*2032), sim.Steps(axis.X))

	err = e.Jog(axis.GroupX, -10)
	assert.True(t, errors.Is(err, ErrPositionLimit))
	assert.Equal(t, 0.0, e.Position()[axis.GroupX])
	assert.Equal(t, Idle, e.State())
}

func TestLimitTripped(t *testing.T) {
	m := testMachine()
	m.Axes[axis.X].Limits = nil
	e, sim := newTestEngine(t, m)
	sim.PlaceSensor(axis.X, 1.0)

	err := e.Jog(axis.GroupX, -5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLimitTripped))
	p := e.Position()[axis.GroupX]
	assert.InDelta(t, -1.0, p, 0.01)
	assert.InDelta(t, sim.Travel(axis.X), p, 1e-12)
	assert.Equal(t, Idle, e.State())

	// Moving away from the asserted sensor is allowed.
	require.NoError(t, e.Jog(axis.GroupX, 2))
	assert.InDelta(t, p+2, e.Position()[axis.GroupX], 1e-9)
}

func TestHardwareFault(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	sim.Motor(axis.X).FailAfter(100)

	err := e.MoveTo(Position{axis.GroupX: 1}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHardwareIO))
	var me *Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, axis.GroupX, me.Group)
	assert.InDelta(t, 100*xStep, e.Position()[axis.GroupX], 1e-12)
	assert.Equal(t, Faulted, e.State())
	assert.Contains(t, e.Faults(), axis.GroupX)

	// Other groups may still move; X needs homing first.
	require.NoError(t, e.Jog(axis.GroupY, 0.5))
	err = e.Jog(axis.GroupX, 0.5)
	assert.True(t, errors.Is(err, ErrAxisFaulted))

	sim.Motor(axis.X).FailAfter(-1)
	require.NoError(t, e.HomeAxis(axis.GroupX))
	assert.Equal(t, Idle, e.State())
	assert.Empty(t, e.Faults())
}

func TestUnknownGroup(t *testing.T) {
	m := testMachine()
	delete(m.Axes, axis.Rotation)
	e, _ := newTestEngine(t, m)
	err := e.MoveTo(Position{axis.GroupR: 10}, 0)
	assert.True(t, errors.Is(err, ErrConfig))
	err = e.HomeAxis(axis.GroupR)
	assert.True(t, errors.Is(err, ErrConfig))
	_, ok := e.Position()[axis.GroupR]
	assert.False(t, ok)
}

func TestNewEngineConfig(t *testing.T) {
	m := testMachine()
	m.Axes[axis.X].StepsPerUnit = 0
	clk := simulator.NewClock()
	_, err := NewEngine(m, Hardware{Clock: clk})
	assert.True(t, errors.Is(err, ErrConfig))

	m = testMachine()
	sim := simulator.New(m, clk)
	out := sim.Outputs()
	delete(out, axis.ZLift)
	_, err = NewEngine(m, Hardware{Outputs: out, Clock: clk})
	assert.True(t, errors.Is(err, ErrConfig))

	_, err = NewEngine(m, Hardware{Outputs: sim.Outputs()})
	assert.True(t, errors.Is(err, ErrConfig))

	_, err = NewEngine(nil, Hardware{})
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestConfigCopied(t *testing.T) {
	m := testMachine()
	e, _ := newTestEngine(t, m)
	m.Axes[axis.X].Limits.Max = 1
	require.NoError(t, e.MoveTo(Position{axis.GroupX: 2}, 0))
	assert.Equal(t, 2.0, e.Position()[axis.GroupX])
	l, _ := e.Machine().Limits(axis.GroupX)
	assert.Equal(t, 60.0, l.Max)
}

func TestClose(t *testing.T) {
	m := testMachine()
	clk := simulator.NewClock()
	sim := simulator.New(m, clk)
	e, err := NewEngine(m, Hardware{Outputs: sim.Outputs(), Sensors: sim.Sensors(), Clock: clk})
	require.NoError(t, err)
	assert.True(t, sim.Motor(axis.X).Enabled())
	require.NoError(t, e.Close())
	for _, id := range axis.Ids {
		assert.False(t, sim.Motor(id).Enabled(), "%s", id)
	}
	assert.True(t, errors.Is(e.Jog(axis.GroupX, 1), ErrClosed))
	require.NoError(t, e.Close())
}

func TestSensorStatus(t *testing.T) {
	m := testMachine()
	m.Axes[axis.X].Limits = nil
	e, sim := newTestEngine(t, m)
	st, err := e.SensorStatus()
	require.NoError(t, err)
	assert.Len(t, st, 5)
	for id, s := range st {
		assert.False(t, s.Raw, "%s", id)
		assert.False(t, s.Debounced, "%s", id)
	}
	sim.PlaceSensor(axis.X, 0)
	for i := 0; i < 3; i++ {
		st, err = e.SensorStatus()
		require.NoError(t, err)
	}
	assert.True(t, st[axis.X].Raw)
	assert.True(t, st[axis.X].Debounced)
}

func TestSensorStatusBusy(t *testing.T) {
	e, sim := newTestEngine(t, testMachine())
	started := make(chan struct{})
	release := make(chan struct{})
	sim.Motor(axis.X).OnPulse(func(n int64) {
		if n == 10 {
			close(started)
			<-release
		}
	})
	errc := make(chan error, 1)
	go func() {
		errc <- e.MoveTo(Position{axis.GroupX: 0.1}, 0)
	}()
	<-started
	sim.Motor(axis.ZLift).Stuck(true)
	// The sensors are not sampled while a request runs.
	st, err := e.SensorStatus()
	require.NoError(t, err)
	assert.False(t, st[axis.ZLift].Raw)

	close(release)
	require.NoError(t, <-errc)
	st, err = e.SensorStatus()
	require.NoError(t, err)
	assert.True(t, st[axis.ZLift].Raw)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "moving", Moving.String())
	assert.Equal(t, "faulted", Faulted.String())
	assert.Equal(t, "verify fine", VerifyFine.String())
	assert.Equal(t, "X=1.0000 Y=-2.5000", Position{axis.GroupX: 1, axis.GroupY: -2.5}.String())
}
