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

package axis

import (
	"fmt"
	"strings"
	"time"

	"github.com/aamcrae/config"
	"github.com/pkg/errors"
)

// section is the part of a config section used by the loader.
type section interface {
	config.Conf
	Parse(string, string, ...interface{}) (int, error)
}

// ParseFile reads a machine description from a config file.
// Comments must be on a line of their own. Sample config:
//
//	[machine]
//	# rpio, cdev, sysfs or sim
//	backend=rpio
//	# chip for the cdev backend
//	chip=gpiochip0
//	# step pulse high and low time
//	pulse=5us,5us
//	# default sensor history length
//	readings=2
//	# ramp fraction, max ramp steps, ramp slowdown factor
//	ramp=0.25,100,1.0
//	# default feed (units/sec), 0 for rated speed
//	feed=0
//	# homing repeat tolerance (steps), strict (0/1)
//	repeat=4,0
//	# CPU to pin the step loop to
//	realtime=-1
//
//	[x]
//	# step, direction and enable GPIOs (enable -1 if none)
//	pins=24,23,9
//	enable_low=1
//	sensor=16
//	sensor_low=1
//	# steps per unit
//	steps=2032
//	invert=0
//	# rated step period
//	period=500us
//	home=-1
//	seek_period=500us
//	verify_period=2ms
//	backoff_period=1ms
//	# first and second back off distance
//	backoff=0.197,0.1
//	# distance from the sensor to machine zero
//	clearance=0.197
//	# maximum travel while seeking
//	seek=64
//	# optional travel limits
//	limits=0,60
//	debounce=15ms
//	# optional sensor history length
//	readings=3
func ParseFile(path string) (*Machine, error) {
	conf, err := config.ParseFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "%s: %v", path, err)
	}
	return Parse(conf)
}

// Parse builds and validates a machine description from a parsed config.
// Motors without a section are not fitted.
func Parse(conf *config.Config) (*Machine, error) {
	m := Default()
	m.Axes = make(map[Id]*Config)
	if s := conf.GetSection("machine"); s != nil {
		if err := parseMachine(s, m); err != nil {
			return nil, errors.Wrap(ErrConfig, err.Error())
		}
	}
	for _, id := range Ids {
		s := conf.GetSection(string(id))
		if s == nil {
			continue
		}
		c, err := parseAxis(s, id)
		if err != nil {
			return nil, errors.Wrapf(ErrConfig, "%s: %v", id, err)
		}
		m.Axes[id] = c
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseMachine(s section, m *Machine) error {
	if has(s, "backend") {
		b, err := s.GetArg("backend")
		if err != nil {
			return err
		}
		m.Backend = strings.TrimSpace(b)
	}
	if has(s, "chip") {
		c, err := s.GetArg("chip")
		if err != nil {
			return err
		}
		m.Chip = strings.TrimSpace(c)
	}
	if has(s, "pulse") {
		d, err := durations(s, "pulse", 2)
		if err != nil {
			return err
		}
		m.PulseWidth, m.PulseLow = d[0], d[1]
	}
	if err := optional(s, "readings", "%d", &m.Readings); err != nil {
		return err
	}
	if err := optional(s, "ramp", "%f,%d,%f", &m.RampFraction, &m.RampMax, &m.RampFactor); err != nil {
		return err
	}
	if err := optional(s, "feed", "%f", &m.Feed); err != nil {
		return err
	}
	var strict int
	if err := optional(s, "repeat", "%d,%d", &m.RepeatTolerance, &strict); err != nil {
		return err
	}
	m.RepeatStrict = strict != 0
	return optional(s, "realtime", "%d", &m.RealtimeCPU)
}

func parseAxis(s section, id Id) (*Config, error) {
	c := &Config{Id: id}
	c.Pins.Enable = -1
	c.Pins.Sensor = -1
	if err := required(s, "pins", "%d,%d,%d", &c.Pins.Step, &c.Pins.Dir, &c.Pins.Enable); err != nil {
		return nil, err
	}
	low := 1
	if err := optional(s, "enable_low", "%d", &low); err != nil {
		return nil, err
	}
	c.Pins.EnableActiveLow = low != 0
	if err := optional(s, "sensor", "%d", &c.Pins.Sensor); err != nil {
		return nil, err
	}
	low = 1
	if err := optional(s, "sensor_low", "%d", &low); err != nil {
		return nil, err
	}
	c.Pins.SensorActiveLow = low != 0
	if err := required(s, "steps", "%f", &c.StepsPerUnit); err != nil {
		return nil, err
	}
	var invert int
	if err := optional(s, "invert", "%d", &invert); err != nil {
		return nil, err
	}
	c.Invert = invert != 0
	if err := required(s, "home", "%d", &c.HomeDir); err != nil {
		return nil, err
	}
	periods := []struct {
		key string
		d   *time.Duration
	}{
		{"period", &c.StepPeriod},
		{"seek_period", &c.SeekPeriod},
		{"verify_period", &c.VerifyPeriod},
		{"backoff_period", &c.BackOffPeriod},
		{"debounce", &c.Debounce},
	}
	for _, p := range periods {
		d, err := durations(s, p.key, 1)
		if err != nil {
			return nil, err
		}
		*p.d = d[0]
	}
	if err := required(s, "backoff", "%f,%f", &c.BackOff, &c.BackOffSecond); err != nil {
		return nil, err
	}
	if err := required(s, "clearance", "%f", &c.Clearance); err != nil {
		return nil, err
	}
	if err := required(s, "seek", "%f", &c.SeekLimit); err != nil {
		return nil, err
	}
	if has(s, "limits") {
		var l Limits
		if err := required(s, "limits", "%f,%f", &l.Min, &l.Max); err != nil {
			return nil, err
		}
		c.Limits = &l
	}
	if err := optional(s, "readings", "%d", &c.Readings); err != nil {
		return nil, err
	}
	return c, nil
}

func has(s section, key string) bool {
	return s.Has(key)
}

func required(s section, key, format string, args ...interface{}) error {
	n, err := s.Parse(key, format, args...)
	if err != nil {
		return fmt.Errorf("%s: %v", key, err)
	}
	if n != len(args) {
		return fmt.Errorf("%s: argument count", key)
	}
	return nil
}

func optional(s section, key, format string, args ...interface{}) error {
	if !has(s, key) {
		return nil
	}
	return required(s, key, format, args...)
}

func durations(s section, key string, count int) ([]time.Duration, error) {
	e := s.Get(key)
	if len(e) == 0 {
		return nil, fmt.Errorf("%s: missing", key)
	}
	if len(e) != 1 {
		return nil, fmt.Errorf("%s: defined more than once", key)
	}
	if len(e[0].Tokens) != count {
		return nil, fmt.Errorf("%s: argument count", key)
	}
	var dl []time.Duration
	for _, v := range e[0].Tokens {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%s: %v", key, err)
		}
		dl = append(dl, d)
	}
	return dl, nil
}
