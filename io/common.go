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

// Package io drives the step, direction and enable lines of the stepper
// drivers and reads the home sensors, over one of several GPIO backends.

package io

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrHardware is returned when an output or input line cannot be driven.
var ErrHardware = errors.New("hardware I/O error")

// Setter is an interface for setting an output value on a GPIO
type Setter interface {
	Set(int) error
}

// Getter is an interface for reading an input GPIO
type Getter interface {
	Get() (int, error)
}

// Backend hands out GPIO lines.
type Backend interface {
	Output(pin int) (Setter, error)
	Input(pin int, pullUp bool) (Getter, error)
	Close() error
}

// Open returns the named backend: rpio (memory mapped registers), cdev
// (GPIO character device on chip) or sysfs.
func Open(name, chip string) (Backend, error) {
	switch name {
	case "rpio":
		return openRpio()
	case "cdev":
		return openCdev(chip), nil
	case "sysfs":
		return openSysfs(), nil
	}
	return nil, fmt.Errorf("unknown GPIO backend %q", name)
}

// Level adapts a GPIO input to a boolean sensor line.
type Level struct {
	in        Getter
	activeLow bool
}

// NewLevel creates a sensor input. Hall sensors with an open collector
// output pull the line low when a magnet is present.
func NewLevel(in Getter, activeLow bool) *Level {
	return &Level{in: in, activeLow: activeLow}
}

// Raw returns true when the sensor is asserted.
func (l *Level) Raw() (bool, error) {
	v, err := l.in.Get()
	if err != nil {
		return false, errors.Wrap(ErrHardware, err.Error())
	}
	return (v != 0) != l.activeLow, nil
}
