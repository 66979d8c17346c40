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
	"strings"

	"github.com/pkg/errors"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/io"
)

var (
	ErrConfig         = axis.ErrConfig
	ErrHardwareIO     = io.ErrHardware
	ErrSensorFault    = errors.New("sensor fault")
	ErrPositionLimit  = errors.New("position limit violation")
	ErrConcurrentMove = errors.New("concurrent move rejected")
	ErrStopped        = errors.New("stopped")
	ErrLimitTripped   = errors.New("home sensor asserted while moving toward it")
	ErrAxisFaulted    = errors.New("axis faulted, home required")
	ErrRepeatability  = errors.New("homing repeatability out of tolerance")
	ErrClosed         = errors.New("engine closed")
)

// Error is a failure of an operation on one axis group.
type Error struct {
	Op    string
	Group axis.Group
	Err   error
}

func (e *Error) Error() string {
	if e.Group == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Group, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Clamp describes a target that was pulled back inside the travel limits.
type Clamp struct {
	Group     axis.Group
	Requested float64
	Clamped   float64
	Limits    axis.Limits
}

// LimitError reports that a move was executed to clamped targets.
type LimitError struct {
	Clamps []Clamp
}

func (e *LimitError) Error() string {
	var s []string
	for _, c := range e.Clamps {
		s = append(s, fmt.Sprintf("%s target %g clamped to %g (limits %g..%g)", c.Group, c.Requested, c.Clamped, c.Limits.Min, c.Limits.Max))
	}
	return fmt.Sprintf("%v: %s", ErrPositionLimit, strings.Join(s, ", "))
}

func (e *LimitError) Unwrap() error {
	return ErrPositionLimit
}

// HomeAllError collects the groups that failed to home.
type HomeAllError struct {
	Failed map[axis.Group]error
}

func (e *HomeAllError) Error() string {
	var s []string
	for _, g := range homeOrder {
		if err, ok := e.Failed[g]; ok {
			s = append(s, err.Error())
		}
	}
	return "home all: " + strings.Join(s, "; ")
}

func (e *HomeAllError) Unwrap() []error {
	var el []error
	for _, g := range homeOrder {
		if err, ok := e.Failed[g]; ok {
			el = append(el, err)
		}
	}
	return el
}

// hardware makes sure err matches ErrHardwareIO.
func hardware(err error) error {
	if errors.Is(err, ErrHardwareIO) {
		return err
	}
	return errors.Wrap(ErrHardwareIO, err.Error())
}

// faulting reports whether err leaves the group without a trusted reference.
func faulting(err error) bool {
	return errors.Is(err, ErrHardwareIO) || errors.Is(err, ErrSensorFault) || errors.Is(err, ErrRepeatability)
}
