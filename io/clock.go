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

package io

import (
	"time"
)

// Waiter provides the delays between steps.
type Waiter interface {
	Wait(time.Duration)
}

// Clock is the time base shared by step timing and sensor debouncing.
type Clock interface {
	Now() time.Time
	Wait(time.Duration)
}

const defaultSpin = 200 * time.Microsecond

// SystemClock waits in real time. Delays shorter than Spin are spun in a
// busy loop, and longer delays sleep for all but the last Spin interval;
// pulse widths of a few microseconds are well below the scheduler's
// sleep resolution.
type SystemClock struct {
	Spin time.Duration
}

// NewSystemClock returns a clock with the default spin interval.
func NewSystemClock() *SystemClock {
	return &SystemClock{Spin: defaultSpin}
}

func (c *SystemClock) Now() time.Time {
	return time.Now()
}

func (c *SystemClock) Wait(d time.Duration) {
	if d <= 0 {
		return
	}
	start := time.Now()
	if d > c.Spin {
		time.Sleep(d - c.Spin)
	}
	for time.Since(start) < d {
	}
}
