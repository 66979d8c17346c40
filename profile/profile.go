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

// Package profile shapes the delays between steps of a move so that the
// dominant motor accelerates and decelerates along a half cosine.
package profile

import (
	"math"
	"time"
)

// Params controls the ramp shape.
type Params struct {
	Fraction float64 // Fraction of the move spent in each ramp
	Max      int     // Maximum steps in each ramp, 0 for no limit
	Factor   float64 // The first and last delays are Base*(1+Factor)
}

// DefaultParams ramps over a quarter of the move, at most 100 steps,
// starting at half the cruise speed.
func DefaultParams() Params {
	return Params{Fraction: 0.25, Max: 100, Factor: 1.0}
}

// Profile is the delay plan for one move.
type Profile struct {
	Total  int
	Accel  int
	Decel  int
	Base   time.Duration // Cruise period
	Factor float64
}

// Plan computes the profile for a move of total steps at a cruise period of base.
func Plan(total int, base time.Duration, p Params) Profile {
	pr := Profile{Total: total, Base: base, Factor: p.Factor}
	if total <= 0 {
		pr.Total = 0
		return pr
	}
	ramp := int(float64(total) * p.Fraction)
	if p.Max > 0 && ramp > p.Max {
		ramp = p.Max
	}
	if ramp < 0 {
		ramp = 0
	}
	pr.Accel, pr.Decel = ramp, ramp
	if pr.Accel+pr.Decel > total {
		pr.Accel = total / 2
		pr.Decel = total - pr.Accel
	}
	return pr
}

// Cruise is the number of steps at the base period.
func (p Profile) Cruise() int {
	return p.Total - p.Accel - p.Decel
}

// Delay returns the period following step i.
func (p Profile) Delay(i int) time.Duration {
	if i < 0 {
		i = 0
	}
	if i >= p.Total {
		i = p.Total - 1
	}
	var scale float64
	if i < p.Accel {
		scale = ease(float64(i) / float64(p.Accel))
	}
	if rem := p.Total - 1 - i; rem < p.Decel {
		scale = math.Max(scale, ease(float64(rem)/float64(p.Decel)))
	}
	return p.Base + time.Duration(float64(p.Base)*p.Factor*scale)
}

// Duration is the total of all delays in the profile.
func (p Profile) Duration() time.Duration {
	var d time.Duration
	for i := 0; i < p.Total; i++ {
		d += p.Delay(i)
	}
	return d
}

// ease falls from 1 at x=0 to 0 at x=1.
func ease(x float64) float64 {
	return (1 + math.Cos(math.Pi*x)) / 2
}
