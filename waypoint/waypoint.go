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

// Package waypoint reads lists of absolute targets produced by the path
// planner, for the run command.
//
// Sample file:
//
//	feed: 2.0            # default feed, units/sec
//	points:
//	  - {z: 0}
//	  - {x: 10, y: 5, r: 90}
//	  - {z: -0.5, feed: 0.5}
//	  - {x: 20, y: 5}
package waypoint

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/motion"
)

// Point is one absolute target. Unset groups do not move.
type Point struct {
	X    *float64 `yaml:"x"`
	Y    *float64 `yaml:"y"`
	Z    *float64 `yaml:"z"`
	R    *float64 `yaml:"r"`
	Feed float64  `yaml:"feed"`
}

// Path is a list of points.
type Path struct {
	Feed   float64 `yaml:"feed"`
	Points []Point `yaml:"points"`
}

// Load reads a path from a YAML file.
func Load(name string) (*Path, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	p, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	return p, nil
}

// Parse decodes and checks a path.
func Parse(b []byte) (*Path, error) {
	var p Path
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	if p.Feed < 0 {
		return nil, fmt.Errorf("negative feed %g", p.Feed)
	}
	for i, pt := range p.Points {
		if pt.X == nil && pt.Y == nil && pt.Z == nil && pt.R == nil {
			return nil, fmt.Errorf("point %d: no axis set", i+1)
		}
		if pt.Feed < 0 {
			return nil, fmt.Errorf("point %d: negative feed %g", i+1, pt.Feed)
		}
	}
	return &p, nil
}

// Target returns the point as an engine position.
func (pt Point) Target() motion.Position {
	p := make(motion.Position)
	set := func(g axis.Group, v *float64) {
		if v != nil {
			p[g] = *v
		}
	}
	set(axis.GroupX, pt.X)
	set(axis.GroupY, pt.Y)
	set(axis.GroupZ, pt.Z)
	set(axis.GroupR, pt.R)
	return p
}

// FeedFor returns the feed for point i, falling back to the path feed.
func (p *Path) FeedFor(i int) float64 {
	if f := p.Points[i].Feed; f > 0 {
		return f
	}
	return p.Feed
}

// Mover is the part of the engine a path runs on.
type Mover interface {
	MoveTo(motion.Position, float64) error
}

// Run moves through every point in turn, stopping at the first error.
// Clamped targets are logged by the engine and do not stop the run.
func (p *Path) Run(m Mover, progress func(i int, pt Point)) error {
	for i, pt := range p.Points {
		if progress != nil {
			progress(i, pt)
		}
		err := m.MoveTo(pt.Target(), p.FeedFor(i))
		var le *motion.LimitError
		if err != nil && !errors.As(err, &le) {
			return errors.Wrapf(err, "point %d", i+1)
		}
	}
	return nil
}
