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

package waypoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/motion"
)

const sample = `
feed: 2
points:
  - {z: 0}
  - {x: 10, y: 5, r: 90}
  - {z: -0.5, feed: 0.5}
  - x: 20
    y: 5.25
`

func TestLoad(t *testing.T) {
	name := filepath.Join(t.TempDir(), "path.yaml")
	require.NoError(t, os.WriteFile(name, []byte(sample), 0644))
	p, err := Load(name)
	require.NoError(t, err)
	require.Len(t, p.Points, 4)
	assert.Equal(t, motion.Position{axis.GroupZ: 0}, p.Points[0].Target())
	assert.Equal(t, motion.Position{axis.GroupX: 10, axis.GroupY: 5, axis.GroupR: 90}, p.Points[1].Target())
	assert.Equal(t, motion.Position{axis.GroupX: 20, axis.GroupY: 5.25}, p.Points[3].Target())
	assert.Equal(t, 2.0, p.FeedFor(0))
	assert.Equal(t, 0.5, p.FeedFor(2))
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{
		"points:\n  - {feed: 1}\n",
		"feed: -1\npoints: []\n",
		"points:\n  - {x: 1, feed: -2}\n",
		"points: [1, 2\n",
	} {
		_, err := Parse([]byte(s))
		assert.Error(t, err, s)
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type recorder struct {
	moves []motion.Position
	feeds []float64
	fail  map[int]error
}

func (r *recorder) MoveTo(p motion.Position, feed float64) error {
	r.moves = append(r.moves, p)
	r.feeds = append(r.feeds, feed)
	return r.fail[len(r.moves)]
}

func TestRun(t *testing.T) {
	p, err := Parse([]byte(sample))
	require.NoError(t, err)

	r := &recorder{fail: map[int]error{2: &motion.LimitError{}}}
	var seen []int
	require.NoError(t, p.Run(r, func(i int, pt Point) { seen = append(seen, i) }))
	assert.Len(t, r.moves, 4)
	assert.Equal(t, []float64{2, 2, 0.5, 2}, r.feeds)
	assert.Equal(t, []int{0, 1, 2, 3}, seen)

	r = &recorder{fail: map[int]error{3: motion.ErrSensorFault}}
	err = p.Run(r, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, motion.ErrSensorFault))
	assert.Contains(t, err.Error(), "point 3")
	assert.Len(t, r.moves, 3)
}
