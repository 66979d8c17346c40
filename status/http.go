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

// HTTP server for machine status and an image of the cutting bed.
package status

import (
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log"
	"math"
	"net/http"

	"github.com/fogleman/gg"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/motion"
	"github.com/aamcrae/fabriccnc/sensor"
)

const (
	scale  = 10.0 // Pixels per inch
	margin = 20.0
)

// Source is the engine as seen by the status server.
type Source interface {
	Position() motion.Position
	State() motion.State
	SensorStatus() (map[axis.Id]sensor.Status, error)
	Faults() map[axis.Group]error
	Machine() *axis.Machine
}

// Sensor is the JSON form of a sensor status.
type Sensor struct {
	Raw          bool    `json:"raw"`
	Debounced    bool    `json:"debounced"`
	SinceChange  float64 `json:"since_change"` // Seconds
	Noise        int     `json:"noise"`
	Interference bool    `json:"interference,omitempty"`
}

// Report is the JSON body of /status.
type Report struct {
	State    string             `json:"state"`
	Position map[string]float64 `json:"position"`
	Sensors  map[string]Sensor  `json:"sensors"`
	Faults   map[string]string  `json:"faults,omitempty"`
}

// NewReport collects the current status of the engine.
func NewReport(src Source) (*Report, error) {
	ss, err := src.SensorStatus()
	if err != nil {
		return nil, err
	}
	r := &Report{
		State:    src.State().String(),
		Position: make(map[string]float64),
		Sensors:  make(map[string]Sensor),
	}
	for g, v := range src.Position() {
		r.Position[string(g)] = v
	}
	for id, s := range ss {
		r.Sensors[string(id)] = Sensor{
			Raw:          s.Raw,
			Debounced:    s.Debounced,
			SinceChange:  s.SinceChange.Seconds(),
			Noise:        s.Noise,
			Interference: s.Interference,
		}
	}
	if f := src.Faults(); len(f) > 0 {
		r.Faults = make(map[string]string)
		for g, err := range f {
			r.Faults[string(g)] = err.Error()
		}
	}
	return r, nil
}

// Handler serves /status and /bed.jpg.
func Handler(src Source) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		rep, err := NewReport(src)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rep); err != nil {
			log.Printf("Error writing status: %v", err)
		}
	})
	mux.HandleFunc("/bed.jpg", func(w http.ResponseWriter, r *http.Request) {
		c := Draw(src.Machine(), src.Position())
		w.Header().Set("Content-Type", "image/jpeg")
		if err := jpeg.Encode(w, c.Image(), nil); err != nil {
			log.Printf("Error writing image: %v", err)
		}
	})
	return mux
}

// Serve runs the status server until it fails.
func Serve(port int, src Source) error {
	url := fmt.Sprintf(":%d", port)
	log.Printf("Starting server on %s", url)
	server := &http.Server{Addr: url, Handler: Handler(src)}
	return server.ListenAndServe()
}

// Draw renders a plan view of the bed with the cutting head. The head is
// red while the blade is down and blue when lifted; the line through it
// shows the blade angle.
func Draw(m *axis.Machine, p motion.Position) *gg.Context {
	w, h := 60.0, 40.0
	if l, ok := m.Limits(axis.GroupX); ok {
		w = l.Max - l.Min
	}
	if l, ok := m.Limits(axis.GroupY); ok {
		h = l.Max - l.Min
	}
	c := gg.NewContext(int(w*scale+2*margin), int(h*scale+2*margin))
	c.SetRGB(1, 1, 1)
	c.Clear()
	c.SetRGB(0.6, 0.6, 0.6)
	c.SetLineWidth(1)
	for x := 0.0; x <= w; x += 10 {
		c.DrawLine(margin+x*scale, margin, margin+x*scale, margin+h*scale)
	}
	for y := 0.0; y <= h; y += 10 {
		c.DrawLine(margin, margin+y*scale, margin+w*scale, margin+y*scale)
	}
	c.Stroke()
	c.SetRGB(0, 0, 0)
	c.SetLineWidth(2)
	c.DrawRectangle(margin, margin, w*scale, h*scale)
	c.Stroke()

	x0, y0 := 0.0, 0.0
	if l, ok := m.Limits(axis.GroupX); ok {
		x0 = l.Min
	}
	if l, ok := m.Limits(axis.GroupY); ok {
		y0 = l.Min
	}
	hx := margin + (p[axis.GroupX]-x0)*scale
	// Y increases up the image.
	hy := margin + (h-(p[axis.GroupY]-y0))*scale
	if p[axis.GroupZ] < 0 {
		c.SetRGB(1, 0, 0)
	} else {
		c.SetRGB(0, 0, 1)
	}
	c.DrawCircle(hx, hy, 6)
	c.Fill()
	rad := p[axis.GroupR] * math.Pi / 180
	c.SetLineWidth(3)
	c.DrawLine(hx-15*math.Cos(rad), hy+15*math.Sin(rad), hx+15*math.Cos(rad), hy-15*math.Sin(rad))
	c.Stroke()
	var labels []string
	for _, g := range axis.Groups {
		if v, ok := p[g]; ok {
			labels = append(labels, fmt.Sprintf("%s %.3f", g, v))
		}
	}
	c.SetRGB(0, 0, 0)
	for i, s := range labels {
		c.DrawString(s, margin+float64(i)*100, margin/2+4)
	}
	return c
}
