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

// Interactive console for jogging and homing.

package main

import (
	"bufio"
	"fmt"
	stdio "io"
	"strconv"
	"strings"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/motion"
)

// console reads commands from in until 'q' or end of input.
func console(e *motion.Engine, in stdio.Reader, out stdio.Writer) error {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s [%s]\n", e.Position(), e.State())
		fmt.Fprint(out, "Enter command ('help' for help) ")
		text, err := reader.ReadString('\n')
		if err == stdio.EOF && text == "" {
			return nil
		} else if err != nil && err != stdio.EOF {
			return err
		}
		f := strings.Fields(text)
		if len(f) == 0 {
			continue
		}
		switch f[0] {
		case "help":
			fmt.Fprintln(out, "  help - print help")
			fmt.Fprintln(out, "  G [-]N.N - jog group G (x, y, z, r) by a distance")
			fmt.Fprintln(out, "  g G N.N - move group G to a position")
			fmt.Fprintln(out, "  h [G] - home group G, or all groups")
			fmt.Fprintln(out, "  s - show sensors")
			fmt.Fprintln(out, "  q - quit")
		case "q":
			return nil
		case "s":
			ss, err := e.SensorStatus()
			if err != nil {
				fmt.Fprintf(out, "Sensors: %v\n", err)
				break
			}
			for _, id := range axis.Ids {
				if st, ok := ss[id]; ok {
					fmt.Fprintf(out, "  %-8s raw %t debounced %t noise %d\n", id, st.Raw, st.Debounced, st.Noise)
				}
			}
		case "h":
			if len(f) == 1 {
				report(out, e.HomeAll())
				break
			}
			g, err := axis.ParseGroup(f[1])
			if err != nil {
				fmt.Fprintf(out, "%v\n", err)
				break
			}
			report(out, e.HomeAxis(g))
		case "g":
			if len(f) != 3 {
				fmt.Fprintf(out, "Unrecognised input\n")
				break
			}
			g, v, err := groupValue(f[1], f[2])
			if err != nil {
				fmt.Fprintf(out, "%v\n", err)
				break
			}
			report(out, e.MoveTo(motion.Position{g: v}, 0))
		default:
			if len(f) != 2 {
				fmt.Fprintf(out, "Unrecognised input\n")
				break
			}
			g, v, err := groupValue(f[0], f[1])
			if err != nil {
				fmt.Fprintf(out, "Unrecognised input\n")
				break
			}
			report(out, e.Jog(g, v))
		}
	}
}

func groupValue(gs, vs string) (axis.Group, float64, error) {
	g, err := axis.ParseGroup(gs)
	if err != nil {
		return "", 0, err
	}
	v, err := strconv.ParseFloat(vs, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%s: bad distance %q", g, vs)
	}
	return g, v, nil
}

func report(out stdio.Writer, err error) {
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
	}
}
