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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/motion"
	"github.com/aamcrae/fabriccnc/status"
	"github.com/aamcrae/fabriccnc/waypoint"
)

func homeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "home [group...]",
		Short: "Home the named axis groups, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			var groups []axis.Group
			for _, a := range args {
				g, err := axis.ParseGroup(a)
				if err != nil {
					return err
				}
				groups = append(groups, g)
			}
			e, done, err := openEngine(opts)
			if err != nil {
				return err
			}
			defer done()
			if len(groups) == 0 {
				err = e.HomeAll()
			} else {
				for _, g := range groups {
					if err = e.HomeAxis(g); err != nil {
						break
					}
				}
			}
			fmt.Println(e.Position())
			return err
		},
	}
}

func jogCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "jog group distance",
		Short: "Move one axis group by a relative distance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := axis.ParseGroup(args[0])
			if err != nil {
				return err
			}
			d, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return errors.Wrapf(err, "distance %q", args[1])
			}
			e, done, err := openEngine(opts)
			if err != nil {
				return err
			}
			defer done()
			err = e.Jog(g, d)
			fmt.Println(e.Position())
			return err
		},
	}
}

func moveCmd(opts *options) *cobra.Command {
	var x, y, z, r, feed float64
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Home, then move to an absolute position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := motion.Position{}
			flags := map[axis.Group]*float64{axis.GroupX: &x, axis.GroupY: &y, axis.GroupZ: &z, axis.GroupR: &r}
			for g, v := range flags {
				if cmd.Flags().Changed(strings.ToLower(string(g))) {
					target[g] = *v
				}
			}
			if len(target) == 0 {
				return errors.New("no target position given")
			}
			e, done, err := openEngine(opts)
			if err != nil {
				return err
			}
			defer done()
			if err := e.HomeAll(); err != nil {
				return err
			}
			err = e.MoveTo(target, feed)
			fmt.Println(e.Position())
			return err
		},
	}
	cmd.Flags().Float64Var(&x, "x", 0, "X position (inches)")
	cmd.Flags().Float64Var(&y, "y", 0, "Y position (inches)")
	cmd.Flags().Float64Var(&z, "z", 0, "Z position (inches)")
	cmd.Flags().Float64Var(&r, "r", 0, "Blade angle (degrees)")
	cmd.Flags().Float64VarP(&feed, "feed", "f", 0, "Feed rate (units per second), 0 for the configured rate")
	return cmd
}

func runCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run file.yaml",
		Short: "Home, then move through a list of waypoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := waypoint.Load(args[0])
			if err != nil {
				return err
			}
			e, done, err := openEngine(opts)
			if err != nil {
				return err
			}
			defer done()
			if err := e.HomeAll(); err != nil {
				return err
			}
			return path.Run(e, func(i int, pt waypoint.Point) {
				fmt.Printf("%d: %s\n", i, e.Position())
			})
		},
	}
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the sensor status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine(opts)
			if err != nil {
				return err
			}
			defer done()
			rep, err := status.NewReport(e)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
}

func serveCmd(opts *options) *cobra.Command {
	var port int
	var home bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the status web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine(opts)
			if err != nil {
				return err
			}
			defer done()
			if home {
				if err := e.HomeAll(); err != nil {
					return err
				}
			}
			return status.Serve(port, e)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Web server port number")
	cmd.Flags().BoolVar(&home, "home", false, "Home all axes before serving")
	return cmd
}

func consoleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive jogging and homing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine(opts)
			if err != nil {
				return err
			}
			defer done()
			return console(e, os.Stdin, os.Stdout)
		},
	}
}

func configCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate and print the machine configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadMachine(opts)
			if err != nil {
				return err
			}
			if err := m.Validate(); err != nil {
				return err
			}
			fmt.Printf("backend %s (%s), pulse %s/%s, ramp %g/%d/%g\n", m.Backend, m.Chip, m.PulseWidth, m.PulseLow, m.RampFraction, m.RampMax, m.RampFactor)
			for _, id := range axis.Ids {
				if c := m.Axis(id); c != nil {
					fmt.Println(c.Describe())
				}
			}
			return nil
		},
	}
}
