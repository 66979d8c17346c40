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

// Motion control for the fabric cutter.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aamcrae/fabriccnc/axis"
	"github.com/aamcrae/fabriccnc/io"
	"github.com/aamcrae/fabriccnc/motion"
	"github.com/aamcrae/fabriccnc/sensor"
	"github.com/aamcrae/fabriccnc/simulator"
)

type options struct {
	config string
	sim    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "fabriccnc",
		Short:        "Motion control for the fabric cutter",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.config, "config", "c", "", "Configuration file (built in machine if empty)")
	cmd.PersistentFlags().BoolVar(&opts.sim, "sim", false, "Use simulated motors and sensors")
	cmd.AddCommand(
		homeCmd(&opts),
		jogCmd(&opts),
		moveCmd(&opts),
		runCmd(&opts),
		statusCmd(&opts),
		serveCmd(&opts),
		consoleCmd(&opts),
		configCmd(&opts),
	)
	return cmd
}

func loadMachine(opts *options) (*axis.Machine, error) {
	if opts.config == "" {
		return axis.Default(), nil
	}
	return axis.ParseFile(opts.config)
}

// openEngine starts an engine on the configured hardware. An interrupt
// stops the running request. The returned function shuts everything down.
func openEngine(opts *options) (*motion.Engine, func(), error) {
	m, err := loadMachine(opts)
	if err != nil {
		return nil, nil, err
	}
	var hw motion.Hardware
	release := func() error { return nil }
	if opts.sim || m.Backend == "sim" {
		clk := io.NewSystemClock()
		sim := simulator.New(m, clk)
		hw = motion.Hardware{Outputs: sim.Outputs(), Sensors: sim.Sensors(), Clock: clk}
		log.Printf("Using simulated machine")
	} else {
		hw, release, err = gpioHardware(m)
		if err != nil {
			return nil, nil, err
		}
	}
	e, err := motion.NewEngine(m, hw)
	if err != nil {
		release()
		return nil, nil, err
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sig {
			log.Printf("Interrupted, stopping")
			e.Stop()
		}
	}()
	return e, func() {
		signal.Stop(sig)
		if err := e.Close(); err != nil {
			log.Printf("Close: %v", err)
		}
		if err := release(); err != nil {
			log.Printf("GPIO: %v", err)
		}
	}, nil
}

// gpioHardware requests the step, direction, enable and sensor lines of
// every motor from the configured backend.
func gpioHardware(m *axis.Machine) (motion.Hardware, func() error, error) {
	b, err := io.Open(m.Backend, m.Chip)
	if err != nil {
		return motion.Hardware{}, nil, err
	}
	clk := io.NewSystemClock()
	hw := motion.Hardware{
		Outputs: make(map[axis.Id]io.StepOutput),
		Sensors: make(map[axis.Id]sensor.Input),
		Clock:   clk,
	}
	fail := func(id axis.Id, what string, pin int, err error) (motion.Hardware, func() error, error) {
		b.Close()
		return motion.Hardware{}, nil, fmt.Errorf("%s: %s pin %d: %v", id, what, pin, err)
	}
	for _, id := range axis.Ids {
		c := m.Axis(id)
		if c == nil {
			continue
		}
		step, err := b.Output(c.Pins.Step)
		if err != nil {
			return fail(id, "step", c.Pins.Step, err)
		}
		dir, err := b.Output(c.Pins.Dir)
		if err != nil {
			return fail(id, "dir", c.Pins.Dir, err)
		}
		var en io.Setter
		if c.Pins.Enable >= 0 {
			en, err = b.Output(c.Pins.Enable)
			if err != nil {
				return fail(id, "enable", c.Pins.Enable, err)
			}
		}
		hw.Outputs[id] = io.NewPinOutput(step, dir, en, c.Pins.EnableActiveLow, m.PulseWidth, m.PulseLow, clk)
		if c.Pins.Sensor >= 0 {
			in, err := b.Input(c.Pins.Sensor, c.Pins.SensorActiveLow)
			if err != nil {
				return fail(id, "sensor", c.Pins.Sensor, err)
			}
			hw.Sensors[id] = io.NewLevel(in, c.Pins.SensorActiveLow)
		}
	}
	return hw, b.Close, nil
}
