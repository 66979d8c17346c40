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
	"log"
	"sync"

	gpio "github.com/aamcrae/gpio"
)

// sysfsBackend uses the exported /sys/class/gpio files. It is the slowest
// backend; every write is a system call.
type sysfsBackend struct {
	mu   sync.Mutex
	pins []*gpio.Gpio
}

func openSysfs() *sysfsBackend {
	return &sysfsBackend{}
}

func (b *sysfsBackend) add(p *gpio.Gpio) {
	b.mu.Lock()
	b.pins = append(b.pins, p)
	b.mu.Unlock()
}

func (b *sysfsBackend) Output(pin int) (Setter, error) {
	p, err := gpio.OutputPin(pin)
	if err != nil {
		return nil, err
	}
	b.add(p)
	return p, nil
}

// Input exports the pin as an input. Pull ups cannot be set through sysfs
// and must be configured in the device tree.
func (b *sysfsBackend) Input(pin int, pullUp bool) (Getter, error) {
	p, err := gpio.Pin(pin)
	if err != nil {
		return nil, err
	}
	if pullUp {
		log.Printf("gpio %d: sysfs cannot enable pull up, relying on the device tree", pin)
	}
	b.add(p)
	return p, nil
}

func (b *sysfsBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pins {
		p.Close()
	}
	b.pins = nil
	return nil
}
