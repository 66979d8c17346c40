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
	"github.com/stianeikeland/go-rpio/v4"
)

// rpioBackend maps the Raspberry Pi GPIO registers, so each write is a
// single store rather than a system call.
type rpioBackend struct{}

type rpioPin struct {
	pin rpio.Pin
}

func openRpio() (*rpioBackend, error) {
	if err := rpio.Open(); err != nil {
		return nil, err
	}
	return &rpioBackend{}, nil
}

func (b *rpioBackend) Output(n int) (Setter, error) {
	p := rpio.Pin(n)
	p.Output()
	p.Low()
	return &rpioPin{pin: p}, nil
}

func (b *rpioBackend) Input(n int, pullUp bool) (Getter, error) {
	p := rpio.Pin(n)
	p.Input()
	if pullUp {
		p.PullUp()
	}
	return &rpioPin{pin: p}, nil
}

func (b *rpioBackend) Close() error {
	return rpio.Close()
}

func (p *rpioPin) Set(v int) error {
	if v == 0 {
		p.pin.Low()
	} else {
		p.pin.High()
	}
	return nil
}

func (p *rpioPin) Get() (int, error) {
	if p.pin.Read() == rpio.High {
		return 1, nil
	}
	return 0, nil
}
