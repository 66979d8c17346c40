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
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// cdevBackend requests lines from the GPIO character device.
type cdevBackend struct {
	chip  string
	mu    sync.Mutex
	lines []*gpiocdev.Line
}

type cdevLine struct {
	l *gpiocdev.Line
}

func openCdev(chip string) *cdevBackend {
	return &cdevBackend{chip: chip}
}

func (b *cdevBackend) request(pin int, opts ...gpiocdev.LineReqOption) (*cdevLine, error) {
	l, err := gpiocdev.RequestLine(b.chip, pin, opts...)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.lines = append(b.lines, l)
	b.mu.Unlock()
	return &cdevLine{l: l}, nil
}

func (b *cdevBackend) Output(pin int) (Setter, error) {
	return b.request(pin, gpiocdev.AsOutput(0))
}

func (b *cdevBackend) Input(pin int, pullUp bool) (Getter, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
	if pullUp {
		opts = append(opts, gpiocdev.WithPullUp)
	}
	return b.request(pin, opts...)
}

func (b *cdevBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var first error
	for _, l := range b.lines {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	b.lines = nil
	return first
}

func (c *cdevLine) Set(v int) error {
	return c.l.SetValue(v)
}

func (c *cdevLine) Get() (int, error) {
	return c.l.Value()
}
