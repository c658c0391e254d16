// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

// ErrFirstChunkTimeout is returned when a streaming call produces no output
// within the deadline. Hung upstreams surface here instead of stalling the
// whole response window.
var ErrFirstChunkTimeout = errors.New("timed out waiting for first stream chunk")

type streamItem struct {
	resp *Response
	err  error
}

// WithFirstChunkTimeout wraps a streaming sequence: if the first item does
// not arrive within d, the sequence yields ErrFirstChunkTimeout. Later
// items are passed through unchanged.
func WithFirstChunkTimeout(seq iter.Seq2[*Response, error], d time.Duration) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		items := make(chan streamItem)
		done := make(chan struct{})
		defer close(done)

		go func() {
			defer close(items)
			for resp, err := range seq {
				select {
				case items <- streamItem{resp, err}:
				case <-done:
					return
				}
			}
		}()

		timer := time.NewTimer(d)
		defer timer.Stop()

		first := true
		for {
			if first {
				select {
				case item, ok := <-items:
					if !ok {
						return
					}
					first = false
					if !yield(item.resp, item.err) {
						return
					}
				case <-timer.C:
					yield(nil, fmt.Errorf("%w after %v", ErrFirstChunkTimeout, d))
					return
				}
				continue
			}

			item, ok := <-items
			if !ok {
				return
			}
			if !yield(item.resp, item.err) {
				return
			}
		}
	}
}
