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

package governor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	g := New()
	assert.EqualValues(t, 3, g.Limit("research"))
	assert.EqualValues(t, 1, g.Limit("dimension_reduction"))
	assert.EqualValues(t, 0, g.Limit("unknown"))
}

func TestAcquire_BoundsConcurrency(t *testing.T) {
	g := New()
	g.SetLimit("stage", 2)

	var mu sync.Mutex
	running, peak := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(context.Background(), "stage")
			require.NoError(t, err)
			defer release()

			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 2)
	assert.Greater(t, peak, 0)
}

func TestAcquire_UnregisteredStageIsUnbounded(t *testing.T) {
	g := New()
	release, err := g.Acquire(context.Background(), "anything")
	require.NoError(t, err)
	release()
}

func TestAcquire_ContextCancelled(t *testing.T) {
	g := New()
	g.SetLimit("stage", 1)

	release, err := g.Acquire(context.Background(), "stage")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = g.Acquire(ctx, "stage")
	require.Error(t, err)
}

func TestRelease_Idempotent(t *testing.T) {
	g := New()
	g.SetLimit("stage", 1)

	release, err := g.Acquire(context.Background(), "stage")
	require.NoError(t, err)
	release()
	release() // second call is a no-op

	// The slot is free exactly once.
	release2, err := g.Acquire(context.Background(), "stage")
	require.NoError(t, err)
	release2()
}

func TestSetLimit_ZeroRemovesBound(t *testing.T) {
	g := New()
	g.SetLimit("research", 0)
	assert.EqualValues(t, 0, g.Limit("research"))

	release, err := g.Acquire(context.Background(), "research")
	require.NoError(t, err)
	release()
}
