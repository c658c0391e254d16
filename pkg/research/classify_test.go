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

package research

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kadirpekel/deepresearch/pkg/driver"
	"github.com/kadirpekel/deepresearch/pkg/httpclient"
	"github.com/kadirpekel/deepresearch/pkg/jsonx"
	"github.com/kadirpekel/deepresearch/pkg/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category string
	}{
		{"nil", nil, ""},
		{"http 401", &httpclient.RetryableError{StatusCode: 401, Message: "unauthorized"}, ErrorAuth},
		{"http 404", &httpclient.RetryableError{StatusCode: 404, Message: "gone"}, ErrorNotFound},
		{"http 429", &httpclient.RetryableError{StatusCode: 429, Message: "slow down"}, ErrorRateLimit},
		{"http 503", &httpclient.RetryableError{StatusCode: 503, Message: "unavailable"}, ErrorNetwork},
		{"wrapped http", fmt.Errorf("stage failed: %w", &httpclient.RetryableError{StatusCode: 429}), ErrorRateLimit},
		{"json parse", &jsonx.ParseError{Reason: "no object found"}, ErrorValidation},
		{"deadline", context.DeadlineExceeded, ErrorTimeout},
		{"first chunk", fmt.Errorf("stream: %w", model.ErrFirstChunkTimeout), ErrorTimeout},
		{"max iterations", driver.ErrMaxIterations, ErrorModel},
		{"rate limit text", errors.New("anthropic: too many requests"), ErrorRateLimit},
		{"timeout text", errors.New("request timed out after 30s"), ErrorTimeout},
		{"auth text", errors.New("invalid api key provided"), ErrorAuth},
		{"token limit text", errors.New("prompt exceeds context length"), ErrorTokenLimit},
		{"network text", errors.New("dial tcp 10.0.0.1:443: connection refused"), ErrorNetwork},
		{"payload text", errors.New("event payload exceeds backend limit"), ErrorMemory},
		{"validation text", errors.New("validation failed for field topic"), ErrorValidation},
		{"unknown", errors.New("something odd happened"), ErrorInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, message := Classify(tt.err)
			assert.Equal(t, tt.category, category)
			if tt.err != nil {
				// The published message never leaks raw error text.
				assert.NotEmpty(t, message)
				assert.NotContains(t, message, tt.err.Error())
			}
		})
	}
}
