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
	"strings"

	"github.com/kadirpekel/deepresearch/pkg/driver"
	"github.com/kadirpekel/deepresearch/pkg/httpclient"
	"github.com/kadirpekel/deepresearch/pkg/jsonx"
	"github.com/kadirpekel/deepresearch/pkg/model"
)

// Error categories published to status. Raw error text never reaches the
// caller directly.
const (
	ErrorTimeout    = "timeout"
	ErrorRateLimit  = "rate_limit"
	ErrorNetwork    = "network"
	ErrorAuth       = "auth"
	ErrorNotFound   = "not_found"
	ErrorModel      = "model"
	ErrorTokenLimit = "token_limit"
	ErrorValidation = "validation"
	ErrorMemory     = "memory"
	ErrorInternal   = "internal"
)

// Classify maps an error to a category and a user-facing message.
func Classify(err error) (string, string) {
	if err == nil {
		return "", ""
	}

	var retryable *httpclient.RetryableError
	if errors.As(err, &retryable) {
		switch retryable.StatusCode {
		case 401, 403:
			return ErrorAuth, "Authentication with an upstream service failed."
		case 404:
			return ErrorNotFound, "An upstream resource was not found."
		case 429:
			return ErrorRateLimit, "An upstream service is rate limiting requests; the stage will be retried."
		}
		if retryable.StatusCode >= 500 {
			return ErrorNetwork, "An upstream service is temporarily unavailable."
		}
	}

	var parseErr *jsonx.ParseError
	if errors.As(err, &parseErr) {
		return ErrorValidation, "The model returned output that could not be parsed."
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, model.ErrFirstChunkTimeout):
		return ErrorTimeout, "An operation timed out; partial results were kept where possible."
	case errors.Is(err, driver.ErrMaxIterations):
		return ErrorModel, "The research agent reached its iteration limit; partial results were kept."
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return ErrorRateLimit, "An upstream service is rate limiting requests; the stage will be retried."
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline"):
		return ErrorTimeout, "An operation timed out; partial results were kept where possible."
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "api key"):
		return ErrorAuth, "Authentication with an upstream service failed."
	case strings.Contains(msg, "not found"):
		return ErrorNotFound, "An upstream resource was not found."
	case strings.Contains(msg, "token") && strings.Contains(msg, "limit"),
		strings.Contains(msg, "context length"),
		strings.Contains(msg, "max_tokens"):
		return ErrorTokenLimit, "The model's context limit was exceeded; content was reduced."
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "dial tcp"):
		return ErrorNetwork, "A network error interrupted an upstream call."
	case strings.Contains(msg, "payload") && strings.Contains(msg, "exceed"):
		return ErrorMemory, "A payload exceeded a storage limit and was truncated."
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation"):
		return ErrorValidation, "Input validation failed."
	}

	return ErrorInternal, "An internal error occurred while processing the research."
}
