package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/polis-labs/polis/pkg/models"
)

// CallError carries a provider failure through the retry loop with its
// usage taxonomy and whether another attempt can help.
type CallError struct {
	Provider  string
	Status    int // HTTP status when known, 0 for transport failures
	Type      models.LLMErrorType
	Retryable bool
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call failed (%s): %v", e.Provider, e.Type, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP status to the usage taxonomy. Retryability is
// independent of the bucket: a 400 and a 503 are both "server" family, but
// only the latter is worth another attempt.
func classifyStatus(status int) (models.LLMErrorType, bool) {
	switch {
	case status == 408:
		return models.LLMErrorTimeout, true
	case status == 429:
		return models.LLMErrorRateLimited, true
	case status == 401 || status == 403:
		return models.LLMErrorAuth, false
	case status == 402:
		return models.LLMErrorQuota, false
	case status >= 500:
		return models.LLMErrorServer, true
	default:
		return models.LLMErrorServer, false
	}
}

// classifyErr folds an SDK or transport error into a CallError. Adapters
// pass the HTTP status when their SDK exposes one, 0 otherwise.
func classifyErr(provider string, status int, err error) *CallError {
	var et models.LLMErrorType
	var retryable bool
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		et, retryable = models.LLMErrorTimeout, true
	case errors.Is(err, context.Canceled):
		// A canceled parent context is a local shutdown, not a provider
		// fault. Recorded as timeout, never retried.
		et, retryable = models.LLMErrorTimeout, false
	case status > 0:
		et, retryable = classifyStatus(status)
	default:
		et, retryable = models.LLMErrorNetwork, true
	}
	return &CallError{Provider: provider, Status: status, Type: et, Retryable: retryable, Err: err}
}

// asCallError normalizes any error from an adapter. Adapters return
// *CallError already; anything else is treated as a network fault.
func asCallError(provider string, err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return classifyErr(provider, 0, err)
}
