package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"relaybot/internal/models"
	"relaybot/internal/service/ai"
)

const (
	replyGeneric   = "Something went wrong. Please try again later."
	replyBusy      = "I'm handling too many requests right now. Please try again in a moment."
	replyTransient = "The AI service is busy or timed out. Please try again."
	replyPermanent = "Sorry, I couldn't process that request."
)

// HandlerError is the typed failure a handler reports to the dispatcher.
// Msg is shown to the user; Err is only logged.
type HandlerError struct {
	Kind models.Failure
	Msg  string
	Err  error
}

func (e *HandlerError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func transient(msg string, err error) *HandlerError {
	return &HandlerError{Kind: models.FailureTransient, Msg: msg, Err: err}
}

func permanent(msg string, err error) *HandlerError {
	return &HandlerError{Kind: models.FailurePermanent, Msg: msg, Err: err}
}

// asHandlerError turns any failure into a HandlerError. Untyped errors are
// internal unless they carry a cancellation.
func asHandlerError(err error) *HandlerError {
	var herr *HandlerError
	if errors.As(err, &herr) {
		return herr
	}
	if errors.Is(err, context.Canceled) {
		return &HandlerError{Kind: models.FailureCanceled, Err: err}
	}
	return &HandlerError{Kind: models.FailureInternal, Err: err}
}

// classifyAIError maps an AI backend error onto transient or permanent.
func classifyAIError(err error) *HandlerError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &HandlerError{Kind: models.FailureCanceled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return transient("The request timed out. Please try again.", err)
	case errors.Is(err, ai.ErrEmptyInput):
		return permanent("Please send some text with your message.", err)
	case errors.Is(err, ai.ErrNoImage):
		return permanent("Please attach an image.", err)
	case errors.Is(err, ai.ErrVisionUnavailable):
		return permanent("Image understanding is not available right now.", err)
	case errors.Is(err, ai.ErrImageTooLarge):
		return permanent("That image is too large.", err)
	case errors.Is(err, ai.ErrUnsupportedImage):
		return permanent("That file type is not supported.", err)
	case errors.Is(err, ai.ErrEmptyResponse):
		return permanent("The AI returned an empty response. Try rephrasing your message.", err)
	}

	var fetchErr *ai.FetchError
	if errors.As(err, &fetchErr) {
		if retryableStatus(fetchErr.StatusCode) {
			return transient("Couldn't download the image. Please try again.", err)
		}
		return permanent("Couldn't download the image.", err)
	}

	if code, status, ok := genaiStatus(err); ok {
		if retryableStatus(code) || retryableStatusName(status) {
			return transient(replyTransient, err)
		}
		return permanent(replyPermanent, err)
	}

	// eino providers flatten errors into strings
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"resource_exhausted", "unavailable", "rate limit", "too many requests",
		"status code: 429", "status code: 5", "timeout", "deadline exceeded",
		"connection reset", "overloaded",
	} {
		if strings.Contains(msg, marker) {
			return transient(replyTransient, err)
		}
	}
	return permanent(replyPermanent, err)
}

// genaiStatus digs the HTTP code and RPC status out of a genai error.
func genaiStatus(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status, true
	}
	return 0, "", false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func retryableStatusName(status string) bool {
	switch strings.ToUpper(status) {
	case "RESOURCE_EXHAUSTED", "UNAVAILABLE", "DEADLINE_EXCEEDED", "INTERNAL":
		return true
	}
	return false
}
