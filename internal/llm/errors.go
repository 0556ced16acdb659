package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Sentinel errors for model routing and classification.
var (
	// ErrUnknownModel indicates no registered model matches the id.
	ErrUnknownModel = errors.New("unknown model")
	// ErrUnknownProvider indicates no engine is registered for the
	// model's provider prefix.
	ErrUnknownProvider = errors.New("unknown model provider")
	// ErrContextOverflow indicates the prompt exceeded the model's
	// context window. Fatal for the cell; never retried.
	ErrContextOverflow = errors.New("model context length exceeded")
)

// IsRetriable reports whether a provider error is transient: rate limits,
// request timeouts and server-side failures. Context overflow and other
// 4xx rejections are permanent.
func IsRetriable(err error) bool {
	if err == nil || IsContextOverflow(err) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retriableStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retriableStatus(reqErr.HTTPStatusCode)
	}

	return false
}

func retriableStatus(status int) bool {
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return true
	}

	return status >= http.StatusInternalServerError
}

// IsContextOverflow reports whether the error is the provider's
// context-length rejection.
func IsContextOverflow(err error) bool {
	if errors.Is(err, ErrContextOverflow) {
		return true
	}

	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
		return true
	}

	return apiErr.HTTPStatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Message), "context length")
}

// wrapProviderError normalizes a provider failure, mapping context
// overflow onto its sentinel so callers can match with errors.Is.
func wrapProviderError(op string, err error) error {
	if err == nil {
		return nil
	}

	if IsContextOverflow(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrContextOverflow, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
