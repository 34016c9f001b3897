package langfuse

import (
	"fmt"
	"net/http"
	"strings"
)

// HTTPStatusError is a non-2xx response from the ingestion endpoint.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("langfuse ingestion: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ItemError is one rejected batch item from a 207 response.
type ItemError struct {
	ID      string `json:"id"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// IngestionError reports batch items the backend rejected.
type IngestionError struct {
	Items []ItemError
}

func (e *IngestionError) Error() string {
	msgs := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		msg := it.Message
		if msg == "" && it.Error != nil {
			msg = fmt.Sprint(it.Error)
		}
		msgs = append(msgs, fmt.Sprintf("%s (%d): %s", it.ID, it.Status, msg))
	}
	return fmt.Sprintf("langfuse ingestion: %d item(s) rejected: %s", len(e.Items), strings.Join(msgs, "; "))
}

// Retryable reports whether any rejected item failed transiently.
func (e *IngestionError) Retryable() bool {
	for _, it := range e.Items {
		if it.Status == http.StatusTooManyRequests || it.Status >= 500 {
			return true
		}
	}
	return false
}
