package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tendant/simple-proxyprep/internal/processor"
	"github.com/tendant/simple-proxyprep/pkg/schema"
)

// ErrNotReady is returned while settings are not hydrated. Nothing was
// submitted and no state changed; the caller retries later.
var ErrNotReady = errors.New("settings not hydrated")

// LogicalError reports a worker run that completed without producing variants.
type LogicalError struct {
	Key string
	Msg string
}

func (e *LogicalError) Error() string {
	return fmt.Sprintf("processing %q failed: %s", e.Key, e.Msg)
}

// Classify maps a processing error onto the failure types published to listeners.
func Classify(err error) schema.FailureType {
	if err == nil {
		return ""
	}

	if processor.IsInterruption(err) {
		return schema.FailureTypeCancelled
	}

	var logical *LogicalError
	if errors.As(err, &logical) {
		if strings.Contains(logical.Msg, "timeout") || strings.Contains(logical.Msg, "returned 5") {
			return schema.FailureTypeRetryable
		}
		return schema.FailureTypePermanent
	}

	// worker crashes and store errors may succeed on a later attempt
	return schema.FailureTypeRetryable
}
