// pkg/schema/events.go
package schema

type FailureType string

const (
	FailureTypeRetryable FailureType = "retryable"
	FailureTypePermanent FailureType = "permanent"
	FailureTypeCancelled FailureType = "cancelled"
)

// CardProcessed is published when an import-session card finished processing.
type CardProcessed struct {
	SessionID  string `json:"session_id"`
	CardID     string `json:"card_id"`
	CacheHit   bool   `json:"cache_hit"`
	HappenedAt int64  `json:"happened_at"`
}

// CardFailed is published when an import-session card could not be processed.
type CardFailed struct {
	SessionID  string `json:"session_id"`
	CardID     string `json:"card_id"`
	HappenedAt int64  `json:"happened_at"`
}

// ImportProgress aggregates an import session.
type ImportProgress struct {
	SessionID  string `json:"session_id"`
	Processed  int    `json:"processed"`
	CacheHits  int    `json:"cache_hits"`
	Failed     int    `json:"failed"`
	HappenedAt int64  `json:"happened_at"`
}

// ToastsCleared tells UI listeners to drop transient processing notices.
type ToastsCleared struct {
	SessionID  string `json:"session_id"`
	HappenedAt int64  `json:"happened_at"`
}

// CancelRequested asks a running importer to stop all processing.
type CancelRequested struct {
	Reason     string `json:"reason,omitempty"`
	HappenedAt int64  `json:"happened_at"`
}
