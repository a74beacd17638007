package events

import (
	"context"
	"fmt"
	"strings"
)

// subscriberBuffer is the per-subscription channel depth. Slow consumers
// lose the oldest message once it fills.
const subscriberBuffer = 64

// Message is one published event.
type Message struct {
	Subject string
	Data    []byte
}

// Bus is the progress event fanout.
type Bus interface {
	// Publish sends data on subject. Publishing never blocks on slow
	// subscribers.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe delivers messages matching subject until the returned
	// unsubscribe function runs. The pattern may use NATS wildcards.
	Subscribe(subject string) (<-chan Message, func(), error)

	// Close tears down the bus and all subscriptions.
	Close() error
}

// JobSubject names one job lifecycle event.
func JobSubject(jobID, state string) string {
	return fmt.Sprintf("ingest.jobs.%s.%s", jobID, state)
}

// JobWildcard matches every event for one job.
func JobWildcard(jobID string) string {
	return fmt.Sprintf("ingest.jobs.%s.*", jobID)
}

// matchSubject reports whether subject matches pattern under NATS wildcard
// rules: "*" matches exactly one token, ">" matches one or more trailing
// tokens.
func matchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
