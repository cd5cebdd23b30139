package event

import "fmt"

// Normalize converts an arbitrary error into the uniform error payload shape
// carried by error-domain events.
func Normalize(err error, kind ErrorKind, source string, context map[string]any) ErrorPayload {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if kind == "" {
		kind = ErrorKindUnhandled
	}
	return ErrorPayload{
		Kind:        kind,
		UserMessage: msg,
		Source:      source,
		Context:     context,
	}
}

// NormalizePanic converts a recovered panic value from a subscriber into a
// subscriber-kind error payload, preserving the event that was being handled.
func NormalizePanic(recovered any, evt Event) ErrorPayload {
	return ErrorPayload{
		Kind:        ErrorKindSubscriber,
		UserMessage: fmt.Sprintf("subscriber failed handling %s:%s event", evt.Domain, evt.Type),
		Source:      "bus",
		Context: map[string]any{
			"panic":    fmt.Sprint(recovered),
			"event_id": evt.ID,
			"domain":   string(evt.Domain),
			"type":     evt.Type,
		},
		SessionID: evt.SessionID(),
	}
}
