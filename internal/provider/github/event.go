package github

import (
	"go.uber.org/zap"

	"github.com/simplesurance/hookd/internal/logfields"
)

// Envelope is a received webhook request.
// The body is not trusted before the signature was verified.
type Envelope struct {
	// DeliveryID is the unique github ID of the event, it is empty if the
	// X-GitHub-Delivery header was not sent.
	DeliveryID string
	// EventType is the value of the X-GitHub-Event header.
	EventType string
	// Signature is the value of the X-Hub-Signature-256 header.
	Signature string
	Body      []byte
}

func (e *Envelope) LogFields() []zap.Field {
	fields := make([]zap.Field, 0, 3) // cap == max. size of fields we append

	fields = append(fields, logfields.EventProvider("github"))

	if e.DeliveryID != "" {
		fields = append(fields, logfields.DeliveryID(e.DeliveryID))
	}

	if e.EventType != "" {
		fields = append(fields, logfields.WebhookType(e.EventType))
	}

	return fields
}
