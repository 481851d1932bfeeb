// Package activitymap flattens auth activity events into tenant scoped
// audit entries that can be shipped to a log pipeline or an audit table.
package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-trace-auth"
)

// Attribute keys copied from the event into Entry.Attributes
const (
	AttrDevice    = "device_id"
	AttrRequestID = "request_id"
)

const (
	SubjectUser   = "user"
	SubjectDevice = "device"

	anonymousActor = "anonymous"
)

// Entry is one audit line. Tenant is the entity the actor was acting for
// and is empty for events raised before an entity is known.
type Entry struct {
	Tenant      string         `json:"tenant,omitempty"`
	Actor       string         `json:"actor"`
	Action      string         `json:"action"`
	SubjectKind string         `json:"subject_kind"`
	SubjectID   string         `json:"subject_id,omitempty"`
	Outcome     string         `json:"outcome"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	At          time.Time      `json:"at"`
}

// Option tweaks how events are mapped
type Option func(*mapper)

type mapper struct {
	anonymous string
	tenant    string
	subject   func(auth.ActivityEvent) (kind, id string)
	clock     func() time.Time
}

// WithAnonymousActor names the actor of events without a user
func WithAnonymousActor(actor string) Option {
	return func(m *mapper) {
		if actor = strings.TrimSpace(actor); actor != "" {
			m.anonymous = actor
		}
	}
}

// WithFallbackTenant is used for events that carry no entity
func WithFallbackTenant(tenant string) Option {
	return func(m *mapper) {
		m.tenant = strings.TrimSpace(tenant)
	}
}

// WithSubject overrides the subject resolution
func WithSubject(fn func(auth.ActivityEvent) (kind, id string)) Option {
	return func(m *mapper) {
		if fn != nil {
			m.subject = fn
		}
	}
}

// WithClock stamps events that have no OccurredAt
func WithClock(now func() time.Time) Option {
	return func(m *mapper) {
		if now != nil {
			m.clock = now
		}
	}
}

// Map converts event into an Entry. Device registrations and handshakes
// are about the device, every other event is about the user.
func Map(event auth.ActivityEvent, opts ...Option) Entry {
	m := mapper{
		anonymous: anonymousActor,
		subject:   defaultSubject,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}

	actor := strings.TrimSpace(event.UserID)
	if actor == "" {
		actor = m.anonymous
	}

	tenant := strings.TrimSpace(event.EntityID)
	if tenant == "" {
		tenant = m.tenant
	}

	at := event.OccurredAt
	if at.IsZero() {
		at = m.clock()
	}

	kind, id := m.subject(event)

	return Entry{
		Tenant:      tenant,
		Actor:       actor,
		Action:      string(event.EventType),
		SubjectKind: kind,
		SubjectID:   id,
		Outcome:     outcome(event.EventType),
		Attributes:  attributes(event),
		At:          at,
	}
}

// Sink returns an ActivitySink that maps events before handing them to
// write. Errors from write are returned to the caller.
func Sink(write func(context.Context, Entry) error, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		return write(ctx, Map(event, opts...))
	})
}

func defaultSubject(event auth.ActivityEvent) (string, string) {
	switch event.EventType {
	case auth.ActivityEventDeviceRegistered, auth.ActivityEventHandshake:
		return SubjectDevice, strings.TrimSpace(event.Device)
	}
	return SubjectUser, strings.TrimSpace(event.UserID)
}

func outcome(t auth.ActivityEventType) string {
	switch t {
	case auth.ActivityEventLoginFailure:
		return "failure"
	case auth.ActivityEventLoginNotGranted:
		return "denied"
	}
	return "success"
}

// attributes copies the event metadata so later sink mutations do not
// leak back into the event
func attributes(event auth.ActivityEvent) map[string]any {
	out := make(map[string]any, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		out[k] = v
	}
	if device := strings.TrimSpace(event.Device); device != "" {
		out[AttrDevice] = device
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
