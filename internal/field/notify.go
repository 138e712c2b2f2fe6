// ABOUTME: Notifier contract used by mutating components to request a field recompute
// ABOUTME: Event type names recorded in each snapshot's audit blob

package field

import "github.com/2389/fieldnet-gateway/internal/store"

// Event types that trigger a recompute.
const (
	EventRegistration = "registration"
	EventReconnect    = "reconnect"
	EventLeave        = "leave"
	EventMessage      = "message_sent"
	EventFormation    = "collective_formed"
	EventJoin         = "collective_join"
	EventWorkCreated  = "work_created"
	EventWorkDone     = "work_completed"
	EventTick         = "tick"
	EventClear        = "clear"
)

// Notifier receives mutation events. Implementations must not block.
type Notifier interface {
	Notify(ev store.FieldEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev store.FieldEvent)

// Notify calls f(ev).
func (f NotifierFunc) Notify(ev store.FieldEvent) { f(ev) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(store.FieldEvent) {})
