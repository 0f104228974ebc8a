package types

// Storage event types
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Storage event kinds
const (
	KindService = "service"
	KindRoute   = "route"
)

// StorageEvent represents a definition change
type StorageEvent struct {
	Type   string // created, updated, deleted
	Kind   string // service, route
	ID     string // service name or route pattern
	Object interface{}
}
