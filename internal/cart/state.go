package cart

// LineState tracks where a line stands relative to the server.
//
//	Synced ──mutation──▶ PendingLocal ──batch sent──▶ PendingRemote
//	  ▲                      ▲                            │
//	  └───────batch ok───────┼────────────────────────────┤
//	                         └────────batch failed────────┘
//
// A mutation on a PendingRemote line moves it back to PendingLocal, so a batch
// that completes later does not mark the newer edit as synced.
type LineState int

const (
	// Synced: the last server snapshot or batch agreed with this quantity.
	Synced LineState = iota

	// PendingLocal: changed on the device, not yet sent.
	PendingLocal

	// PendingRemote: included in a batch that has not answered yet.
	PendingRemote
)

func (s LineState) String() string {
	switch s {
	case Synced:
		return "synced"
	case PendingLocal:
		return "pending_local"
	case PendingRemote:
		return "pending_remote"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s LineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is the view-level outcome of the last fetch-and-reconcile.
type Status int

const (
	// StatusIdle: mounted, not synced yet.
	StatusIdle Status = iota

	// StatusReady: merged with a fresh server snapshot.
	StatusReady

	// StatusDegraded: the server was unreachable; showing local data.
	StatusDegraded

	// StatusError: the server was unreachable and there was no local data. Retryable.
	StatusError

	// StatusUnauthenticated: no credential, or the user logged out.
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusReady:
		return "ready"
	case StatusDegraded:
		return "degraded"
	case StatusError:
		return "error"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
