package domain

// MutationStatus is the lifecycle state of a queued mutation.
type MutationStatus string

const (
	MutationPending MutationStatus = "pending"
	MutationSyncing MutationStatus = "syncing"
	MutationFailed  MutationStatus = "failed"
	MutationSynced  MutationStatus = "synced"
)

// Well-known mutation types. Other values are accepted and treated as updates
// only where noted.
const (
	MutationCreate = "create"
	MutationUpdate = "update"
	MutationDelete = "delete"
)

// Mutation is a pending write accumulated while disconnected.
type Mutation struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entityId,omitempty"`
	EntityType string         `json:"entityType,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	// Version is the entity version the mutation was based on. Zero means unversioned.
	Version    int64          `json:"version,omitempty"`
	Timestamp  int64          `json:"timestamp"`
	RetryCount int            `json:"retryCount"`
	Status     MutationStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// Clone returns a copy whose payload map is not shared.
func (m Mutation) Clone() Mutation {
	if m.Payload != nil {
		m.Payload = CopyMap(m.Payload)
	}
	return m
}

// CopyMap returns a shallow copy of a map.
func CopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
