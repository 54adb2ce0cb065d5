package domain

import "time"

// ServerRecord is the authoritative remote state of one entity.
type ServerRecord struct {
	EntityID   string         `json:"entityId"`
	EntityType string         `json:"entityType,omitempty"`
	Version    int64          `json:"version,omitempty"`
	Timestamp  int64          `json:"timestamp,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// ServerState maps entity id to its authoritative record.
type ServerState map[string]ServerRecord

// Conflict is a detected divergence between a local mutation and server state.
type Conflict struct {
	ID              string         `json:"id"`
	EntityID        string         `json:"entityId"`
	EntityType      string         `json:"entityType,omitempty"`
	MutationID      string         `json:"mutationId,omitempty"`
	MutationType    string         `json:"mutationType"`
	LocalVersion    int64          `json:"localVersion"`
	ServerVersion   int64          `json:"serverVersion"`
	LocalTimestamp  int64          `json:"localTimestamp"`
	ServerTimestamp int64          `json:"serverTimestamp"`
	LocalData       map[string]any `json:"localData,omitempty"`
	ServerData      map[string]any `json:"serverData,omitempty"`
	// ServerMissing is set when the entity does not exist remotely.
	ServerMissing bool      `json:"serverMissing,omitempty"`
	DetectedAt    time.Time `json:"detectedAt"`
}

// ConflictResolution records how a conflict was settled.
type ConflictResolution struct {
	ConflictID    string         `json:"conflictId"`
	EntityID      string         `json:"entityId"`
	Strategy      string         `json:"strategy"`
	ResolvedValue map[string]any `json:"resolvedValue"`
	RequiresSync  bool           `json:"requiresSync"`
	Warnings      []string       `json:"warnings,omitempty"`
	ResolvedAt    time.Time      `json:"resolvedAt"`
}
