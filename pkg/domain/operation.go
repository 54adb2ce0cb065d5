package domain

// OperationType classifies a GraphOperation.
type OperationType string

const (
	OpAdd    OperationType = "add"
	OpRemove OperationType = "remove"
	OpUpdate OperationType = "update"
	// OpNoop marks an operation collapsed by a merge strategy.
	OpNoop OperationType = "noop"
)

// GraphOperation is the unit exchanged by merge strategies.
type GraphOperation struct {
	Type      OperationType  `json:"type"`
	EntityID  string         `json:"entityId"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
	ClientID  string         `json:"clientId"`
	Version   int64          `json:"version"`
}

// Noop returns a copy of the operation collapsed to a no-op.
func (op GraphOperation) Noop() GraphOperation {
	op.Type = OpNoop
	op.Data = nil
	return op
}

// MergeMetadata explains how a MergeResult was reached.
type MergeMetadata struct {
	Strategy string `json:"strategy"`
	Decision string `json:"decision"`
}

// MergeResult is the output of a merge strategy.
type MergeResult struct {
	Success    bool             `json:"success"`
	Operations []GraphOperation `json:"operations"`
	Conflicts  []string         `json:"conflicts"`
	Metadata   MergeMetadata    `json:"metadata"`
}
