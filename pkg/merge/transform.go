package merge

import (
	"github.com/aretw0/lattice/pkg/domain"
)

type opPair struct {
	local, remote domain.OperationType
}

type transformFunc func(local, remote domain.GraphOperation) domain.MergeResult

// OperationalTransform rewrites conflicting operations so both can apply.
//
//	add/add, remove/remove  later operation becomes a noop
//	update/update           payloads merged, remote fields win, nil never overwrites
//	add/remove, remove/add  both pass through for the caller to adjudicate
//	anything else           both pass through
//
// "Later" is the higher timestamp; on a tie the remote operation is later.
type OperationalTransform struct {
	table map[opPair]transformFunc
}

// NewOperationalTransform builds the transform table.
func NewOperationalTransform() *OperationalTransform {
	ot := &OperationalTransform{}
	ot.table = map[opPair]transformFunc{
		{domain.OpAdd, domain.OpAdd}:       ot.collapse,
		{domain.OpRemove, domain.OpRemove}: ot.collapse,
		{domain.OpUpdate, domain.OpUpdate}: ot.mergeUpdates,
		{domain.OpAdd, domain.OpRemove}:    ot.passThrough("add/remove left for caller"),
		{domain.OpRemove, domain.OpAdd}:    ot.passThrough("remove/add left for caller"),
	}
	return ot
}

func (*OperationalTransform) Name() string { return NameOperationalTransform }

func (ot *OperationalTransform) Merge(local, remote domain.GraphOperation, _ *domain.GraphSnapshot) domain.MergeResult {
	if fn, ok := ot.table[opPair{local.Type, remote.Type}]; ok {
		return fn(local, remote)
	}
	return ot.passThrough("no transform for " + string(local.Type) + "/" + string(remote.Type))(local, remote)
}

func (ot *OperationalTransform) collapse(local, remote domain.GraphOperation) domain.MergeResult {
	ops := []domain.GraphOperation{local, remote.Noop()}
	decision := "duplicate " + string(local.Type) + ", remote collapsed"
	if local.Timestamp > remote.Timestamp {
		ops = []domain.GraphOperation{local.Noop(), remote}
		decision = "duplicate " + string(local.Type) + ", local collapsed"
	}
	return domain.MergeResult{
		Success:    true,
		Operations: ops,
		Conflicts:  []string{},
		Metadata:   domain.MergeMetadata{Strategy: ot.Name(), Decision: decision},
	}
}

func (ot *OperationalTransform) mergeUpdates(local, remote domain.GraphOperation) domain.MergeResult {
	merged := domain.CopyMap(local.Data)
	if merged == nil {
		merged = make(map[string]any, len(remote.Data))
	}
	for k, v := range remote.Data {
		if v == nil {
			continue
		}
		merged[k] = v
	}

	out := local
	out.Data = merged
	if remote.Timestamp > out.Timestamp {
		out.Timestamp = remote.Timestamp
	}
	if remote.Version > out.Version {
		out.Version = remote.Version
	}
	return domain.MergeResult{
		Success:    true,
		Operations: []domain.GraphOperation{out},
		Conflicts:  []string{},
		Metadata:   domain.MergeMetadata{Strategy: ot.Name(), Decision: "update fields merged"},
	}
}

func (ot *OperationalTransform) passThrough(decision string) transformFunc {
	return func(local, remote domain.GraphOperation) domain.MergeResult {
		return domain.MergeResult{
			Success:    true,
			Operations: []domain.GraphOperation{local, remote},
			Conflicts:  []string{},
			Metadata:   domain.MergeMetadata{Strategy: ot.Name(), Decision: decision},
		}
	}
}
