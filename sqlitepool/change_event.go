package sqlitepool

// OperationKind identifies the kind of row mutation reported by the native
// update hook of a write handle.
type OperationKind int

const (
	OpInsert OperationKind = iota + 1
	OpUpdate
	OpDelete
)

// String returns a human-readable name for the operation kind.
func (k OperationKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeEvent is a single row-mutation notification.
//
// RowID carries the native rowid of the mutated row for raw notifications;
// events emitted from a debounced batch are deduplicated by (Table, Kind)
// and drop row-id granularity, so RowID holds the first observed value and
// must not be relied upon across a batch boundary.
type ChangeEvent struct {
	Kind  OperationKind
	Table string
	RowID RowIDInt64
}
