package wire

// Operation represents a store operation.
type Operation uint8

const (
	// OpPut replaces the session record for the identity (last write wins).
	OpPut Operation = 1

	// OpClear clears the endTime field of the session record, leaving the
	// rest of the record in place. Clearing an absent document succeeds
	// as a no-op.
	OpClear Operation = 2

	// OpGet fetches the current session record.
	OpGet Operation = 3

	// OpSubscribe registers for change notifications. The response carries
	// the current record as a priming snapshot.
	OpSubscribe Operation = 4

	// OpUnsubscribe cancels a subscription by ID.
	OpUnsubscribe Operation = 5
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpPut:
		return "Put"
	case OpClear:
		return "Clear"
	case OpGet:
		return "Get"
	case OpSubscribe:
		return "Subscribe"
	case OpUnsubscribe:
		return "Unsubscribe"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the operation is a valid store operation.
func (o Operation) IsValid() bool {
	return o >= OpPut && o <= OpUnsubscribe
}
