package wire

// Status represents a response status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusInvalidPath indicates the scope or identity is malformed.
	StatusInvalidPath Status = 1

	// StatusInvalidRecord indicates the session record is malformed.
	StatusInvalidRecord Status = 2

	// StatusInvalidSubscription indicates the subscription ID is unknown.
	StatusInvalidSubscription Status = 3

	// StatusUnsupported indicates the operation is not supported.
	StatusUnsupported Status = 4

	// StatusInternal indicates the store failed to process the request.
	StatusInternal Status = 5

	// StatusBusy indicates the store is overloaded; try again later.
	StatusBusy Status = 6
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidPath:
		return "INVALID_PATH"
	case StatusInvalidRecord:
		return "INVALID_RECORD"
	case StatusInvalidSubscription:
		return "INVALID_SUBSCRIPTION"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusInternal:
		return "INTERNAL"
	case StatusBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}
