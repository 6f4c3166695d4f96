package kvat

// Err is the closed error-kind enum every KVAT operation returns,
// mirroring the teacher's BLTErr: a plain returned value rather than a
// wrapped error chain. It also implements the error interface so it
// composes with stdlib expectations without forcing callers into the
// raw-enum style.
type Err int

const (
	// ErrNone indicates success.
	ErrNone Err = iota
	// ErrInvalidAccess means preconditions were violated: the engine
	// is not initialized, Format was called after Init, the Options
	// page size is invalid, or a required buffer is nil.
	ErrInvalidAccess
	// ErrNotFound means no entry matches the requested key.
	ErrNotFound
	// ErrInsufficientSpace means the entry table or page allocator is
	// exhausted, or a value needs more pages than the device has.
	ErrInsufficientSpace
	// ErrStorageFault means Init could not read the header from the
	// device. Program faults are reported as ErrTableError or
	// ErrInsufficientSpace instead.
	ErrStorageFault
	// ErrHeapError means an in-RAM structure sized from the device's
	// parameters could not be built.
	ErrHeapError
	// ErrTableError means an entry table read or write faulted.
	ErrTableError
	// ErrFetchFault means a chain read could not be satisfied.
	ErrFetchFault
	// ErrRecordFault means the occupancy bitmap could not be built
	// from the entry table at Init time.
	ErrRecordFault
	// ErrUnknown is a fatal mid-operation failure that leaves an
	// entry in a degraded state; the engine deinitializes.
	ErrUnknown
	// ErrKeyDuplicate means Rename's target key already exists.
	ErrKeyDuplicate
)

var errText = map[Err]string{
	ErrNone:              "none",
	ErrInvalidAccess:     "invalid access",
	ErrNotFound:          "not found",
	ErrInsufficientSpace: "insufficient space",
	ErrStorageFault:      "storage fault",
	ErrHeapError:         "heap error",
	ErrTableError:        "table error",
	ErrFetchFault:        "fetch fault",
	ErrRecordFault:       "record fault",
	ErrUnknown:           "unknown fatal error",
	ErrKeyDuplicate:      "key duplicate",
}

// Error implements the error interface. ErrNone also has a string so
// callers that print an Err unconditionally get readable output.
func (e Err) Error() string {
	if s, ok := errText[e]; ok {
		return "kvat: " + s
	}
	return "kvat: unrecognized error"
}
