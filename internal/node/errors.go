package node

import "github.com/pkg/errors"

// Sentinel error kinds a caller can test for with errors.Is. Wrapped with
// github.com/pkg/errors at the point of origin so a stack trace survives
// up to the control loop's logging.
var (
	// ErrNodeUnavailable marks a transient failure: connection refused,
	// timeout, 5xx. Retriable with backoff.
	ErrNodeUnavailable = errors.New("node unavailable")

	// ErrNodeMalformed marks a response body that could not be decoded
	// into the expected shape, or a 4xx status other than 404. Fatal for
	// the height being fetched.
	ErrNodeMalformed = errors.New("node response malformed")

	// ErrNodeNotFound marks a height beyond the node's current chain tip.
	// Not an error condition for the caller: it means "wait".
	ErrNodeNotFound = errors.New("height not found on node")
)

// IsUnavailable reports whether err (or its cause chain) is ErrNodeUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrNodeUnavailable) }

// IsMalformed reports whether err (or its cause chain) is ErrNodeMalformed.
func IsMalformed(err error) bool { return errors.Is(err, ErrNodeMalformed) }

// IsNotFound reports whether err (or its cause chain) is ErrNodeNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNodeNotFound) }
