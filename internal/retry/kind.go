package retry

// ErrorKind is the classified cause of a failed attempt.
type ErrorKind int

const (
	// KindUnknown is the catch-all for unexpected statuses.
	KindUnknown ErrorKind = iota
	// KindTimeout means the attempt hit its deadline.
	KindTimeout
	// KindNetworkUnreachable means the transport failed before a response arrived.
	KindNetworkUnreachable
	// KindRateLimited is a 429 from the analysis service.
	KindRateLimited
	// KindNotFound is a 404, usually a bad target.
	KindNotFound
	// KindServerError is a 500 from the analysis service.
	KindServerError
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetworkUnreachable:
		return "network_unreachable"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether the kind is transient.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindNetworkUnreachable
}

// MarshalText lets kinds appear by name in JSON payloads and logs.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
