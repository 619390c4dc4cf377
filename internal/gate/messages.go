package gate

import (
	"fmt"
	"strings"

	"analyzehub/internal/retry"
)

// User-facing error messages written to the shared state.
const (
	MsgInvalidTarget = "invalid target"
	MsgConnectFailed = "Failed to connect to the server. Please ensure the server is running and try again."
	MsgServerError   = "Server error occurred. Please try again or contact support."
	MsgUnexpected    = "An unexpected error occurred. Please try again later."
)

// Message returns the text shown for a terminal failure of kind.
// serverMessage is the "error" field of the response body, if any.
func Message(kind retry.ErrorKind, target string, retryAfter int, serverMessage string) string {
	switch kind {
	case retry.KindTimeout, retry.KindNetworkUnreachable:
		return MsgConnectFailed
	case retry.KindRateLimited:
		return fmt.Sprintf("Rate limit reached. Please wait %d seconds.", retryAfter)
	case retry.KindNotFound:
		return fmt.Sprintf("User '%s' not found or is private.", target)
	case retry.KindServerError:
		return MsgServerError
	default:
		if msg := strings.TrimSpace(serverMessage); msg != "" {
			return msg
		}
		return MsgUnexpected
	}
}
