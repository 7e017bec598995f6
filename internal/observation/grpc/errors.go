package obsgrpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrMalformedReport indicates an ack or connectivity report that could not
// be parsed.
var ErrMalformedReport = errors.New("observation: malformed report")

// IsMalformedReportError reports whether err represents a report rejected
// as malformed, on either side of the wire.
func IsMalformedReportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedReport) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		return st.Code() == codes.InvalidArgument
	}
	return false
}
