package apperrors

import (
	"errors"

	"github.com/ekaya-inc/case-engine/pkg/logging"
)

// UserFailure is the only error shape that crosses the conversation transport.
type UserFailure struct {
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
}

// UserFacing converts err into a UserFailure. Only the classified reason is
// exposed; causes and stack detail stay in the logs.
func UserFacing(err error) *UserFailure {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &UserFailure{Kind: e.Kind, Reason: logging.SanitizeMessage(e.Reason)}
	}
	return &UserFailure{Kind: KindInternal, Reason: "internal error"}
}
