package runtime

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// Live close codes the runtime uses for "operation unsupported" failures that
// typically happen in the middle of a tool call.
const (
	CodeInvalidPayload  = websocket.CloseInvalidFramePayloadData // 1007
	CodePolicyViolation = websocket.ClosePolicyViolation         // 1008
)

var recoverableCodes = map[int]struct{}{
	CodeInvalidPayload:  {},
	CodePolicyViolation: {},
}

// Error is a runtime failure carrying a numeric code.
type Error struct {
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("runtime error (code %d)", e.Code)
	}
	return fmt.Sprintf("runtime error (code %d): %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorCode extracts a runtime error code from err, if it carries one.
func ErrorCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var rtErr *Error
	if errors.As(err, &rtErr) && rtErr != nil {
		return rtErr.Code, true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr != nil {
		return closeErr.Code, true
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}

// IsRecoverable reports whether err belongs to the fixed set of runtime
// failures that can be recovered by replaying the turn.
func IsRecoverable(err error) bool {
	code, ok := ErrorCode(err)
	if !ok {
		return false
	}
	_, ok = recoverableCodes[code]
	return ok
}
