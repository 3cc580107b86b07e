package runtime

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
		{name: "runtime 1007", err: &Error{Code: 1007}, want: true},
		{name: "runtime 1008 wrapped", err: fmt.Errorf("receive: %w", &Error{Code: 1008}), want: true},
		{name: "runtime 1011", err: &Error{Code: 1011}, want: false},
		{name: "close 1008", err: &websocket.CloseError{Code: websocket.ClosePolicyViolation}, want: true},
		{name: "close normal", err: &websocket.CloseError{Code: websocket.CloseNormalClosure}, want: false},
		{name: "api 1007", err: genai.APIError{Code: 1007, Message: "unsupported"}, want: true},
		{name: "api 500", err: genai.APIError{Code: 500}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Fatalf("IsRecoverable(%v)=%v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestError_MessageAndUnwrap(t *testing.T) {
	inner := errors.New("socket closed")
	err := &Error{Code: 1008, Message: "operation not supported", Err: inner}
	if got := err.Error(); got != "runtime error (code 1008): operation not supported" {
		t.Fatalf("Error()=%q", got)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("expected errors.Is to find the wrapped error")
	}
}
