package bridge

import (
	"github.com/bezaspace/rak4/pkg/core/runtime"
	"github.com/bezaspace/rak4/pkg/gateway/live/protocol"
)

// RouteResult is what the router did with a control event.
type RouteResult struct {
	Handled    bool
	NextActive bool
	Action     Action
}

// Route maps a control event onto runtime commands. Duplicates are resolved
// here so the runtime never sees two activity starts in a row.
func Route(eventType string, active bool, input runtime.InputChannel) (RouteResult, error) {
	switch eventType {
	case protocol.TypePTTStart:
		if active {
			return RouteResult{Handled: true, NextActive: true, Action: ActionDuplicateStart}, nil
		}
		if err := input.SendActivityStart(); err != nil {
			return RouteResult{Handled: true, NextActive: active, Action: ActionStart}, err
		}
		return RouteResult{Handled: true, NextActive: true, Action: ActionStart}, nil
	case protocol.TypePTTEnd, protocol.TypeEndTurn:
		if !active {
			return RouteResult{Handled: true, NextActive: false, Action: ActionDuplicateEnd}, nil
		}
		if err := input.SendActivityEnd(); err != nil {
			return RouteResult{Handled: true, NextActive: active, Action: ActionEnd}, err
		}
		return RouteResult{Handled: true, NextActive: false, Action: ActionEnd}, nil
	case protocol.TypeStopSession:
		err := input.Close()
		return RouteResult{Handled: true, NextActive: false, Action: ActionStop}, err
	default:
		return RouteResult{Handled: false, NextActive: active, Action: ActionIgnored}, nil
	}
}
