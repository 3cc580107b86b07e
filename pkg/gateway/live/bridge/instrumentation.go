package bridge

import "go.opentelemetry.io/otel"

const scopeName = "github.com/bezaspace/rak4/pkg/gateway/live/bridge"

var tracer = otel.Tracer(scopeName)
