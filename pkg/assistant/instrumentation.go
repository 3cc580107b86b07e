package assistant

import "go.opentelemetry.io/otel"

const scopeName = "github.com/bezaspace/rak4/pkg/assistant"

var tracer = otel.Tracer(scopeName)
