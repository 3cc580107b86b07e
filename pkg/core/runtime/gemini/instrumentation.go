package gemini

import "go.opentelemetry.io/otel"

const scopeName = "github.com/bezaspace/rak4/pkg/core/runtime/gemini"

var tracer = otel.Tracer(scopeName)
