package pipeline

import "go.opentelemetry.io/otel"

const scopeName = "github.com/lexiqai/voice-pipeline/internal/pipeline"

var tracer = otel.Tracer(scopeName)
