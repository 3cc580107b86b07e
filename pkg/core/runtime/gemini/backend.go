// Package gemini runs live sessions and text-only replays against the Gemini
// API through google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/bezaspace/rak4/pkg/core/tools"
)

const (
	DefaultLiveModel     = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultFallbackModel = "gemini-2.5-flash"
)

type Config struct {
	APIKey        string
	LiveModel     string
	FallbackModel string
}

// SessionRequest is what one live cycle needs from the caller.
type SessionRequest struct {
	Instruction string
	Tools       *tools.Registry
	Call        tools.CallContext
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Backend struct {
	client        *genai.Client
	liveModel     string
	fallbackModel string
	logger        *slog.Logger
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	liveModel := strings.TrimSpace(cfg.LiveModel)
	if liveModel == "" {
		liveModel = DefaultLiveModel
	}
	fallbackModel := strings.TrimSpace(cfg.FallbackModel)
	if fallbackModel == "" {
		fallbackModel = DefaultFallbackModel
	}
	return &Backend{client: client, liveModel: liveModel, fallbackModel: fallbackModel, logger: logger}, nil
}

// Connect opens a live session. The returned session is both the input
// channel and the event stream of one cycle.
func (b *Backend) Connect(ctx context.Context, req SessionRequest) (*LiveSession, error) {
	ctx, span := tracer.Start(ctx, "gemini.live.connect", trace.WithAttributes(
		attribute.String("model", b.liveModel),
		attribute.String("trace_id", req.Call.TraceID),
		attribute.Int("tools", len(req.Tools.Names())),
	))
	defer span.End()

	session, err := b.client.Live.Connect(ctx, b.liveModel, liveConnectConfig(req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("connect live model %s: %w", b.liveModel, classify(err))
	}
	b.logger.Info("gemini_live_connected", "trace_id", req.Call.TraceID, "model", b.liveModel)
	return newLiveSession(session, req.Tools, req.Call, b.logger), nil
}

// Replayer returns the text-only path for the same instruction and tools.
// history may be nil; otherwise its turns precede every replayed request.
func (b *Backend) Replayer(req SessionRequest, history HistorySource) *Replayer {
	return &Replayer{
		models:      b.client.Models,
		model:       b.fallbackModel,
		instruction: req.Instruction,
		registry:    req.Tools,
		call:        req.Call,
		history:     history,
		logger:      b.logger,
	}
}

func liveConnectConfig(req SessionRequest) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		RealtimeInputConfig: &genai.RealtimeInputConfig{
			ActivityHandling: genai.ActivityHandlingStartOfActivityInterrupts,
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{
				Disabled:                 true,
				StartOfSpeechSensitivity: genai.StartSensitivityHigh,
				EndOfSpeechSensitivity:   genai.EndSensitivityLow,
				PrefixPaddingMs:          genai.Ptr[int32](80),
				SilenceDurationMs:        genai.Ptr[int32](300),
			},
		},
		Tools: req.Tools.GenaiTools(),
	}
	if instruction := strings.TrimSpace(req.Instruction); instruction != "" {
		cfg.SystemInstruction = textContent(string(genai.RoleUser), instruction)
	}
	return cfg
}

func textContent(role, text string) *genai.Content {
	return &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}}
}
