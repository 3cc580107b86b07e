package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/bezaspace/rak4/pkg/core/runtime"
	"github.com/bezaspace/rak4/pkg/core/tools"
)

const maxReplayToolRounds = 4

var errTooManyToolRounds = errors.New("replay exceeded tool call rounds")

// Replayer runs one failed turn through generateContent with text output
// only, executing any tool calls the model makes along the way. The turns of
// the live cycle that failed, when known, go ahead of the replayed request.
type Replayer struct {
	models      contentGenerator
	model       string
	instruction string
	registry    *tools.Registry
	call        tools.CallContext
	history     HistorySource
	logger      *slog.Logger
}

func (r *Replayer) ReplayText(ctx context.Context, text string, emit func(runtime.Event) error) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("replay text is empty")
	}
	ctx = tools.WithCallContext(ctx, r.call)

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityText)},
		Tools:              r.registry.GenaiTools(),
	}
	if instruction := strings.TrimSpace(r.instruction); instruction != "" {
		config.SystemInstruction = textContent(string(genai.RoleUser), instruction)
	}
	var contents []*genai.Content
	if r.history != nil {
		contents = withoutTrailingUser(r.history.History(), text)
	}
	contents = append(contents, textContent(string(genai.RoleUser), text))

	for round := 0; round < maxReplayToolRounds; round++ {
		resp, err := r.models.GenerateContent(ctx, r.model, contents, config)
		if err != nil {
			return fmt.Errorf("generate content: %w", err)
		}
		content := firstCandidate(resp)
		if content == nil {
			return nil
		}

		calls := functionCalls(content)
		if len(calls) == 0 {
			parts, _ := partsFromContent(content)
			var textParts []runtime.Part
			for _, p := range parts {
				if p.Text != "" {
					textParts = append(textParts, runtime.Part{Text: p.Text})
				}
			}
			if len(textParts) == 0 {
				return nil
			}
			return emit(runtime.Event{Parts: textParts, TurnComplete: true})
		}

		contents = append(contents, content)
		responseParts := make([]*genai.Part, 0, len(calls))
		var ev runtime.Event
		for _, fc := range calls {
			payload, raw := callTool(ctx, r.registry, r.logger, r.call.TraceID, fc)
			responseParts = append(responseParts, &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: payload}})
			ev.FunctionResponses = append(ev.FunctionResponses, runtime.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: raw})
		}
		if err := emit(ev); err != nil {
			return err
		}
		contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: responseParts})
	}
	return errTooManyToolRounds
}

func firstCandidate(resp *genai.GenerateContentResponse) *genai.Content {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	return resp.Candidates[0].Content
}

func functionCalls(content *genai.Content) []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, p := range content.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// Compile-time checks.
var (
	_ runtime.InputChannel = (*LiveSession)(nil)
	_ runtime.EventStream  = (*LiveSession)(nil)
	_ runtime.Replayer     = (*Replayer)(nil)
	_ HistorySource        = (*LiveSession)(nil)
)
