package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type lookupArgs struct {
	DoctorID string `json:"doctorId" jsonschema:"description=Doctor identifier"`
	Limit    int    `json:"limit,omitempty"`
}

func lookupTool() Tool {
	return Tool{
		Name:        "lookup",
		Description: "Look up a doctor.",
		Params:      lookupArgs{},
		Handler: Bind(func(ctx context.Context, args lookupArgs) (map[string]any, error) {
			if args.DoctorID == "" {
				return nil, errors.New("doctorId is required")
			}
			return map[string]any{"type": "doctor", "doctorId": args.DoctorID, "user": CallContextFrom(ctx).UserID}, nil
		}),
	}
}

func TestRegistry_CallDecodesArgsAndContext(t *testing.T) {
	t.Parallel()

	r := NewRegistry(lookupTool())
	ctx := WithCallContext(context.Background(), CallContext{UserID: "u1"})
	out, err := r.Call(ctx, "lookup", json.RawMessage(`{"doctorId":"doc_1"}`))
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if out["doctorId"] != "doc_1" || out["user"] != "u1" {
		t.Fatalf("out=%v", out)
	}
}

func TestRegistry_HandlerErrorBecomesPayload(t *testing.T) {
	t.Parallel()

	r := NewRegistry(lookupTool())
	out, err := r.Call(context.Background(), "lookup", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if out["error"] != "doctorId is required" {
		t.Fatalf("out=%v", out)
	}
}

func TestRegistry_UnknownToolAndPanic(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Tool{
		Name: "explode",
		Handler: func(context.Context, json.RawMessage) (map[string]any, error) {
			panic("boom")
		},
	})
	if out, err := r.Call(context.Background(), "missing", nil); err == nil || out["error"] == nil {
		t.Fatalf("unknown tool: out=%v err=%v", out, err)
	}
	out, err := r.Call(context.Background(), "explode", nil)
	if err == nil || out["error"] == nil {
		t.Fatalf("panic: out=%v err=%v", out, err)
	}
}

func TestRegistry_DeclarationsSchema(t *testing.T) {
	t.Parallel()

	r := NewRegistry(lookupTool(), Tool{Name: "ping", Description: "No args.", Handler: func(context.Context, json.RawMessage) (map[string]any, error) {
		return nil, nil
	}})
	decls := r.Declarations()
	if len(decls) != 2 || decls[0].Name != "lookup" || decls[1].Name != "ping" {
		t.Fatalf("declarations=%+v", decls)
	}

	raw, err := json.Marshal(decls[0].ParametersJsonSchema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	var schema struct {
		Schema     string                    `json:"$schema"`
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if schema.Schema != "" || schema.Type != "object" {
		t.Fatalf("schema=%s", raw)
	}
	if schema.Properties["doctorId"]["type"] != "string" || schema.Properties["doctorId"]["description"] != "Doctor identifier" {
		t.Fatalf("doctorId property=%v", schema.Properties["doctorId"])
	}
	if len(schema.Required) != 1 || schema.Required[0] != "doctorId" {
		t.Fatalf("required=%v", schema.Required)
	}

	if out, err := r.Call(context.Background(), "ping", nil); err != nil || out == nil {
		t.Fatalf("ping: out=%v err=%v", out, err)
	}
}
