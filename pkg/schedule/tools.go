package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bezaspace/rak4/pkg/core/tools"
)

const (
	PayloadSnapshot    = "schedule_snapshot"
	PayloadReportSaved = "adherence_report_saved"
)

// DefaultUserID is used when a tool call carries no user.
const DefaultUserID = "raksha-user"

type TodayArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone; defaults to the session timezone"`
	Date     string `json:"date,omitempty" jsonschema:"description=Local date as YYYY-MM-DD; defaults to today"`
}

type CurrentArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone; defaults to the session timezone"`
	NowISO   string `json:"now_iso,omitempty" jsonschema:"description=ISO 8601 timestamp to evaluate instead of now"`
}

type SaveArgs struct {
	ScheduleItemID     string `json:"schedule_item_id" jsonschema:"description=Exact schedule item id from get_today_schedule"`
	Status             string `json:"status" jsonschema:"enum=done,enum=partial,enum=skipped,enum=delayed"`
	FollowedPlan       bool   `json:"followed_plan"`
	ChangesMade        string `json:"changes_made,omitempty"`
	FeltAfter          string `json:"felt_after,omitempty"`
	Symptoms           string `json:"symptoms,omitempty"`
	Notes              string `json:"notes,omitempty"`
	AlertLevel         string `json:"alert_level,omitempty" jsonschema:"enum=none,enum=watch,enum=urgent"`
	Summary            string `json:"summary,omitempty"`
	Timezone           string `json:"timezone,omitempty"`
	ReportedAtISO      string `json:"reported_at_iso,omitempty"`
	ConversationTurnID string `json:"conversation_turn_id,omitempty"`
}

// Tools returns the schedule tools. User, timezone and session come from
// the call context; an explicit timezone argument wins.
func Tools(svc *Service) []tools.Tool {
	return []tools.Tool{
		{
			Name:        "get_today_schedule",
			Description: "Returns today's schedule and adherence timeline. Call this when the user asks what they should do now or asks for their daily plan.",
			Params:      TodayArgs{},
			Handler: tools.Bind(func(ctx context.Context, args TodayArgs) (map[string]any, error) {
				cc := tools.CallContextFrom(ctx)
				snap, err := svc.TodaySchedule(ctx, userOf(cc), timezoneOf(cc, args.Timezone), args.Date)
				if err != nil {
					return nil, err
				}
				return payload(PayloadSnapshot, snap)
			}),
		},
		{
			Name:        "get_current_schedule_item",
			Description: "Resolves the current schedule item for the local time window. Use this before answering questions like \"what should I do now?\"",
			Params:      CurrentArgs{},
			Handler: tools.Bind(func(ctx context.Context, args CurrentArgs) (map[string]any, error) {
				cc := tools.CallContextFrom(ctx)
				cur, err := svc.CurrentItem(ctx, userOf(cc), timezoneOf(cc, args.Timezone), args.NowISO)
				if err != nil {
					return nil, err
				}
				return payload("", cur)
			}),
		},
		{
			Name:        "save_adherence_report",
			Description: "Saves a structured adherence report linked to a schedule item. Call this after collecting check-in responses from the user.",
			Params:      SaveArgs{},
			Handler: tools.Bind(func(ctx context.Context, args SaveArgs) (map[string]any, error) {
				cc := tools.CallContextFrom(ctx)
				res, err := svc.SaveAdherenceReport(ctx, SaveRequest{
					UserID:             userOf(cc),
					ScheduleItemID:     args.ScheduleItemID,
					Status:             args.Status,
					FollowedPlan:       args.FollowedPlan,
					ChangesMade:        args.ChangesMade,
					FeltAfter:          args.FeltAfter,
					Symptoms:           args.Symptoms,
					Notes:              args.Notes,
					AlertLevel:         args.AlertLevel,
					Summary:            args.Summary,
					Timezone:           timezoneOf(cc, args.Timezone),
					ReportedAtISO:      args.ReportedAtISO,
					ConversationTurnID: args.ConversationTurnID,
					SessionID:          cc.SessionID,
				})
				if err != nil {
					return nil, err
				}
				return res.Payload(), nil
			}),
		},
	}
}

// Payload renders the result in the adherence_report_saved shape the
// client and the model both read.
func (r SaveResult) Payload() map[string]any {
	if !r.Saved {
		return map[string]any{
			"type":       PayloadReportSaved,
			"saved":      false,
			"message":    r.Message,
			"reasonCode": r.ReasonCode,
		}
	}
	rep := r.Report
	out := map[string]any{
		"type":               PayloadReportSaved,
		"saved":              true,
		"deduped":            r.Deduped,
		"reasonCode":         nil,
		"reportId":           rep.ID,
		"scheduleItemId":     rep.ScheduleItemID,
		"date":               rep.ReportDate,
		"activityType":       string(rep.ActivityType),
		"status":             string(rep.Status),
		"alertLevel":         string(rep.AlertLevel),
		"summary":            rep.Summary,
		"reportedAtIso":      isoUTC(rep.ReportedAt),
		"createdAt":          isoUTC(rep.CreatedAt),
		"followedPlan":       rep.FollowedPlan,
		"changesMade":        optional(rep.ChangesMade),
		"feltAfter":          optional(rep.FeltAfter),
		"symptoms":           optional(rep.Symptoms),
		"notes":              optional(rep.Notes),
		"conversationTurnId": optional(rep.ConversationTurnID),
		"sessionId":          optional(rep.SessionID),
		"message":            r.Message,
	}
	if r.ResolvedFrom != "" {
		out["resolvedScheduleItemId"] = rep.ScheduleItemID
	}
	return out
}

func userOf(cc tools.CallContext) string {
	if id := strings.TrimSpace(cc.UserID); id != "" {
		return id
	}
	return DefaultUserID
}

func timezoneOf(cc tools.CallContext, explicit string) string {
	if tz := strings.TrimSpace(explicit); tz != "" {
		return tz
	}
	return strings.TrimSpace(cc.Timezone)
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// payload flattens v into a JSON object and stamps its type when typ is set.
func payload(typ string, v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if typ != "" {
		out["type"] = typ
	}
	return out, nil
}
