package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ReasonInvalidItem   = "invalid_item_id"
	ReasonInvalidStatus = "invalid_status"
	ReasonInvalidAlert  = "invalid_alert"
)

var aliases = []struct {
	activity ActivityType
	words    []string
}{
	{ActivityDiet, []string{"meal", "breakfast", "lunch", "dinner", "snack", "food"}},
	{ActivityMedication, []string{"medication", "medicine", "meds", "pill", "tablet", "dose"}},
	{ActivityActivity, []string{"activity", "exercise", "walk", "workout", "run", "yoga"}},
	{ActivitySleep, []string{"sleep", "bedtime", "rest", "nap"}},
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

type ItemCard struct {
	ScheduleItemID   string       `json:"scheduleItemId"`
	ActivityType     ActivityType `json:"activityType"`
	Title            string       `json:"title"`
	Instructions     []string     `json:"instructions"`
	WindowStartLocal string       `json:"windowStartLocal"`
	WindowEndLocal   string       `json:"windowEndLocal"`
	DisplayOrder     int          `json:"displayOrder"`
	LatestReport     *ReportBrief `json:"latestReport,omitempty"`
}

type ReportBrief struct {
	ReportID      string     `json:"reportId"`
	Status        Status     `json:"status"`
	AlertLevel    AlertLevel `json:"alertLevel"`
	Summary       string     `json:"summary"`
	ReportedAtISO string     `json:"reportedAtIso"`
}

type ReportDetail struct {
	ReportID           string       `json:"reportId"`
	ScheduleItemID     string       `json:"scheduleItemId"`
	ActivityType       ActivityType `json:"activityType"`
	Status             Status       `json:"status"`
	FollowedPlan       bool         `json:"followedPlan"`
	ChangesMade        string       `json:"changesMade,omitempty"`
	FeltAfter          string       `json:"feltAfter,omitempty"`
	Symptoms           string       `json:"symptoms,omitempty"`
	Notes              string       `json:"notes,omitempty"`
	AlertLevel         AlertLevel   `json:"alertLevel"`
	Summary            string       `json:"summary"`
	ReportedAtISO      string       `json:"reportedAtIso"`
	CreatedAt          string       `json:"createdAt"`
	ConversationTurnID string       `json:"conversationTurnId,omitempty"`
	SessionID          string       `json:"sessionId,omitempty"`
}

type Snapshot struct {
	Date     string         `json:"date"`
	Timezone string         `json:"timezone"`
	Items    []ItemCard     `json:"items"`
	Timeline []ReportDetail `json:"timeline"`
	Message  string         `json:"message"`
}

type Current struct {
	Timezone     string    `json:"timezone"`
	LocalNowISO  string    `json:"localNowIso"`
	InWindow     bool      `json:"inWindow"`
	CurrentItem  *ItemCard `json:"currentItem"`
	UpcomingItem *ItemCard `json:"upcomingItem"`
	Message      string    `json:"message"`
}

type ItemReports struct {
	ScheduleItemID string         `json:"scheduleItemId"`
	Date           string         `json:"date"`
	Timezone       string         `json:"timezone"`
	Reports        []ReportDetail `json:"reports"`
}

type SaveRequest struct {
	UserID             string
	ScheduleItemID     string
	Status             string
	FollowedPlan       bool
	ChangesMade        string
	FeltAfter          string
	Symptoms           string
	Notes              string
	AlertLevel         string
	Summary            string
	Timezone           string
	ReportedAtISO      string
	ConversationTurnID string
	SessionID          string
}

// SaveResult reports what SaveAdherenceReport did. ReasonCode is set only
// when Saved is false. ResolvedFrom carries the caller's label when it had
// to be mapped to a different item id.
type SaveResult struct {
	Saved        bool
	Deduped      bool
	ReasonCode   string
	Message      string
	ResolvedFrom string
	Report       Report
}

type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("schedule store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, now: time.Now, logger: logger}, nil
}

func (s *Service) TodaySchedule(ctx context.Context, userID, tz, date string) (Snapshot, error) {
	tc := resolveTime(s.now(), tz, "", date)
	items, err := s.store.ActiveItems(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	reports, err := s.store.ReportsByDate(ctx, userID, tc.ReportDate)
	if err != nil {
		return Snapshot{}, err
	}
	latest := latestByItem(reports)

	snap := Snapshot{
		Date:     tc.ReportDate,
		Timezone: tc.Timezone,
		Items:    make([]ItemCard, 0, len(items)),
		Timeline: make([]ReportDetail, 0, len(reports)),
		Message:  "Loaded daily schedule and adherence timeline.",
	}
	for _, it := range items {
		card := itemCard(it)
		if r, ok := latest[it.ID]; ok {
			card.LatestReport = &ReportBrief{
				ReportID:      r.ID,
				Status:        r.Status,
				AlertLevel:    r.AlertLevel,
				Summary:       r.Summary,
				ReportedAtISO: isoUTC(r.ReportedAt),
			}
		}
		snap.Items = append(snap.Items, card)
	}
	for _, r := range reports {
		snap.Timeline = append(snap.Timeline, reportDetail(r))
	}
	return snap, nil
}

func (s *Service) CurrentItem(ctx context.Context, userID, tz, nowISO string) (Current, error) {
	tc := resolveTime(s.now(), tz, nowISO, "")
	items, err := s.store.ActiveItems(ctx, userID)
	if err != nil {
		return Current{}, err
	}
	out := Current{Timezone: tc.Timezone, LocalNowISO: tc.LocalNow.Format(time.RFC3339)}
	now := minutesOf(tc.LocalNow)

	for _, it := range items {
		if inWindow(now, it) {
			card := itemCard(it)
			out.InWindow = true
			out.CurrentItem = &card
			out.Message = fmt.Sprintf("It is currently time for '%s'.", it.Title)
			return out, nil
		}
	}
	if next, ok := nextUpcoming(now, items); ok {
		card := itemCard(next)
		out.UpcomingItem = &card
		out.Message = fmt.Sprintf("No active item right now. Next up is '%s' at %s.", next.Title, next.WindowStart)
		return out, nil
	}
	out.Message = "No more scheduled items remain for today."
	return out, nil
}

func (s *Service) SaveAdherenceReport(ctx context.Context, req SaveRequest) (SaveResult, error) {
	userID := strings.TrimSpace(req.UserID)
	tc := resolveTime(s.now(), req.Timezone, req.ReportedAtISO, "")

	item, resolvedFrom, err := s.resolveItem(ctx, userID, req.ScheduleItemID, tc)
	if err != nil {
		return SaveResult{}, err
	}
	if item == nil {
		return SaveResult{
			ReasonCode: ReasonInvalidItem,
			Message: fmt.Sprintf("Could not save adherence: schedule item '%s' was not found. "+
				"Please use the exact schedule item id from get_today_schedule.", req.ScheduleItemID),
		}, nil
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		return SaveResult{
			ReasonCode: ReasonInvalidStatus,
			Message:    fmt.Sprintf("Invalid status '%s'. Use done, partial, skipped, or delayed.", req.Status),
		}, nil
	}
	alertRaw := req.AlertLevel
	if strings.TrimSpace(alertRaw) == "" {
		alertRaw = string(AlertNone)
	}
	alert, err := ParseAlertLevel(alertRaw)
	if err != nil {
		return SaveResult{
			ReasonCode: ReasonInvalidAlert,
			Message:    fmt.Sprintf("Invalid alert_level '%s'. Use none, watch, or urgent.", req.AlertLevel),
		}, nil
	}

	sessionID := strings.TrimSpace(req.SessionID)
	turnID := strings.TrimSpace(req.ConversationTurnID)
	if dup, ok, err := s.store.FindDuplicate(ctx, userID, item.ID, sessionID, turnID); err != nil {
		return SaveResult{}, err
	} else if ok {
		return savedResult(dup, true, resolvedFrom), nil
	}

	report := Report{
		ID:                 newReportID(),
		UserID:             userID,
		ScheduleItemID:     item.ID,
		ReportDate:         tc.ReportDate,
		ActivityType:       item.ActivityType,
		Status:             status,
		FollowedPlan:       req.FollowedPlan,
		ChangesMade:        strings.TrimSpace(req.ChangesMade),
		FeltAfter:          strings.TrimSpace(req.FeltAfter),
		Symptoms:           strings.TrimSpace(req.Symptoms),
		Notes:              strings.TrimSpace(req.Notes),
		AlertLevel:         alert,
		Summary:            reportSummary(item.Title, status, req),
		ReportedAt:         tc.LocalNow.UTC(),
		ConversationTurnID: turnID,
		SessionID:          sessionID,
	}
	saved, err := s.store.SaveReport(ctx, report)
	if err != nil {
		return SaveResult{}, err
	}
	s.logger.Info("adherence_report_saved",
		"user_id", userID,
		"schedule_item_id", saved.ScheduleItemID,
		"status", saved.Status,
		"alert_level", saved.AlertLevel,
	)
	return savedResult(saved, false, resolvedFrom), nil
}

func (s *Service) ReportsForItem(ctx context.Context, userID, itemID, tz, date string) (ItemReports, error) {
	tc := resolveTime(s.now(), tz, "", date)
	reports, err := s.store.ReportsForItem(ctx, userID, itemID, tc.ReportDate)
	if err != nil {
		return ItemReports{}, err
	}
	out := ItemReports{
		ScheduleItemID: itemID,
		Date:           tc.ReportDate,
		Timezone:       tc.Timezone,
		Reports:        make([]ReportDetail, 0, len(reports)),
	}
	for _, r := range reports {
		out.Reports = append(out.Reports, reportDetail(r))
	}
	return out, nil
}

// resolveItem maps what the model called the item to a stored item: exact
// id, then normalized title, title substring, alias word, activity type.
// The returned label is the raw input when it was not an exact id.
func (s *Service) resolveItem(ctx context.Context, userID, raw string, tc TimeContext) (*Item, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", nil
	}
	exact, err := s.store.Item(ctx, userID, raw)
	if err == nil {
		return &exact, "", nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}
	items, err := s.store.ActiveItems(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if len(items) == 0 {
		return nil, raw, nil
	}

	query := normalizeLabel(raw)
	for i := range items {
		if normalizeLabel(items[i].Title) == query {
			return &items[i], raw, nil
		}
	}
	if query != "" {
		var matches []Item
		for _, it := range items {
			if strings.Contains(normalizeLabel(it.Title), query) {
				matches = append(matches, it)
			}
		}
		if len(matches) > 0 {
			best := chooseBest(matches, tc)
			return &best, raw, nil
		}
	}
	if activity, ok := aliasActivity(query); ok {
		if typed := filterType(items, activity); len(typed) > 0 {
			best := chooseBest(typed, tc)
			return &best, raw, nil
		}
	}
	if typed := filterType(items, ActivityType(query)); len(typed) > 0 {
		best := chooseBest(typed, tc)
		return &best, raw, nil
	}
	return nil, raw, nil
}

func normalizeLabel(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}

func aliasActivity(label string) (ActivityType, bool) {
	for _, a := range aliases {
		for _, w := range a.words {
			if w == label {
				return a.activity, true
			}
		}
	}
	return "", false
}

func filterType(items []Item, activity ActivityType) []Item {
	var out []Item
	for _, it := range items {
		if it.ActivityType == activity {
			out = append(out, it)
		}
	}
	return out
}

// chooseBest prefers an item whose window contains now, else the one whose
// window starts closest to now.
func chooseBest(items []Item, tc TimeContext) Item {
	now := minutesOf(tc.LocalNow)
	sorted := append([]Item(nil), items...)
	sortItems(sorted)
	for _, it := range sorted {
		if inWindow(now, it) {
			return it
		}
	}
	distance := func(it Item) int {
		start, _ := clockMinutes(it.WindowStart)
		d := start - now
		if d < 0 {
			d = -d
		}
		return d
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := distance(sorted[i]), distance(sorted[j])
		if di != dj {
			return di < dj
		}
		if sorted[i].DisplayOrder != sorted[j].DisplayOrder {
			return sorted[i].DisplayOrder < sorted[j].DisplayOrder
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0]
}

func nextUpcoming(now int, items []Item) (Item, bool) {
	var upcoming []Item
	for _, it := range items {
		if start, ok := clockMinutes(it.WindowStart); ok && start > now {
			upcoming = append(upcoming, it)
		}
	}
	if len(upcoming) == 0 {
		return Item{}, false
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		a, b := upcoming[i], upcoming[j]
		if a.WindowStart != b.WindowStart {
			return a.WindowStart < b.WindowStart
		}
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.ID < b.ID
	})
	return upcoming[0], true
}

func latestByItem(reports []Report) map[string]Report {
	latest := make(map[string]Report)
	for _, r := range reports {
		cur, ok := latest[r.ScheduleItemID]
		if !ok || !r.ReportedAt.Before(cur.ReportedAt) {
			latest[r.ScheduleItemID] = r
		}
	}
	return latest
}

func reportSummary(title string, status Status, req SaveRequest) string {
	if s := strings.TrimSpace(req.Summary); s != "" {
		return s
	}
	parts := []string{fmt.Sprintf("%s: %s.", title, status)}
	if req.FollowedPlan {
		parts = append(parts, "Followed plan.")
	} else {
		parts = append(parts, "Did not fully follow plan.")
	}
	if v := strings.TrimSpace(req.FeltAfter); v != "" {
		parts = append(parts, fmt.Sprintf("How they felt: %s.", v))
	}
	if v := strings.TrimSpace(req.Symptoms); v != "" {
		parts = append(parts, fmt.Sprintf("Symptoms: %s.", v))
	}
	if v := strings.TrimSpace(req.Notes); v != "" {
		parts = append(parts, fmt.Sprintf("Notes: %s.", v))
	}
	return strings.Join(parts, " ")
}

func savedResult(r Report, deduped bool, resolvedFrom string) SaveResult {
	res := SaveResult{Saved: true, Deduped: deduped, Message: "Saved adherence report.", Report: r}
	if resolvedFrom != "" && resolvedFrom != r.ScheduleItemID {
		res.ResolvedFrom = resolvedFrom
		res.Message = fmt.Sprintf("Saved adherence report after mapping '%s' to '%s'.", resolvedFrom, r.ScheduleItemID)
	}
	return res
}

func itemCard(it Item) ItemCard {
	instructions := it.Instructions
	if instructions == nil {
		instructions = []string{}
	}
	return ItemCard{
		ScheduleItemID:   it.ID,
		ActivityType:     it.ActivityType,
		Title:            it.Title,
		Instructions:     instructions,
		WindowStartLocal: it.WindowStart,
		WindowEndLocal:   it.WindowEnd,
		DisplayOrder:     it.DisplayOrder,
	}
}

func reportDetail(r Report) ReportDetail {
	return ReportDetail{
		ReportID:           r.ID,
		ScheduleItemID:     r.ScheduleItemID,
		ActivityType:       r.ActivityType,
		Status:             r.Status,
		FollowedPlan:       r.FollowedPlan,
		ChangesMade:        r.ChangesMade,
		FeltAfter:          r.FeltAfter,
		Symptoms:           r.Symptoms,
		Notes:              r.Notes,
		AlertLevel:         r.AlertLevel,
		Summary:            r.Summary,
		ReportedAtISO:      isoUTC(r.ReportedAt),
		CreatedAt:          isoUTC(r.CreatedAt),
		ConversationTurnID: r.ConversationTurnID,
		SessionID:          r.SessionID,
	}
}

func isoUTC(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func newReportID() string {
	return "rep_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
