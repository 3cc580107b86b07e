package schedule

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bezaspace/rak4/pkg/core/tools"
)

func callTool(t *testing.T, r *tools.Registry, cc tools.CallContext, name string, args any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := r.Call(tools.WithCallContext(context.Background(), cc), name, raw)
	if err != nil {
		t.Fatalf("Call(%s) error: %v", name, err)
	}
	return out
}

func TestScheduleTools(t *testing.T) {
	items, _ := SeedItems(DefaultUserID)
	store := NewMemoryStore(items...)
	svc, _ := NewService(store, nil)
	svc.now = func() time.Time { return fixedNow }
	r := tools.NewRegistry(Tools(svc)...)
	cc := tools.CallContext{Timezone: "Asia/Kolkata", SessionID: "sess-1"}

	snap := callTool(t, r, cc, "get_today_schedule", TodayArgs{})
	if snap["type"] != PayloadSnapshot || snap["timezone"] != "Asia/Kolkata" {
		t.Fatalf("snapshot=%v", snap)
	}
	if got := snap["items"].([]any); len(got) != 6 {
		t.Fatalf("items=%d", len(got))
	}

	cur := callTool(t, r, cc, "get_current_schedule_item", CurrentArgs{Timezone: "UTC"})
	// 07:50 UTC falls inside the breakfast window.
	if cur["timezone"] != "UTC" || cur["inWindow"] != true || cur["currentItem"].(map[string]any)["scheduleItemId"] != "sch_breakfast" {
		t.Fatalf("current=%v", cur)
	}
	if _, typed := cur["type"]; typed {
		t.Fatalf("current item payload should not carry a type: %v", cur)
	}

	saved := callTool(t, r, cc, "save_adherence_report", SaveArgs{
		ScheduleItemID: "lunch", Status: "done", FollowedPlan: true, ConversationTurnID: "2",
	})
	if saved["type"] != PayloadReportSaved || saved["saved"] != true || saved["resolvedScheduleItemId"] != "sch_lunch" {
		t.Fatalf("saved=%v", saved)
	}
	if saved["sessionId"] != "sess-1" || saved["reasonCode"] != nil || saved["changesMade"] != nil {
		t.Fatalf("saved=%v", saved)
	}

	failed := callTool(t, r, cc, "save_adherence_report", SaveArgs{ScheduleItemID: "nothing-like-this", Status: "done"})
	if failed["saved"] != false || failed["reasonCode"] != ReasonInvalidItem {
		t.Fatalf("failed=%v", failed)
	}
	if _, ok := failed["reportId"]; ok {
		t.Fatalf("failure payload carries report fields: %v", failed)
	}
}

func TestPostgresStoreIntegration(t *testing.T) {
	url := os.Getenv("RAKSHA_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RAKSHA_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	userID := "it-" + time.Now().Format("150405.000000")
	items, _ := SeedItems(userID)
	for i := range items {
		items[i].ID = userID + "-" + items[i].ID
	}
	store := NewPostgresStore(pool)
	if err := store.SaveItems(ctx, items); err != nil {
		t.Fatalf("SaveItems() error (run the migrations first): %v", err)
	}
	defer pool.Exec(ctx, `DELETE FROM adherence_reports WHERE user_id = $1`, userID)
	defer pool.Exec(ctx, `DELETE FROM schedule_items WHERE user_id = $1`, userID)

	svc, _ := NewService(store, nil)
	res, err := svc.SaveAdherenceReport(ctx, SaveRequest{
		UserID: userID, ScheduleItemID: "lunch", Status: "done", SessionID: "s", ConversationTurnID: "1",
	})
	if err != nil || !res.Saved {
		t.Fatalf("save res=%+v err=%v", res, err)
	}
	dup, err := svc.SaveAdherenceReport(ctx, SaveRequest{
		UserID: userID, ScheduleItemID: "lunch", Status: "done", SessionID: "s", ConversationTurnID: "1",
	})
	if err != nil || !dup.Deduped {
		t.Fatalf("dup res=%+v err=%v", dup, err)
	}
	snap, err := svc.TodaySchedule(ctx, userID, "", "")
	if err != nil || len(snap.Items) != len(items) {
		t.Fatalf("snapshot=%+v err=%v", snap, err)
	}
}
