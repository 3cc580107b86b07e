package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bezaspace/rak4/pkg/gateway/apierror"
	"github.com/bezaspace/rak4/pkg/schedule"
)

// ScheduleReader is the read side of *schedule.Service.
type ScheduleReader interface {
	TodaySchedule(ctx context.Context, userID, tz, date string) (schedule.Snapshot, error)
	ReportsForItem(ctx context.Context, userID, itemID, tz, date string) (schedule.ItemReports, error)
}

// ScheduleHandler serves the dashboard's schedule routes:
//
//	GET /api/schedule/today?user_id=&timezone=&date=
//	GET /api/schedule/items/{id}/reports?user_id=&timezone=&date=
type ScheduleHandler struct {
	Schedule ScheduleReader
	Logger   *slog.Logger
}

func (h ScheduleHandler) Today(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	snap, err := h.Schedule.TodaySchedule(r.Context(), userID, q.Get("timezone"), q.Get("date"))
	if err != nil {
		h.fail(w, r, "schedule_today_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h ScheduleHandler) ItemReports(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	itemID := strings.TrimSpace(r.PathValue("id"))
	if itemID == "" {
		writeErrorStatus(w, r, http.StatusBadRequest, &apierror.Error{
			Type:    apierror.TypeInvalidRequest,
			Message: "schedule item id is required",
			Param:   "id",
		})
		return
	}
	q := r.URL.Query()
	out, err := h.Schedule.ReportsForItem(r.Context(), userID, itemID, q.Get("timezone"), q.Get("date"))
	if err != nil {
		h.fail(w, r, "schedule_reports_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h ScheduleHandler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeErrorStatus(w, r, http.StatusBadRequest, &apierror.Error{
			Type:    apierror.TypeInvalidRequest,
			Message: "user_id is required",
			Param:   "user_id",
		})
		return "", false
	}
	return userID, true
}

func (h ScheduleHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if h.Logger != nil {
		h.Logger.Error(msg, "request_id", requestIDFromContext(r), "error", err)
	}
	writeError(w, r, err)
}
