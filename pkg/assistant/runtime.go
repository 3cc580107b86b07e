package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bezaspace/rak4/pkg/clinic"
	"github.com/bezaspace/rak4/pkg/core/runtime"
	"github.com/bezaspace/rak4/pkg/core/runtime/gemini"
	"github.com/bezaspace/rak4/pkg/core/tools"
	"github.com/bezaspace/rak4/pkg/profile"
	"github.com/bezaspace/rak4/pkg/schedule"
)

// DefaultUserID is used when the client does not name a user.
const DefaultUserID = schedule.DefaultUserID

// Session is one live model connection.
type Session interface {
	runtime.InputChannel
	runtime.EventStream
}

// Connector opens live sessions and text-only replayers. The replayer for a
// cycle is built from the session it backs up.
type Connector interface {
	Connect(ctx context.Context, req gemini.SessionRequest) (Session, error)
	Replayer(req gemini.SessionRequest, sess Session) runtime.Replayer
}

// GeminiConnector adapts *gemini.Backend to Connector.
type GeminiConnector struct {
	Backend *gemini.Backend
}

func (g GeminiConnector) Connect(ctx context.Context, req gemini.SessionRequest) (Session, error) {
	s, err := g.Backend.Connect(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (g GeminiConnector) Replayer(req gemini.SessionRequest, sess Session) runtime.Replayer {
	history, _ := sess.(gemini.HistorySource)
	return g.Backend.Replayer(req, history)
}

type Dependencies struct {
	Connector Connector
	Catalog   *clinic.Catalog
	// Profiles and Schedule are optional.
	Profiles *profile.Service
	Schedule *schedule.Service
	Logger   *slog.Logger
}

// Runtime builds one execution per live cycle. Booking state is kept per
// client connection so bookings survive a recovery rebuild.
type Runtime struct {
	connector Connector
	catalog   *clinic.Catalog
	profiles  *profile.Service
	schedule  *schedule.Service
	logger    *slog.Logger

	mu       sync.Mutex
	bookings map[string]*clinic.BookingState
}

func New(deps Dependencies) (*Runtime, error) {
	if deps.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("doctor catalog is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Runtime{
		connector: deps.Connector,
		catalog:   deps.Catalog,
		profiles:  deps.Profiles,
		schedule:  deps.Schedule,
		logger:    deps.Logger,
		bookings:  make(map[string]*clinic.BookingState),
	}, nil
}

func (r *Runtime) Open(ctx context.Context, req runtime.OpenRequest) (*runtime.Execution, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = DefaultUserID
	}
	ctx, span := tracer.Start(ctx, "assistant.open", trace.WithAttributes(
		attribute.String("trace_id", req.TraceID),
		attribute.String("user_id", userID),
	))
	defer span.End()

	pc := r.profiles.LoadContext(ctx, userID)
	sessionID := "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	sreq := gemini.SessionRequest{
		Instruction: Instruction(pc.Summary, r.schedule != nil),
		Tools:       r.registry(pc, r.bookingState(req.TraceID)),
		Call: tools.CallContext{
			UserID:    userID,
			Timezone:  strings.TrimSpace(req.Timezone),
			SessionID: sessionID,
			TraceID:   req.TraceID,
		},
	}

	sess, err := r.connector.Connect(ctx, sreq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	r.logger.Info("assistant_cycle_opened",
		"trace_id", req.TraceID,
		"session_id", sessionID,
		"tools", len(sreq.Tools.Names()),
		"profile_loaded", pc.Loaded,
	)
	return &runtime.Execution{
		SessionID: sessionID,
		Input:     sess,
		Events:    sess,
		Replayer:  r.connector.Replayer(sreq, sess),
		ProfileStatus: runtime.ProfileStatus{
			Loaded:  pc.Loaded,
			Source:  pc.Source,
			Message: pc.Message,
		},
	}, nil
}

// Release drops the connection's booking state.
func (r *Runtime) Release(traceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bookings, traceID)
}

func (r *Runtime) bookingState(traceID string) *clinic.BookingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.bookings[traceID]; ok {
		return s
	}
	s := clinic.NewBookingState(r.catalog.Doctors())
	r.bookings[traceID] = s
	return s
}

func (r *Runtime) registry(pc profile.Context, bookings *clinic.BookingState) *tools.Registry {
	all := clinic.Tools(r.catalog, bookings)
	all = append(all, profile.Tool(pc))
	if r.schedule != nil {
		all = append(all, schedule.Tools(r.schedule)...)
	}
	return tools.NewRegistry(all...)
}

var _ runtime.Releaser = (*Runtime)(nil)
