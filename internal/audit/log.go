package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"tourneyhub.io/internal/auth"
	"tourneyhub.io/internal/ids"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is one state-changing action.
type Entry struct {
	ID           string    `json:"id"`
	ClientID     *int64    `json:"clientId"`
	UserID       *int64    `json:"userId"`
	UserName     string    `json:"userName,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	OldValues    any       `json:"oldValues,omitempty"`
	NewValues    any       `json:"newValues,omitempty"`
	IP           string    `json:"ipAddress,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	RequestID    string    `json:"requestId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Sink appends entries to durable or streaming storage.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Recorder fans entries out to its sinks. Sink failures are logged and
// never returned.
type Recorder struct {
	sinks []Sink
	log   *zap.Logger
	now   func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(log *zap.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{sinks: sinks, log: log, now: time.Now}
}

var errMissingAction = errors.New("audit action is required")

// Record enriches e with id, timestamp, request id and acting user, then
// writes it to every sink.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil {
		return
	}
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		r.log.Warn("audit entry dropped", zap.Error(errMissingAction))
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.At(e.Timestamp)
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	if e.UserID == nil {
		if uid, ok := auth.UserIDFromContext(ctx); ok {
			e.UserID = &uid
		}
	}
	for _, sink := range r.sinks {
		if err := sink.Write(ctx, e); err != nil {
			r.log.Warn("audit sink failed",
				zap.String("action", e.Action),
				zap.String("resource_type", e.ResourceType),
				zap.String("resource_id", e.ResourceID),
				zap.Error(err))
		}
	}
}

// LogSink writes entries as structured log lines.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("audit")}
}

func (s *LogSink) Write(_ context.Context, e Entry) error {
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("id", e.ID),
		zap.String("action", e.Action),
		zap.String("resource_type", e.ResourceType),
		zap.String("resource_id", e.ResourceID),
		zap.Time("timestamp", e.Timestamp),
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	if e.UserID != nil {
		fields = append(fields, zap.Int64("user_id", *e.UserID))
	}
	if e.ClientID != nil {
		fields = append(fields, zap.Int64("client_id", *e.ClientID))
	}
	if e.OldValues != nil {
		fields = append(fields, zap.Any("old_values", e.OldValues))
	}
	if e.NewValues != nil {
		fields = append(fields, zap.Any("new_values", e.NewValues))
	}
	if e.IP != "" {
		fields = append(fields, zap.String("ip", e.IP))
	}
	if e.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", e.UserAgent))
	}
	s.log.Info("audit", fields...)
	return nil
}
