package servicecontext

import (
	"context"
)

type contextKey string

const (
	eventKey contextKey = "bridge.event"
)

// EventInfo identifies the identity-change event a piece of work belongs to
type EventInfo struct {
	ID  string
	Seq uint64
}

// WithEvent tags the context with the event being reconciled
func WithEvent(ctx context.Context, id string, seq uint64) context.Context {
	return context.WithValue(ctx, eventKey, EventInfo{ID: id, Seq: seq})
}

// GetEvent retrieves the event info from context
func GetEvent(ctx context.Context) (EventInfo, bool) {
	info, ok := ctx.Value(eventKey).(EventInfo)
	return info, ok
}

// GetEventID retrieves the event id from context
func GetEventID(ctx context.Context) (string, bool) {
	info, ok := GetEvent(ctx)
	if !ok || info.ID == "" {
		return "", false
	}
	return info.ID, true
}
