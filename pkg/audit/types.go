// Package audit records every security decision for later review. Events are
// written off the request path: a failed or slow write never blocks a
// request, and never changes a decision that was already made.
package audit

import (
	"context"
	"time"

	"github.com/doorwayhq/doorway/pkg/security"
)

// Event is one recorded security decision.
type Event struct {
	ID             int64     `json:"id"`
	OccurredAt     time.Time `json:"occurred_at"`
	RequestID      string    `json:"request_id,omitempty"`
	UserID         int64     `json:"user_id"`
	OrganizationID int64     `json:"organization_id"`
	ProfileID      *int64    `json:"profile_id,omitempty"`
	PlanName       string    `json:"plan_name,omitempty"`
	FeatureKey     string    `json:"feature_key,omitempty"`
	ObjectType     string    `json:"object_type,omitempty"`
	ObjectID       *int64    `json:"object_id,omitempty"`
	FieldName      string    `json:"field_name,omitempty"`
	Action         string    `json:"action,omitempty"`
	Allowed        bool      `json:"allowed"`
	ReasonCode     string    `json:"reason_code,omitempty"`
	FailedLevel    string    `json:"failed_level,omitempty"`

	// Detail preserves the internal cause behind a record-level denial
	// (object_not_found vs ownership_violation). The API never returns it;
	// the audit trail is where the two cases stay distinguishable.
	Detail string `json:"detail,omitempty"`
}

// Recorder accepts events for persistence.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// NopRecorder drops every event. Used when auditing is disabled.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event *Event) error { return nil }

// FromCheck builds the event for one decision. The caller supplies the
// request ID since the checker never sees the transport.
func FromCheck(sc *security.SecurityContext, params security.CheckParams, result *security.CheckResult, requestID string) *Event {
	event := &Event{
		OccurredAt:  result.CheckedAt,
		RequestID:   requestID,
		FeatureKey:  params.FeatureKey,
		ObjectType:  params.ObjectType,
		ObjectID:    params.ObjectID,
		FieldName:   params.FieldName,
		Action:      string(params.Action),
		Allowed:     result.Allowed,
		ReasonCode:  result.ReasonCode,
		FailedLevel: string(result.FailedLevel),
		Detail:      result.Detail,
	}
	if sc != nil {
		event.UserID = sc.UserID
		event.OrganizationID = sc.OrganizationID
		event.ProfileID = sc.ProfileID
		event.PlanName = sc.PlanName
	}
	return event
}

// SearchFilter narrows a search over recorded events. Nil and zero fields are
// ignored.
type SearchFilter struct {
	StartTime      *time.Time `json:"start_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	UserID         *int64     `json:"user_id,omitempty"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	FeatureKey     string     `json:"feature_key,omitempty"`
	ObjectType     string     `json:"object_type,omitempty"`
	ObjectID       *int64     `json:"object_id,omitempty"`
	Allowed        *bool      `json:"allowed,omitempty"`
	ReasonCode     string     `json:"reason_code,omitempty"`
	FailedLevel    string     `json:"failed_level,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
}
