package schema

import (
	"time"
	_ "time/tzdata" // workflow timezones resolve without a system zoneinfo
)

// TriggerType identifies the business event a workflow reacts to.
type TriggerType string

const (
	TriggerCustomerCreated  TriggerType = "customer_created"
	TriggerServiceCompleted TriggerType = "service_completed"
	TriggerReviewCompleted  TriggerType = "review_completed"
	TriggerManual           TriggerType = "manual"
)

// Well-known action types.
const (
	ActionSendEmail    = "send_email"
	ActionSendSMS      = "send_sms"
	ActionDelay        = "delay"
	ActionWebhook      = "webhook"
	ActionUpdateEntity = "update_entity"
)

// Workflow is the read-only automation definition an execution runs.
type Workflow struct {
	ID          string        `json:"id" yaml:"id"`
	TenantID    string        `json:"tenant_id" yaml:"tenant_id"`
	Name        string        `json:"name,omitempty" yaml:"name,omitempty"`
	TriggerType TriggerType   `json:"trigger_type" yaml:"trigger_type"`
	Conditions  *ConditionSet `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions     []ActionSpec  `json:"actions,omitempty" yaml:"actions,omitempty"`
	Delay       DelayConfig   `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// ActionSpec is one named entry of a workflow's ordered action map.
type ActionSpec struct {
	Name    string         `json:"name" yaml:"name"`
	Type    string         `json:"type,omitempty" yaml:"type,omitempty"`
	Enabled *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ActionType returns the handler name, falling back to the entry name.
func (a ActionSpec) ActionType() string {
	if a.Type != "" {
		return a.Type
	}
	return a.Name
}

// IsEnabled reports the enabled flag; an absent flag means enabled.
func (a ActionSpec) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// ConditionSet is the structured precondition attached to a workflow.
// Rules are jq paths over the target entity; Expression is a CEL or expr program.
// Both must hold when both are present.
type ConditionSet struct {
	Engine     string          `json:"engine,omitempty" yaml:"engine,omitempty"` // cel | expr (default: cel)
	Expression string          `json:"expression,omitempty" yaml:"expression,omitempty"`
	Match      string          `json:"match,omitempty" yaml:"match,omitempty"` // all | any (default: all)
	Rules      []ConditionRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// ConditionRule compares the value at a jq path of the target entity.
type ConditionRule struct {
	Path     string `json:"path" yaml:"path"`
	Operator string `json:"operator" yaml:"operator"` // eq | ne | gt | gte | lt | lte | exists | not_exists | in | contains
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// DelayConfig is the declarative delay a workflow applies when scheduled from config.
type DelayConfig struct {
	Days              int    `json:"days,omitempty" yaml:"days,omitempty"`
	Hours             int    `json:"hours,omitempty" yaml:"hours,omitempty"`
	Minutes           int    `json:"minutes,omitempty" yaml:"minutes,omitempty"`
	SendAtHour        *int   `json:"send_at_hour,omitempty" yaml:"send_at_hour,omitempty"`
	BusinessHoursOnly bool   `json:"business_hours_only,omitempty" yaml:"business_hours_only,omitempty"`
	Timezone          string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Duration is the relative part of the delay.
func (d DelayConfig) Duration() time.Duration {
	return time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute
}

// Location resolves Timezone, defaulting to UTC.
func (d DelayConfig) Location() *time.Location {
	if d.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Entity is a target of automation (customer, contact) owned by a tenant.
type Entity struct {
	ID         string         `json:"id" yaml:"id"`
	TenantID   string         `json:"tenant_id" yaml:"tenant_id"`
	Kind       string         `json:"kind,omitempty" yaml:"kind,omitempty"`
	Email      string         `json:"email,omitempty" yaml:"email,omitempty"`
	Phone      string         `json:"phone,omitempty" yaml:"phone,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Document flattens the entity into the map seen by condition expressions.
func (e *Entity) Document() map[string]any {
	doc := make(map[string]any, len(e.Attributes)+5)
	for k, v := range e.Attributes {
		doc[k] = v
	}
	doc["id"] = e.ID
	doc["tenant_id"] = e.TenantID
	doc["kind"] = e.Kind
	doc["email"] = e.Email
	doc["phone"] = e.Phone
	return doc
}
