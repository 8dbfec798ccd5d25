package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ActionType discriminates the ActionConfig variants.
type ActionType string

const (
	ActionSendAgreement    ActionType = "SEND_AGREEMENT"
	ActionSendEmail        ActionType = "SEND_EMAIL"
	ActionSendSMS          ActionType = "SEND_SMS"
	ActionCreateTask       ActionType = "CREATE_TASK"
	ActionUpdateField      ActionType = "UPDATE_FIELD"
	ActionCreateCommission ActionType = "CREATE_COMMISSION"
	ActionWebhook          ActionType = "WEBHOOK"
)

// ActionTypes lists every known action type.
var ActionTypes = []ActionType{
	ActionSendAgreement,
	ActionSendEmail,
	ActionSendSMS,
	ActionCreateTask,
	ActionUpdateField,
	ActionCreateCommission,
	ActionWebhook,
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ActionConfig is the typed payload of one WorkflowAction.
// Sealed: the variants below are the only implementations.
type ActionConfig interface {
	ActionType() ActionType
	Validate() error
	actionConfig()
}

// AgreementConfig requests an e-signature envelope.
type AgreementConfig struct {
	DocumentType    string `json:"documentType"`
	RecipientName   string `json:"recipientNameField,omitempty"`
	RecipientEmail  string `json:"recipientEmailField"`
	SendImmediately bool   `json:"sendImmediately"`
	TemplateID      string `json:"templateId,omitempty"`
}

// EmailConfig sends an email. Subject and Body are templates.
type EmailConfig struct {
	RecipientField string `json:"recipientField"`
	From           string `json:"from,omitempty"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	HTML           bool   `json:"html,omitempty"`
}

// SMSConfig sends a text message. Message is a template.
type SMSConfig struct {
	RecipientField string `json:"recipientField"`
	Message        string `json:"message"`
}

// TaskPriority ranks follow-up tasks.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "LOW"
	PriorityNormal TaskPriority = "NORMAL"
	PriorityHigh   TaskPriority = "HIGH"
	PriorityUrgent TaskPriority = "URGENT"
)

// TaskConfig creates a follow-up task.
type TaskConfig struct {
	Subject       string       `json:"subject"`
	Description   string       `json:"description,omitempty"`
	DueInDays     int          `json:"dueInDays"`
	AssigneeField string       `json:"assigneeField"`
	Priority      TaskPriority `json:"priority,omitempty"`
}

// FieldValueType selects how UPDATE_FIELD computes its value.
type FieldValueType string

const (
	ValueLiteral  FieldValueType = "literal"
	ValueNow      FieldValueType = "now"
	ValueTemplate FieldValueType = "template"
)

// FieldUpdateConfig writes one field. TargetObject empty (or equal to the
// trigger object) targets the triggering entity; any other entity type
// targets the related record reachable from it.
type FieldUpdateConfig struct {
	TargetObject string         `json:"targetObject,omitempty"`
	Field        string         `json:"field"`
	ValueType    FieldValueType `json:"valueType,omitempty"`
	Value        any            `json:"value,omitempty"`
}

// Commission defaults.
const (
	DefaultCommissionOwnerPath  = "record.ownerId"
	DefaultCommissionAmountPath = "record.contractTotal"
	DefaultCommissionRate       = 10.0
)

// CommissionConfig creates a commission for the record owner.
type CommissionConfig struct {
	TriggerEvent   string  `json:"triggerEvent"`
	CommissionType string  `json:"commissionType,omitempty"`
	OwnerPath      string  `json:"ownerPath,omitempty"`
	AmountPath     string  `json:"amountPath,omitempty"`
	RatePercent    float64 `json:"ratePercent,omitempty"`
}

// WebhookConfig performs an outbound HTTP call. URL, header values and
// Body are templates.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func (AgreementConfig) ActionType() ActionType   { return ActionSendAgreement }
func (EmailConfig) ActionType() ActionType       { return ActionSendEmail }
func (SMSConfig) ActionType() ActionType         { return ActionSendSMS }
func (TaskConfig) ActionType() ActionType        { return ActionCreateTask }
func (FieldUpdateConfig) ActionType() ActionType { return ActionUpdateField }
func (CommissionConfig) ActionType() ActionType  { return ActionCreateCommission }
func (WebhookConfig) ActionType() ActionType     { return ActionWebhook }

func (AgreementConfig) actionConfig()   {}
func (EmailConfig) actionConfig()       {}
func (SMSConfig) actionConfig()         {}
func (TaskConfig) actionConfig()        {}
func (FieldUpdateConfig) actionConfig() {}
func (CommissionConfig) actionConfig()  {}
func (WebhookConfig) actionConfig()     {}

func (c AgreementConfig) Validate() error {
	var errs []error
	errs = appendRequired(errs, "documentType", c.DocumentType)
	errs = appendRequired(errs, "recipientEmailField", c.RecipientEmail)
	return errors.Join(errs...)
}

func (c EmailConfig) Validate() error {
	var errs []error
	errs = appendRequired(errs, "recipientField", c.RecipientField)
	errs = appendRequired(errs, "subject", c.Subject)
	errs = appendRequired(errs, "body", c.Body)
	return errors.Join(errs...)
}

func (c SMSConfig) Validate() error {
	var errs []error
	errs = appendRequired(errs, "recipientField", c.RecipientField)
	errs = appendRequired(errs, "message", c.Message)
	return errors.Join(errs...)
}

func (c TaskConfig) Validate() error {
	var errs []error
	errs = appendRequired(errs, "subject", c.Subject)
	errs = appendRequired(errs, "assigneeField", c.AssigneeField)
	if c.DueInDays < 0 {
		errs = append(errs, fmt.Errorf("dueInDays must be non-negative, got %d", c.DueInDays))
	}
	switch c.Priority {
	case "", PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
	default:
		errs = append(errs, fmt.Errorf("unknown priority %q", c.Priority))
	}
	return errors.Join(errs...)
}

// EffectivePriority defaults to NORMAL.
func (c TaskConfig) EffectivePriority() TaskPriority {
	if c.Priority == "" {
		return PriorityNormal
	}
	return c.Priority
}

func (c FieldUpdateConfig) Validate() error {
	var errs []error
	errs = appendRequired(errs, "field", c.Field)
	if c.TargetObject != "" {
		if _, err := ParseEntityType(c.TargetObject); err != nil {
			errs = append(errs, fmt.Errorf("targetObject: %w", err))
		}
	}
	switch c.EffectiveValueType() {
	case ValueLiteral, ValueNow:
	case ValueTemplate:
		if _, ok := c.Value.(string); !ok {
			errs = append(errs, fmt.Errorf("value must be a template string when valueType is %q", ValueTemplate))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown valueType %q", c.ValueType))
	}
	return errors.Join(errs...)
}

// EffectiveValueType defaults to literal.
func (c FieldUpdateConfig) EffectiveValueType() FieldValueType {
	if c.ValueType == "" {
		return ValueLiteral
	}
	return c.ValueType
}

func (c CommissionConfig) Validate() error {
	var errs []error
	errs = appendRequired(errs, "triggerEvent", c.TriggerEvent)
	if c.RatePercent < 0 || c.RatePercent > 100 {
		errs = append(errs, fmt.Errorf("ratePercent must be within 0..100, got %v", c.RatePercent))
	}
	return errors.Join(errs...)
}

// WithDefaults fills the optional commission fields.
func (c CommissionConfig) WithDefaults() CommissionConfig {
	if c.CommissionType == "" {
		c.CommissionType = c.TriggerEvent
	}
	if c.OwnerPath == "" {
		c.OwnerPath = DefaultCommissionOwnerPath
	}
	if c.AmountPath == "" {
		c.AmountPath = DefaultCommissionAmountPath
	}
	if c.RatePercent == 0 {
		c.RatePercent = DefaultCommissionRate
	}
	return c
}

var webhookMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}

func (c WebhookConfig) Validate() error {
	var errs []error
	errs = appendRequired(errs, "url", c.URL)
	if c.URL != "" && !strings.Contains(c.URL, "{{") {
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("url must be an absolute http(s) URL, got %q", c.URL))
		}
	}
	method := c.EffectiveMethod()
	known := false
	for _, m := range webhookMethods {
		if m == method {
			known = true
			break
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("unsupported method %q", c.Method))
	}
	return errors.Join(errs...)
}

// EffectiveMethod defaults to POST.
func (c WebhookConfig) EffectiveMethod() string {
	if c.Method == "" {
		return "POST"
	}
	return strings.ToUpper(c.Method)
}

func appendRequired(errs []error, field, value string) []error {
	if strings.TrimSpace(value) == "" {
		return append(errs, fmt.Errorf("%s is required", field))
	}
	return errs
}

// ErrUnknownActionType is returned for an actionType outside ActionTypes.
var ErrUnknownActionType = errors.New("unknown actionType")

// DecodeActionConfig decodes and validates the payload for t.
// Unknown payload fields are rejected.
func DecodeActionConfig(t ActionType, raw json.RawMessage) (ActionConfig, error) {
	var cfg ActionConfig
	var err error
	switch t {
	case ActionSendAgreement:
		cfg, err = decodeStrict[AgreementConfig](raw)
	case ActionSendEmail:
		cfg, err = decodeStrict[EmailConfig](raw)
	case ActionSendSMS:
		cfg, err = decodeStrict[SMSConfig](raw)
	case ActionCreateTask:
		cfg, err = decodeStrict[TaskConfig](raw)
	case ActionUpdateField:
		cfg, err = decodeStrict[FieldUpdateConfig](raw)
	case ActionCreateCommission:
		cfg, err = decodeStrict[CommissionConfig](raw)
	case ActionWebhook:
		cfg, err = decodeStrict[WebhookConfig](raw)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownActionType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%s config: %w", t, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s config: %w", t, err)
	}
	return cfg, nil
}

func decodeStrict[T ActionConfig](raw json.RawMessage) (ActionConfig, error) {
	var cfg T
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if fu, ok := any(&cfg).(*FieldUpdateConfig); ok {
		fu.Value = normalizeNumber(fu.Value)
	}
	return cfg, nil
}

// EncodeActionConfig marshals a config payload.
func EncodeActionConfig(cfg ActionConfig) (json.RawMessage, error) {
	if cfg == nil {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s config: %w", cfg.ActionType(), err)
	}
	return data, nil
}

// DecodeConfig decodes RawConfig into Config.
func (a *WorkflowAction) DecodeConfig() error {
	cfg, err := DecodeActionConfig(a.Type, a.RawConfig)
	if err != nil {
		return err
	}
	a.Config = cfg
	return nil
}
