package core

import (
	"strings"
	"time"
)

const (
	// DefaultModel is used when neither the request nor the user settings name a model
	DefaultModel = "text-davinci-003"
	// DefaultTemperature is applied when a completion request omits temperature
	DefaultTemperature = 0.7
	// DefaultCacheExpirationTime is the default cache TTL in seconds
	DefaultCacheExpirationTime = 3600
)

// CompletionRequest is the body of POST /requests/.
// Optional sampling parameters are pointers so "omitted" and "zero" stay distinct.
type CompletionRequest struct {
	Prompt           string   `json:"prompt"`
	Model            string   `json:"model,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
}

// Validate checks the request fields and returns a validation error listing
// every offending field, or nil.
func (r *CompletionRequest) Validate() error {
	var issues []FieldIssue
	if strings.TrimSpace(r.Prompt) == "" {
		issues = append(issues, bodyIssue("prompt", "Prompt cannot be empty."))
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		issues = append(issues, bodyIssue("temperature", "temperature must be between 0 and 2"))
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		issues = append(issues, bodyIssue("max_tokens", "max_tokens must be a positive integer"))
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		issues = append(issues, bodyIssue("top_p", "top_p must be between 0 and 1"))
	}
	if r.FrequencyPenalty != nil && (*r.FrequencyPenalty < -2 || *r.FrequencyPenalty > 2) {
		issues = append(issues, bodyIssue("frequency_penalty", "frequency_penalty must be between -2.0 and 2.0"))
	}
	if r.PresencePenalty != nil && (*r.PresencePenalty < -2 || *r.PresencePenalty > 2) {
		issues = append(issues, bodyIssue("presence_penalty", "presence_penalty must be between -2.0 and 2.0"))
	}
	if len(issues) > 0 {
		return NewValidationError(issues...)
	}
	return nil
}

// WithDefaults returns a copy of the request with model and temperature resolved.
// The caller's request is not mutated.
func (r *CompletionRequest) WithDefaults(defaultModel string) *CompletionRequest {
	c := *r
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	return &c
}

// Parameters returns the sampling parameters that were set, keyed by their wire names.
func (r *CompletionRequest) Parameters() map[string]interface{} {
	params := make(map[string]interface{})
	if r.Temperature != nil {
		params["temperature"] = *r.Temperature
	}
	if r.MaxTokens != nil {
		params["max_tokens"] = *r.MaxTokens
	}
	if r.TopP != nil {
		params["top_p"] = *r.TopP
	}
	if r.FrequencyPenalty != nil {
		params["frequency_penalty"] = *r.FrequencyPenalty
	}
	if r.PresencePenalty != nil {
		params["presence_penalty"] = *r.PresencePenalty
	}
	return params
}

// CompletionResponse is the success body of POST /requests/.
type CompletionResponse struct {
	Status   string `json:"status"`
	Response string `json:"response"`
}

// Model describes a model offered by the completion provider
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Created int64  `json:"created"`
}

// ModelsResponse represents the response from the /models endpoint
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// UserSettings holds a user's provider credentials and preferences.
// There is at most one UserSettings per UserID.
type UserSettings struct {
	ID                  string `json:"id"`
	UserID              string `json:"user_id"`
	APIKey              string `json:"api_key"`
	PreferredModel      string `json:"preferred_model"`
	IsCacheEnabled      bool   `json:"is_cache_enabled"`
	CacheExpirationTime int    `json:"cache_expiration_time"`
}

// CacheTTL returns the configured cache expiration as a duration.
func (s *UserSettings) CacheTTL() time.Duration {
	return time.Duration(s.CacheExpirationTime) * time.Second
}

// SettingsPatch carries a subset of settings fields. Nil fields are left untouched
// on update and take their defaults on create.
type SettingsPatch struct {
	APIKey              *string `json:"api_key,omitempty"`
	PreferredModel      *string `json:"preferred_model,omitempty"`
	IsCacheEnabled      *bool   `json:"is_cache_enabled,omitempty"`
	CacheExpirationTime *int    `json:"cache_expiration_time,omitempty"`
}

// Validate checks the patch. When creating, api_key is required.
func (p *SettingsPatch) Validate(create bool) error {
	var issues []FieldIssue
	if create && p.APIKey == nil {
		issues = append(issues, FieldIssue{Loc: []string{"body", "api_key"}, Msg: "Field required", Type: "missing"})
	}
	if p.APIKey != nil && strings.TrimSpace(*p.APIKey) == "" {
		issues = append(issues, bodyIssue("api_key", "API key cannot be empty."))
	}
	if p.PreferredModel != nil && strings.TrimSpace(*p.PreferredModel) == "" {
		issues = append(issues, bodyIssue("preferred_model", "preferred_model cannot be empty"))
	}
	if p.CacheExpirationTime != nil && *p.CacheExpirationTime < 0 {
		issues = append(issues, bodyIssue("cache_expiration_time", "cache_expiration_time must not be negative"))
	}
	if len(issues) > 0 {
		return NewValidationError(issues...)
	}
	return nil
}

// Apply copies the set fields of the patch onto s.
func (p *SettingsPatch) Apply(s *UserSettings) {
	if p.APIKey != nil {
		s.APIKey = *p.APIKey
	}
	if p.PreferredModel != nil {
		s.PreferredModel = *p.PreferredModel
	}
	if p.IsCacheEnabled != nil {
		s.IsCacheEnabled = *p.IsCacheEnabled
	}
	if p.CacheExpirationTime != nil {
		s.CacheExpirationTime = *p.CacheExpirationTime
	}
}

// NewUserSettings builds a settings row for userID from p, applying defaults for unset fields.
func NewUserSettings(id, userID string, p *SettingsPatch) *UserSettings {
	s := &UserSettings{
		ID:                  id,
		UserID:              userID,
		PreferredModel:      DefaultModel,
		CacheExpirationTime: DefaultCacheExpirationTime,
	}
	if p != nil {
		p.Apply(s)
	}
	return s
}

// RequestStatus is the processing state of a RequestRecord
type RequestStatus string

const (
	StatusPending RequestStatus = "pending"
	StatusSuccess RequestStatus = "success"
	StatusError   RequestStatus = "error"
)

// Valid reports whether s is one of the known statuses
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusError:
		return true
	}
	return false
}

// RequestRecord is a submitted prompt and its outcome.
// UserID references UserSettings.ID.
type RequestRecord struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	Prompt     string                 `json:"prompt"`
	Model      string                 `json:"model"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Response   map[string]interface{} `json:"response,omitempty"`
	Status     RequestStatus          `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
}

// RecordPatch carries a subset of request record fields for partial updates.
type RecordPatch struct {
	Prompt     *string                `json:"prompt,omitempty"`
	Model      *string                `json:"model,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Response   map[string]interface{} `json:"response,omitempty"`
	Status     *RequestStatus         `json:"status,omitempty"`
}

// Validate checks the patch fields
func (p *RecordPatch) Validate() error {
	var issues []FieldIssue
	if p.Prompt != nil && strings.TrimSpace(*p.Prompt) == "" {
		issues = append(issues, bodyIssue("prompt", "Prompt cannot be empty."))
	}
	if p.Model != nil && strings.TrimSpace(*p.Model) == "" {
		issues = append(issues, bodyIssue("model", "model cannot be empty"))
	}
	if p.Status != nil && !p.Status.Valid() {
		issues = append(issues, bodyIssue("status", "status must be one of pending, success, error"))
	}
	if len(issues) > 0 {
		return NewValidationError(issues...)
	}
	return nil
}

// Apply copies the set fields of the patch onto r.
func (p *RecordPatch) Apply(r *RequestRecord) {
	if p.Prompt != nil {
		r.Prompt = *p.Prompt
	}
	if p.Model != nil {
		r.Model = *p.Model
	}
	if p.Parameters != nil {
		r.Parameters = p.Parameters
	}
	if p.Response != nil {
		r.Response = p.Response
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
}

func bodyIssue(field, msg string) FieldIssue {
	return FieldIssue{Loc: []string{"body", field}, Msg: msg, Type: "value_error"}
}
