package domain

import "time"

// PlaybookRule maps a CEL condition over a scored prediction to a retention
// action. Enabled rules are tried by ascending priority; the first match
// replaces the suggested action.
type PlaybookRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// CEL expression, must evaluate to bool
	Expression string `json:"expression"`

	Action   string `json:"action"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
