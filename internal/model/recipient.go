// internal/model/recipient.go
package model

// Recipient is owned by the recipient source and never mutated here
type Recipient struct {
	ID       string            `json:"id" yaml:"id"`
	Email    string            `json:"email" yaml:"email"`
	Name     string            `json:"name" yaml:"name"`
	OptedOut bool              `json:"opted_out" yaml:"opted_out"`
	Payload  map[string]string `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Position tells the recipient source where the previous batch ended.
// LastID is preferred when set; Index is the positional fallback.
type Position struct {
	Index  int
	LastID string
}
