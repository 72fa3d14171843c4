// internal/model/outbound_message.go
package model

// OutboundMessage is built per recipient right before sending
type OutboundMessage struct {
	RecipientID string `json:"recipient_id"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	HTMLBody    string `json:"html_body"`
	TextBody    string `json:"text_body"`
}

// SendReport is what a notification channel returns for one bulk call.
// FailedIDs must account for every failure for the report to be trusted per recipient.
type SendReport struct {
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	FailedIDs    []string `json:"failed_ids,omitempty"`
}

// Attributable reports whether each failure is tied to a recipient id
func (r SendReport) Attributable() bool {
	return r.FailureCount == len(r.FailedIDs)
}
