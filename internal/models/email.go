package models

// Email is the persisted metadata of one remote mail item
type Email struct {
	MessageID      string `json:"message_id"`
	DateReceived   int64  `json:"date_received"` // epoch milliseconds
	FromEmail      string `json:"from_email"`
	DomainOrigin   string `json:"domain_origin"`
	SizeOfEmail    int64  `json:"size_of_email"`
	HasAttachments bool   `json:"has_attachments"`
	Subject        string `json:"subject"`
}
