package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/Martian-dev/mailsync/internal/models"
)

// SubjectMaxLen bounds the stored subject, in characters. Longer subjects are
// cut to save space and cannot be recovered from the store.
const SubjectMaxLen = 30

// Enrich fetches the detail of one item and derives its record
func Enrich(ctx context.Context, src DetailSource, id string) (models.Email, error) {
	detail, err := src.GetDetail(ctx, id)
	if err != nil {
		return models.Email{}, fmt.Errorf("get message %s: %w", id, err)
	}
	if detail.ID == "" {
		detail.ID = id
	}
	return Extract(detail), nil
}

// Extract derives the normalized record from an item detail
func Extract(d *ItemDetail) models.Email {
	subject, _ := HeaderValue(d.Headers, "Subject")
	from, _ := HeaderValue(d.Headers, "From")
	sender := ExtractSender(from)

	return models.Email{
		MessageID:      d.ID,
		DateReceived:   d.InternalDate,
		FromEmail:      sender,
		DomainOrigin:   DomainOf(sender),
		SizeOfEmail:    d.SizeEstimate,
		HasAttachments: HasAttachments(d),
		Subject:        TruncateSubject(subject),
	}
}

// HeaderValue returns the value of the first header with the given name.
// Header names compare case-insensitively.
func HeaderValue(headers []Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// TruncateSubject cuts a subject to SubjectMaxLen characters
func TruncateSubject(subject string) string {
	runes := []rune(subject)
	if len(runes) <= SubjectMaxLen {
		return subject
	}
	return string(runes[:SubjectMaxLen])
}

// ExtractSender returns the bracketed address of a "Name <addr>" header, or
// the raw value when it carries no complete bracket pair.
func ExtractSender(raw string) string {
	open := strings.LastIndex(raw, "<")
	if open < 0 {
		return raw
	}
	end := strings.Index(raw[open:], ">")
	if end < 0 {
		return raw
	}
	return raw[open+1 : open+end]
}

// DomainOf returns everything after the first @, or "" without one
func DomainOf(addr string) string {
	_, domain, found := strings.Cut(addr, "@")
	if !found {
		return ""
	}
	return domain
}

// HasAttachments reports whether the payload exposes any parts. This is a
// heuristic: multipart bodies without files also count.
func HasAttachments(d *ItemDetail) bool {
	return d.Parts > 0
}
