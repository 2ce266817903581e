package sync

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/mailsync/internal/models"
)

func TestTruncateSubject(t *testing.T) {
	long := strings.Repeat("abcdefghij", 5)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "fifty characters keep a thirty character prefix", in: long, want: long[:30]},
		{name: "exactly thirty", in: long[:30], want: long[:30]},
		{name: "short", in: "Hello", want: "Hello"},
		{name: "empty", in: "", want: ""},
		{name: "multibyte counts characters", in: strings.Repeat("é", 40), want: strings.Repeat("é", 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateSubject(tt.in)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len([]rune(got)), SubjectMaxLen)
		})
	}
}

func TestExtractSender(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Jane Doe <jane@example.com>", want: "jane@example.com"},
		{in: "jane@example.com", want: "jane@example.com"},
		{in: "<jane@example.com>", want: "jane@example.com"},
		{in: `"Doe, Jane" <jane@example.com>`, want: "jane@example.com"},
		{in: "Jane Doe <jane@example.com", want: "Jane Doe <jane@example.com"},
		{in: "jane@example.com>", want: "jane@example.com>"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSender(tt.in))
		})
	}
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", DomainOf(ExtractSender("Jane Doe <jane@example.com>")))
	assert.Equal(t, "b@c", DomainOf("a@b@c"))
	assert.Equal(t, "", DomainOf("no-at-sign"))
	assert.Equal(t, "", DomainOf(""))
}

func TestHeaderValue(t *testing.T) {
	headers := []Header{
		{Name: "Received", Value: "by mx"},
		{Name: "subject", Value: "first"},
		{Name: "Subject", Value: "second"},
	}

	v, ok := HeaderValue(headers, "Subject")
	assert.True(t, ok)
	assert.Equal(t, "first", v)

	_, ok = HeaderValue(headers, "From")
	assert.False(t, ok)
}

func TestExtract(t *testing.T) {
	t.Run("full detail", func(t *testing.T) {
		d := &ItemDetail{
			ID:           "18c2f",
			InternalDate: 1_700_000_123_456,
			SizeEstimate: 48213,
			Headers: []Header{
				{Name: "From", Value: "Jane Doe <jane@example.com>"},
				{Name: "Subject", Value: "Quarterly report for the board meeting"},
			},
			Parts: 2,
		}

		assert.Equal(t, models.Email{
			MessageID:      "18c2f",
			DateReceived:   1_700_000_123_456,
			FromEmail:      "jane@example.com",
			DomainOrigin:   "example.com",
			SizeOfEmail:    48213,
			HasAttachments: true,
			Subject:        "Quarterly report for the board",
		}, Extract(d))
	})

	t.Run("missing headers and parts", func(t *testing.T) {
		got := Extract(&ItemDetail{ID: "x", InternalDate: 5})

		assert.Empty(t, got.Subject)
		assert.Empty(t, got.FromEmail)
		assert.Empty(t, got.DomainOrigin)
		assert.False(t, got.HasAttachments)
	})
}

func TestEnrich(t *testing.T) {
	ctx := context.Background()
	mb := newFakeMailbox(3, baseMillis)

	rec, err := Enrich(ctx, mb, "id-00002")
	require.NoError(t, err)
	assert.Equal(t, "id-00002", rec.MessageID)
	assert.Equal(t, "sender2@example.com", rec.FromEmail)
	assert.Equal(t, baseMillis+2000, rec.DateReceived)

	boom := errors.New("503 backend error")
	mb.failDetail["id-00003"] = boom
	_, err = Enrich(ctx, mb, "id-00003")
	assert.ErrorIs(t, err, boom)
}
