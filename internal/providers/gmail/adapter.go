package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/sync"
)

// Scopes requested for the cached Gmail token
var Scopes = []string{gmail.GmailReadonlyScope}

// detailFields keeps the detail response to what enrichment reads
const detailFields = "id,internalDate,sizeEstimate,payload(headers,parts(partId))"

// Adapter implements sync.Provider for Gmail
type Adapter struct {
	svc  *gmail.Service
	user string
}

// New creates a new Gmail adapter. Extra options are appended after the
// token source, so a test can point the client at another endpoint.
func New(ctx context.Context, ts oauth2.TokenSource, user string, opts ...option.ClientOption) (*Adapter, error) {
	if user == "" {
		user = "me"
	}

	var all []option.ClientOption
	if ts != nil {
		all = append(all, option.WithTokenSource(ts))
	}
	all = append(all, opts...)

	svc, err := gmail.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Adapter{svc: svc, user: user}, nil
}

// ListPage lists one page of message ids, newest first
func (a *Adapter) ListPage(ctx context.Context, q sync.ListQuery) (*sync.ListPage, error) {
	call := a.svc.Users.Messages.List(a.user).IncludeSpamTrash(false)
	if q.After != nil {
		call = call.Q(fmt.Sprintf("after:%d", *q.After))
	}
	if q.PageSize > 0 {
		call = call.MaxResults(int64(q.PageSize))
	}
	if q.PageToken != "" {
		call = call.PageToken(q.PageToken)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", mapError(err))
	}

	page := &sync.ListPage{
		IDs:           make([]string, 0, len(resp.Messages)),
		NextPageToken: resp.NextPageToken,
	}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}
	return page, nil
}

// MailboxSize reports the mailbox's total message count
func (a *Adapter) MailboxSize(ctx context.Context) (int, error) {
	profile, err := a.svc.Users.GetProfile(a.user).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get profile: %w", mapError(err))
	}
	return int(profile.MessagesTotal), nil
}

// GetDetail fetches the attributes enrichment needs for one message
func (a *Adapter) GetDetail(ctx context.Context, id string) (*sync.ItemDetail, error) {
	m, err := a.svc.Users.Messages.Get(a.user, id).
		Fields(googleapi.Field(detailFields)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, mapError(err))
	}
	return toDetail(m), nil
}

func toDetail(m *gmail.Message) *sync.ItemDetail {
	d := &sync.ItemDetail{
		ID:           m.Id,
		InternalDate: m.InternalDate,
		SizeEstimate: m.SizeEstimate,
	}
	if m.Payload == nil {
		return d
	}

	d.Headers = make([]sync.Header, 0, len(m.Payload.Headers))
	for _, h := range m.Payload.Headers {
		d.Headers = append(d.Headers, sync.Header{Name: h.Name, Value: h.Value})
	}
	d.Parts = len(m.Payload.Parts)
	return d
}

// mapError turns rejected credentials into auth.ErrUnauthorized
func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", auth.ErrUnauthorized, err)
		}
	}
	return err
}
