package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	"golang.org/x/oauth2"

	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/sync"
)

// Scopes requested for the Graph token
var Scopes = []string{"Mail.Read"}

// messageSizeProperty is the MAPI PR_MESSAGE_SIZE property, the closest
// Graph has to a size estimate. Graph echoes the id back in short form
// ("Long 0xe08"), so ids are matched by tag number.
const (
	messageSizeProperty = "Long 0x0E08"
	messageSizeTag      = 0x0E08
)

var (
	listSelect   = []string{"id"}
	detailSelect = []string{"id", "internetMessageHeaders", "from", "subject", "hasAttachments", "receivedDateTime"}
	detailExpand = []string{fmt.Sprintf("singleValueExtendedProperties($filter=id eq '%s')", messageSizeProperty)}
)

// Adapter implements sync.Provider for Outlook/Microsoft Graph
type Adapter struct {
	client *msgraphsdk.GraphServiceClient
	user   string
}

// New creates a new Outlook adapter
func New(ts oauth2.TokenSource, user string) (*Adapter, error) {
	cred := &tokenSourceCredential{ts: ts}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}

	if user == "" {
		user = "me"
	}
	return &Adapter{client: client, user: user}, nil
}

func (a *Adapter) messages() *users.ItemMessagesRequestBuilder {
	if a.user == "me" {
		return a.client.Me().Messages()
	}
	return a.client.Users().ByUserId(a.user).Messages()
}

// ListPage lists one page of message ids, newest first. The page token is
// the @odata.nextLink of the previous page.
func (a *Adapter) ListPage(ctx context.Context, q sync.ListQuery) (*sync.ListPage, error) {
	messages := a.messages()

	var (
		result models.MessageCollectionResponseable
		err    error
	)
	if q.PageToken != "" {
		result, err = messages.WithUrl(q.PageToken).Get(ctx, nil)
	} else {
		params := &users.ItemMessagesRequestBuilderGetQueryParameters{
			Orderby: []string{"receivedDateTime desc"},
			Select:  listSelect,
		}
		if q.PageSize > 0 {
			params.Top = Int32Ptr(int32(q.PageSize))
		}
		if q.After != nil {
			filter := receivedAfterFilter(*q.After)
			params.Filter = &filter
		}
		result, err = messages.Get(ctx, &users.ItemMessagesRequestBuilderGetRequestConfiguration{
			QueryParameters: params,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", mapError(err))
	}

	page := &sync.ListPage{IDs: make([]string, 0, len(result.GetValue()))}
	for _, msg := range result.GetValue() {
		if id := msg.GetId(); id != nil {
			page.IDs = append(page.IDs, *id)
		}
	}
	if next := result.GetOdataNextLink(); next != nil {
		page.NextPageToken = *next
	}
	return page, nil
}

// MailboxSize reports the total message count
func (a *Adapter) MailboxSize(ctx context.Context) (int, error) {
	n, err := a.messages().Count().Get(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", mapError(err))
	}
	if n == nil {
		return 0, nil
	}
	return int(*n), nil
}

// GetDetail fetches the attributes enrichment needs for one message
func (a *Adapter) GetDetail(ctx context.Context, id string) (*sync.ItemDetail, error) {
	msg, err := a.messages().ByMessageId(id).Get(ctx, &users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesMessageItemRequestBuilderGetQueryParameters{
			Select: detailSelect,
			Expand: detailExpand,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, mapError(err))
	}
	return toDetail(msg), nil
}

// receivedAfterFilter converts an epoch-seconds watermark to an OData filter
func receivedAfterFilter(after int64) string {
	return "receivedDateTime ge " + time.Unix(after, 0).UTC().Format(time.RFC3339)
}

// toDetail converts a Graph message. Graph only reports whether attachments
// exist, so a message with attachments counts as one part.
func toDetail(m models.Messageable) *sync.ItemDetail {
	d := &sync.ItemDetail{}

	if id := m.GetId(); id != nil {
		d.ID = *id
	}
	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		d.InternalDate = rcvd.UnixMilli()
	}

	var hasFrom, hasSubject bool
	for _, h := range m.GetInternetMessageHeaders() {
		name, value := h.GetName(), h.GetValue()
		if name == nil || value == nil {
			continue
		}
		d.Headers = append(d.Headers, sync.Header{Name: *name, Value: *value})
		switch {
		case strings.EqualFold(*name, "From"):
			hasFrom = true
		case strings.EqualFold(*name, "Subject"):
			hasSubject = true
		}
	}

	// Messages that never crossed a transport (drafts, local items) carry no
	// internet headers.
	if !hasFrom {
		if from := formatRecipient(m.GetFrom()); from != "" {
			d.Headers = append(d.Headers, sync.Header{Name: "From", Value: from})
		}
	}
	if !hasSubject {
		if subject := m.GetSubject(); subject != nil {
			d.Headers = append(d.Headers, sync.Header{Name: "Subject", Value: *subject})
		}
	}

	if has := m.GetHasAttachments(); has != nil && *has {
		d.Parts = 1
	}

	for _, prop := range m.GetSingleValueExtendedProperties() {
		id, value := prop.GetId(), prop.GetValue()
		if id == nil || value == nil || !isMessageSizeProperty(*id) {
			continue
		}
		if size, err := strconv.ParseInt(*value, 10, 64); err == nil {
			d.SizeEstimate = size
		}
	}
	return d
}

// isMessageSizeProperty reports whether a "Long 0x..." extended property id
// names PR_MESSAGE_SIZE, whatever the hex spelling.
func isMessageSizeProperty(id string) bool {
	typ, tag, ok := strings.Cut(strings.TrimSpace(id), " ")
	if !ok || !strings.EqualFold(typ, "Long") {
		return false
	}
	tag = strings.TrimSpace(tag)
	if len(tag) < 3 || !strings.EqualFold(tag[:2], "0x") {
		return false
	}
	n, err := strconv.ParseUint(tag[2:], 16, 32)
	return err == nil && n == messageSizeTag
}

// formatRecipient renders a recipient the way a From header would
func formatRecipient(r models.Recipientable) string {
	if r == nil || r.GetEmailAddress() == nil {
		return ""
	}
	addr := r.GetEmailAddress().GetAddress()
	if addr == nil || *addr == "" {
		return ""
	}
	if name := r.GetEmailAddress().GetName(); name != nil && *name != "" {
		return fmt.Sprintf("%s <%s>", *name, *addr)
	}
	return *addr
}

// mapError turns rejected credentials into auth.ErrUnauthorized
func mapError(err error) error {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		switch odataErr.ResponseStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", auth.ErrUnauthorized, err)
		}
	}
	return err
}

// tokenSourceCredential implements Azure credential interface on top of an
// oauth2 token source.
type tokenSourceCredential struct {
	ts oauth2.TokenSource
}

func (c *tokenSourceCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := c.ts.Token()
	if err != nil {
		return azcore.AccessToken{}, err
	}

	expires := tok.Expiry
	if expires.IsZero() {
		expires = time.Now().Add(1 * time.Hour)
	}
	return azcore.AccessToken{
		Token:     tok.AccessToken,
		ExpiresOn: expires,
	}, nil
}

// Int32Ptr returns a pointer to an int32
func Int32Ptr(i int32) *int32 {
	return &i
}
