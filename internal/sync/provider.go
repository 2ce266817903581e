package sync

import (
	"context"
)

// ProviderName represents email provider types
type ProviderName string

const (
	ProviderGoogle    ProviderName = "google"
	ProviderMicrosoft ProviderName = "microsoft"
)

// Header is one raw message header
type Header struct {
	Name  string
	Value string
}

// ItemDetail is the provider-neutral detail of one remote mail item
type ItemDetail struct {
	ID           string
	InternalDate int64 // epoch milliseconds
	SizeEstimate int64
	Headers      []Header
	// Parts is the number of entries in the payload's parts collection
	Parts int
}

// ListQuery selects one page of a listing
type ListQuery struct {
	// After, when set, restricts the listing to items received after this
	// epoch-seconds value.
	After     *int64
	PageToken string
	PageSize  int
}

// ListPage is one page of item identifiers, newest first
type ListPage struct {
	IDs           []string
	NextPageToken string
}

// ListingSource lists item identifiers page by page
type ListingSource interface {
	ListPage(ctx context.Context, q ListQuery) (*ListPage, error)

	// MailboxSize reports the total number of items in the mailbox. It only
	// feeds progress estimates.
	MailboxSize(ctx context.Context) (int, error)
}

// DetailSource fetches the full attributes of one item
type DetailSource interface {
	GetDetail(ctx context.Context, id string) (*ItemDetail, error)
}

// Provider is a remote mail source usable for incremental sync
type Provider interface {
	ListingSource
	DetailSource
}
