package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/Martian-dev/mailsync/internal/amqp"
	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/config"
	natsjs "github.com/Martian-dev/mailsync/internal/nats"
	"github.com/Martian-dev/mailsync/internal/providers/gmail"
	"github.com/Martian-dev/mailsync/internal/providers/outlook"
	"github.com/Martian-dev/mailsync/internal/store"
	"github.com/Martian-dev/mailsync/internal/sync"
)

// Mailbox holds the wired components for syncing one mailbox
type Mailbox struct {
	Store  *store.Store
	Runner *sync.Runner
	Key    string

	closers []func()
}

// Open wires store, credentials, provider and notifier from cfg. Credential
// problems are reported before any remote call is made.
func Open(ctx context.Context, cfg *config.Config) (*Mailbox, error) {
	name := sync.ProviderName(cfg.Provider)

	src, err := auth.NewSource(auth.SourceOptions{
		Ref:           cfg.Auth.CredentialSource,
		ClientSecrets: cfg.Auth.ClientSecrets,
		Scopes:        Scopes(name),
		AuthServerURL: cfg.Auth.AuthServerURL,
		UserJWT:       cfg.Auth.UserJWT,
		Provider:      auth.Provider(cfg.Provider),
	})
	if err != nil {
		return nil, err
	}
	if err := auth.Check(ctx, src); err != nil {
		return nil, fmt.Errorf("credentials for %s: %w", name, err)
	}

	provider, err := NewProvider(ctx, name, auth.TokenSource(ctx, src), cfg.User)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	mb := &Mailbox{
		Store:   st,
		Key:     sync.MailboxKey(name, cfg.User),
		closers: []func(){func() { st.Close() }},
	}

	pub, closePub, err := NewPublisher(ctx, cfg.Notify)
	if err != nil {
		mb.Close()
		return nil, err
	}
	if closePub != nil {
		mb.closers = append(mb.closers, closePub)
	}

	mb.Runner = &sync.Runner{
		Store:        st,
		Provider:     provider,
		ProviderName: name,
		User:         cfg.User,
		Options: sync.Options{
			BatchSize:       cfg.Sync.BatchSize,
			PageSize:        cfg.Sync.PageSize,
			PaginationPause: cfg.Sync.PaginationPause(),
		},
		Publisher: pub,
	}
	return mb, nil
}

// Close releases everything Open acquired, in reverse order
func (m *Mailbox) Close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		m.closers[i]()
	}
	m.closers = nil
}

// Scopes returns the read-only scopes requested for a provider
func Scopes(name sync.ProviderName) []string {
	if name == sync.ProviderMicrosoft {
		return outlook.Scopes
	}
	return gmail.Scopes
}

// NewProvider builds the remote mail source for name
func NewProvider(ctx context.Context, name sync.ProviderName, ts oauth2.TokenSource, user string) (sync.Provider, error) {
	switch name {
	case sync.ProviderGoogle:
		return gmail.New(ctx, ts, user)
	case sync.ProviderMicrosoft:
		return outlook.New(ts, user)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// NewPublisher connects the configured notifier. Both return values are nil
// when notifications are disabled.
func NewPublisher(ctx context.Context, cfg config.NotifyConfig) (sync.Publisher, func(), error) {
	switch {
	case cfg.NATSURL != "":
		pub, err := natsjs.NewPublisher(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pub.EnsureStream(ctx); err != nil {
			pub.Close()
			return nil, nil, err
		}
		log.WithField("stream", natsjs.StreamName).Info("publishing batch events to NATS")
		return pub, pub.Close, nil

	case cfg.AMQPURL != "":
		pub, err := amqp.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("exchange", cfg.AMQPExchange).Info("publishing batch events to AMQP")
		return pub, func() {
			if err := pub.Close(); err != nil {
				log.Warnf("close AMQP publisher: %v", err)
			}
		}, nil

	default:
		return nil, nil, nil
	}
}
