package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	// ErrNoCredentials means no token has been provisioned
	ErrNoCredentials = errors.New("no credentials available")
	// ErrInteractiveAuthRequired means the token can only be renewed by a user
	ErrInteractiveAuthRequired = errors.New("interactive authorization required")
	// ErrUnauthorized means the remote API rejected the credentials
	ErrUnauthorized = errors.New("unauthorized")
)

// CredentialState is where a cached credential is in its life cycle
type CredentialState int

const (
	CredentialAbsent CredentialState = iota
	CredentialValid
	CredentialExpiredRefreshable
	CredentialRequiresInteractiveAuth
)

func (s CredentialState) String() string {
	switch s {
	case CredentialAbsent:
		return "absent"
	case CredentialValid:
		return "valid"
	case CredentialExpiredRefreshable:
		return "expired-refreshable"
	case CredentialRequiresInteractiveAuth:
		return "requires-interactive-auth"
	default:
		return fmt.Sprintf("CredentialState(%d)", int(s))
	}
}

// CredentialSource yields access tokens following the cached life cycle:
// load, validate, refresh if expired, persist.
type CredentialSource interface {
	State(ctx context.Context) (CredentialState, error)
	Token(ctx context.Context) (*Token, error)
}

func classify(tok *oauth2.Token, canRefresh bool) CredentialState {
	switch {
	case tok == nil || tok.AccessToken == "" && tok.RefreshToken == "":
		return CredentialAbsent
	case tok.AccessToken != "" && tok.Valid():
		return CredentialValid
	case tok.RefreshToken != "" && canRefresh:
		return CredentialExpiredRefreshable
	default:
		return CredentialRequiresInteractiveAuth
	}
}

// FileCredentialSource caches an OAuth token in a JSON file. With a Config
// expired tokens are refreshed and written back.
type FileCredentialSource struct {
	Path   string
	Config *oauth2.Config
}

// NewFileCredentialSource loads the Google client secrets next to the token
// file when present, which enables refresh.
func NewFileCredentialSource(path, clientSecrets string, scopes ...string) (*FileCredentialSource, error) {
	src := &FileCredentialSource{Path: path}
	if clientSecrets == "" {
		return src, nil
	}

	b, err := os.ReadFile(clientSecrets)
	if os.IsNotExist(err) {
		log.Warnf("client secrets %s not found, tokens will not be refreshed", clientSecrets)
		return src, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	src.Config = cfg
	return src, nil
}

func (s *FileCredentialSource) load() (*oauth2.Token, error) {
	f, err := os.Open(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return tok, nil
}

func (s *FileCredentialSource) save(tok *oauth2.Token) error {
	f, err := os.OpenFile(s.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to save oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// State reports the life-cycle state of the cached token
func (s *FileCredentialSource) State(ctx context.Context) (CredentialState, error) {
	tok, err := s.load()
	if err != nil {
		return CredentialAbsent, err
	}
	return classify(tok, s.Config != nil), nil
}

// Token returns a valid token, refreshing and persisting it when needed
func (s *FileCredentialSource) Token(ctx context.Context) (*Token, error) {
	tok, err := s.load()
	if err != nil {
		return nil, err
	}

	switch classify(tok, s.Config != nil) {
	case CredentialAbsent:
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, s.Path)
	case CredentialValid:
		return fromOAuth2(tok), nil
	case CredentialExpiredRefreshable:
		fresh, err := s.Config.TokenSource(ctx, tok).Token()
		if err != nil {
			var rerr *oauth2.RetrieveError
			if errors.As(err, &rerr) {
				return nil, fmt.Errorf("%w: refresh rejected: %v", ErrInteractiveAuthRequired, err)
			}
			return nil, fmt.Errorf("refresh token: %w", err)
		}
		if err := s.save(fresh); err != nil {
			return nil, err
		}
		log.Infof("refreshed token saved to %s", s.Path)
		return fromOAuth2(fresh), nil
	default:
		return nil, fmt.Errorf("%w: token in %s expired", ErrInteractiveAuthRequired, s.Path)
	}
}

// EnvCredentialSource reads a token JSON from an environment variable. It
// cannot refresh or persist.
type EnvCredentialSource struct {
	Var string
}

func (s *EnvCredentialSource) load() (*oauth2.Token, error) {
	raw := os.Getenv(s.Var)
	if raw == "" {
		return nil, nil
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal([]byte(raw), tok); err != nil {
		return nil, fmt.Errorf("decode token from %s: %w", s.Var, err)
	}
	return tok, nil
}

// State reports the life-cycle state of the token in the variable
func (s *EnvCredentialSource) State(ctx context.Context) (CredentialState, error) {
	tok, err := s.load()
	if err != nil {
		return CredentialAbsent, err
	}
	return classify(tok, false), nil
}

// Token returns the token if it is still valid
func (s *EnvCredentialSource) Token(ctx context.Context) (*Token, error) {
	tok, err := s.load()
	if err != nil {
		return nil, err
	}
	switch classify(tok, false) {
	case CredentialAbsent:
		return nil, fmt.Errorf("%w: $%s is empty", ErrNoCredentials, s.Var)
	case CredentialValid:
		return fromOAuth2(tok), nil
	default:
		return nil, fmt.Errorf("%w: token in $%s expired", ErrInteractiveAuthRequired, s.Var)
	}
}

// SourceOptions selects and configures a CredentialSource
type SourceOptions struct {
	// Ref is a token file path, "file:<path>", "env:<VAR>" or "betterauth:"
	Ref           string
	ClientSecrets string
	Scopes        []string
	AuthServerURL string
	UserJWT       string
	Provider      Provider
}

// NewSource builds the CredentialSource a reference points at
func NewSource(opts SourceOptions) (CredentialSource, error) {
	switch {
	case strings.HasPrefix(opts.Ref, "env:"):
		name := strings.TrimPrefix(opts.Ref, "env:")
		if name == "" {
			return nil, fmt.Errorf("credential source %q names no variable", opts.Ref)
		}
		return &EnvCredentialSource{Var: name}, nil
	case strings.HasPrefix(opts.Ref, "betterauth:"):
		if opts.AuthServerURL == "" || opts.UserJWT == "" {
			return nil, fmt.Errorf("betterauth credential source needs an auth server URL and a user JWT")
		}
		return &BetterAuthSource{
			Client:   NewBetterAuthClient(opts.AuthServerURL),
			UserJWT:  opts.UserJWT,
			Provider: opts.Provider,
		}, nil
	default:
		path := strings.TrimPrefix(opts.Ref, "file:")
		if path == "" {
			return nil, fmt.Errorf("empty credential source")
		}
		secrets := opts.ClientSecrets
		if opts.Provider != ProviderGoogle {
			secrets = ""
		}
		return NewFileCredentialSource(path, secrets, opts.Scopes...)
	}
}

// TokenSource adapts a CredentialSource to oauth2, consulting it again only
// once the current token expires.
func TokenSource(ctx context.Context, src CredentialSource) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &credentialTokenSource{ctx: ctx, src: src})
}

type credentialTokenSource struct {
	ctx context.Context
	src CredentialSource
}

func (c *credentialTokenSource) Token() (*oauth2.Token, error) {
	tok, err := c.src.Token(c.ctx)
	if err != nil {
		return nil, err
	}
	return tok.OAuth2(), nil
}

// Check validates the source up front so that authentication problems abort
// a pass before any remote call.
func Check(ctx context.Context, src CredentialSource) error {
	state, err := src.State(ctx)
	if err != nil {
		return err
	}
	log.WithField("state", state.String()).Debug("credential state")

	switch state {
	case CredentialAbsent:
		return ErrNoCredentials
	case CredentialRequiresInteractiveAuth:
		return ErrInteractiveAuthRequired
	}
	_, err = src.Token(ctx)
	return err
}

func fromOAuth2(tok *oauth2.Token) *Token {
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}

// OAuth2 converts the token for use with oauth2 clients
func (t *Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       t.Expiry,
	}
}

// Expired reports whether the token's expiry has passed
func (t *Token) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}
