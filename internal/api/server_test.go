package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/models"
	"github.com/Martian-dev/mailsync/internal/store"
	"github.com/Martian-dev/mailsync/internal/sync"
	"github.com/Martian-dev/mailsync/internal/testutil"
)

const baseMillis = 1_700_000_000_000

func init() {
	gin.SetMode(gin.TestMode)
}

type staticVerifier struct{}

func (staticVerifier) OperatorFromRequest(r *http.Request) (*auth.Operator, error) {
	if r.Header.Get("Authorization") != "Bearer good" {
		return nil, auth.ErrUnauthorized
	}
	return &auth.Operator{ID: "op-1"}, nil
}

// gatedSyncer blocks until released
type gatedSyncer struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedSyncer) RunOnce(ctx context.Context) (*models.SyncRun, error) {
	close(g.started)
	select {
	case <-g.release:
		return &models.SyncRun{ID: "run-1", Status: models.RunSucceeded}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func seededStore(t *testing.T, n int) *store.Store {
	t.Helper()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	b, err := s.BeginBatch(ctx)
	require.NoError(t, err)
	for _, e := range testutil.Emails(n, baseMillis) {
		require.NoError(t, b.UpsertEmail(ctx, e))
	}
	require.NoError(t, b.Commit())
	return s
}

func do(t *testing.T, r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv := &Server{Store: testutil.NewTestStore(t), Manager: sync.NewManager(context.Background()), Verifier: staticVerifier{}}

	w := do(t, srv.Router(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWatermark(t *testing.T) {
	empty := &Server{Store: testutil.NewTestStore(t), Manager: sync.NewManager(context.Background())}
	w := do(t, empty.Router(), http.MethodGet, "/watermark", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"watermark":null,"count":0}`, w.Body.String())

	seeded := &Server{Store: seededStore(t, 3), Manager: sync.NewManager(context.Background())}
	w = do(t, seeded.Router(), http.MethodGet, "/watermark", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Watermark int64 `json:"watermark"`
		Count     int   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(baseMillis+3000), body.Watermark)
	assert.Equal(t, 3, body.Count)
}

func TestEmails(t *testing.T) {
	srv := &Server{Store: seededStore(t, 5), Manager: sync.NewManager(context.Background())}
	r := srv.Router()

	w := do(t, r, http.MethodGet, "/emails?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var emails []models.Email
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &emails))
	require.Len(t, emails, 2)
	assert.Equal(t, "msg-0005", emails[0].MessageID, "newest first")

	w = do(t, r, http.MethodGet, "/emails?domain=nowhere.test", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(t, r, http.MethodGet, "/emails?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/emails/msg-0003", "")
	require.Equal(t, http.StatusOK, w.Code)
	var one models.Email
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, "Subject 3", one.Subject)

	w = do(t, r, http.MethodGet, "/emails/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuns(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.StartRun(ctx, &models.SyncRun{
			ID:        fmt.Sprintf("run-%d", i),
			Provider:  "google",
			User:      "me",
			Status:    models.RunRunning,
			StartedAt: time.UnixMilli(baseMillis + int64(i)*1000),
		}))
	}

	srv := &Server{Store: s, Manager: sync.NewManager(ctx)}
	w := do(t, srv.Router(), http.MethodGet, "/runs?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var runs []models.SyncRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)
}

func TestTriggerSync(t *testing.T) {
	m := sync.NewManager(context.Background())
	syncer := &gatedSyncer{started: make(chan struct{}), release: make(chan struct{})}
	srv := &Server{
		Store:    testutil.NewTestStore(t),
		Manager:  m,
		Syncer:   syncer,
		Mailbox:  sync.MailboxKey(sync.ProviderGoogle, "me"),
		Verifier: staticVerifier{},
	}
	r := srv.Router()

	w := do(t, r, http.MethodPost, "/sync", "bad")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodPost, "/sync", "good")
	require.Equal(t, http.StatusAccepted, w.Code)
	<-syncer.started

	w = do(t, r, http.MethodPost, "/sync", "good")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodGet, "/sync", "good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running":true`)

	close(syncer.release)
	m.Wait()

	w = do(t, r, http.MethodGet, "/sync", "good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running":false`)
	assert.Contains(t, w.Body.String(), `"run-1"`)
}

func TestCancelSync(t *testing.T) {
	m := sync.NewManager(context.Background())
	syncer := &gatedSyncer{started: make(chan struct{}), release: make(chan struct{})}
	srv := &Server{
		Store:   testutil.NewTestStore(t),
		Manager: m,
		Syncer:  syncer,
		Mailbox: sync.MailboxKey(sync.ProviderGoogle, "me"),
	}
	r := srv.Router()

	w := do(t, r, http.MethodDelete, "/sync", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "nothing to cancel")

	w = do(t, r, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	<-syncer.started

	w = do(t, r, http.MethodDelete, "/sync", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	m.Wait()
	assert.False(t, m.IsRunning(srv.Mailbox))
	_, ok := m.LastRun(srv.Mailbox)
	assert.False(t, ok, "cancelled pass returned no run")
}

type brokenStore struct{ Store }

func (brokenStore) MaxDateReceived(context.Context) (int64, bool, error) {
	return 0, false, errors.New("disk on fire")
}

func TestWatermark_StoreError(t *testing.T) {
	srv := &Server{Store: brokenStore{}, Manager: sync.NewManager(context.Background())}

	w := do(t, srv.Router(), http.MethodGet, "/watermark", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}
