package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/Martian-dev/mailsync/internal/models"
	"github.com/Martian-dev/mailsync/internal/store"
)

// NewTestStore opens a fresh SQLite store in a temporary directory.
// The store is closed when the test finishes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "emails.db")
	s, err := store.Open(context.Background(), store.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close test store: %v", err)
		}
	})

	return s
}

// Emails builds n records with ids msg-0001.. and ascending timestamps,
// one second apart starting at base (epoch milliseconds).
func Emails(n int, base int64) []models.Email {
	emails := make([]models.Email, 0, n)
	for i := 1; i <= n; i++ {
		emails = append(emails, models.Email{
			MessageID:    fmt.Sprintf("msg-%04d", i),
			DateReceived: base + int64(i)*1000,
			FromEmail:    fmt.Sprintf("sender%d@example.com", i%7),
			DomainOrigin: "example.com",
			SizeOfEmail:  int64(1000 + i),
			Subject:      fmt.Sprintf("Subject %d", i),
		})
	}
	return emails
}
