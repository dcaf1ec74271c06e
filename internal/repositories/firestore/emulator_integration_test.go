//go:build integration

package firestore

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	pconfig "github.com/printhaus/api/internal/platform/config"
	pfirestore "github.com/printhaus/api/internal/platform/firestore"
)

// newEmulatorProvider connects to the emulator named by FIRESTORE_EMULATOR_HOST, for example
// one started with `gcloud emulators firestore start --host-port=127.0.0.1:8080`.
// Each test gets its own project id so collections never collide.
func newEmulatorProvider(t *testing.T, prefix string) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	conn, err := net.DialTimeout("tcp", host, 2*time.Second)
	if err != nil {
		t.Skipf("firestore emulator unreachable at %s: %v", host, err)
	}
	_ = conn.Close()

	projectID := prefix + "-" + uuid.NewString()[:8]
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}
