package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/whatsapp-automation/botdesk/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// CredentialStore keeps one sqlite database per device under a directory.
type CredentialStore struct {
	dir string
}

// NewCredentialStore creates dir if needed.
func NewCredentialStore(dir string) (*CredentialStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &CredentialStore{dir: dir}, nil
}

// Path returns the database file for deviceID.
func (s *CredentialStore) Path(deviceID string) string {
	return filepath.Join(s.dir, deviceID+".db")
}

// Open opens (creating if absent) the device database and returns the first
// stored device, or a fresh unpaired one.
func (s *CredentialStore) Open(ctx context.Context, deviceID string) (*sqlstore.Container, *store.Device, error) {
	if !deviceIDPattern.MatchString(deviceID) {
		return nil, nil, fmt.Errorf("invalid device id %q", deviceID)
	}

	dbURI := fmt.Sprintf("file:%s?_foreign_keys=on", s.Path(deviceID))
	container, err := sqlstore.New(ctx, "sqlite3", dbURI, logging.WaLogger("Store-"+deviceID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session database: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, nil, fmt.Errorf("failed to get device: %w", err)
	}
	if device == nil {
		device = container.NewDevice()
	}
	return container, device, nil
}

// Exists reports whether a database file is present for deviceID.
func (s *CredentialStore) Exists(deviceID string) bool {
	_, err := os.Stat(s.Path(deviceID))
	return err == nil
}

// Delete removes the device database and its sqlite side files. A missing
// database is not an error.
func (s *CredentialStore) Delete(deviceID string) error {
	if !deviceIDPattern.MatchString(deviceID) {
		return fmt.Errorf("invalid device id %q", deviceID)
	}

	base := s.Path(deviceID)
	for _, path := range []string{base, base + "-wal", base + "-shm", base + "-journal"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete session file: %w", err)
		}
	}
	return nil
}

// Devices lists the device ids that have a stored database, sorted.
func (s *CredentialStore) Devices() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".db")
		if deviceIDPattern.MatchString(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
