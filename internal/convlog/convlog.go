// Package convlog stores per-device, per-user conversation transcripts.
//
// Files live at <root>/<deviceID>/<user>.txt where <user> is the user
// address without its @c.us suffix. Each line is
//
//	[dd/mm/yyyy, hh:mm:ss] Role: text
//
// with newlines in text folded to spaces.
package convlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/whatsapp-automation/botdesk/internal/whatsapp"
)

// Conventional roles.
const (
	RoleClient = "Cliente"
	RoleBot    = "Bot"
)

var (
	ErrInvalidUser   = errors.New("invalid user id")
	ErrInvalidDevice = errors.New("invalid device id")
	ErrNotFound      = errors.New("conversation log not found")
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

const timestampLayout = "02/01/2006, 15:04:05"

// Writer appends to and reads conversation logs under a root directory.
type Writer struct {
	root string
	loc  *time.Location
	now  func() time.Time
	mu   sync.Mutex
}

// New returns a Writer rooted at dir that timestamps lines in loc.
func New(dir string, loc *time.Location) *Writer {
	if loc == nil {
		loc = time.UTC
	}
	return &Writer{root: dir, loc: loc, now: time.Now}
}

// Path resolves the transcript file for a device and user address after
// validating both.
func (w *Writer) Path(deviceID, userID string) (string, error) {
	if !idPattern.MatchString(deviceID) {
		return "", ErrInvalidDevice
	}
	if !strings.HasSuffix(userID, whatsapp.UserSuffix) {
		return "", ErrInvalidUser
	}
	stem := strings.TrimSuffix(userID, whatsapp.UserSuffix)
	if !idPattern.MatchString(stem) {
		return "", ErrInvalidUser
	}
	return filepath.Join(w.root, deviceID, stem+".txt"), nil
}

// Append writes one line for userID under deviceID.
func (w *Writer) Append(deviceID, userID, role, text string) error {
	path, err := w.Path(deviceID, userID)
	if err != nil {
		return err
	}

	line := fmt.Sprintf("[%s] %s: %s\n", w.now().In(w.loc).Format(timestampLayout), role, singleLine(text))

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open conversation log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to write conversation log: %w", err)
	}
	return nil
}

// Read returns the whole transcript. Identifiers are validated before any
// filesystem access.
func (w *Writer) Read(deviceID, userID string) (string, error) {
	path, err := w.Path(deviceID, userID)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read conversation log: %w", err)
	}
	return string(data), nil
}

func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
