package maildir

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mademast/sail/internal/envelope"
)

// Maildir writes messages under the classic tmp/new/cur layout: write
// to tmp under a unique name, then rename into new so a concurrent
// reader never observes a partially-written file.
type Maildir struct {
	root string
}

// New returns a Maildir rooted at dir.
func New(dir string) Maildir {
	return Maildir{root: dir}
}

// CreateDirectories ensures root, root/tmp, root/new, and root/cur all
// exist.
func (m Maildir) CreateDirectories() error {
	for _, sub := range []string{"tmp", "new", "cur"} {
		if err := os.MkdirAll(filepath.Join(m.root, sub), 0o700); err != nil {
			return fmt.Errorf("maildir: create %s: %w", sub, err)
		}
	}
	return nil
}

// Save writes msg under this Maildir via the tmp-then-rename sequence.
func (m Maildir) Save(msg envelope.Message) error {
	name := uniqueName()
	tmpPath := filepath.Join(m.root, "tmp", name)
	newPath := filepath.Join(m.root, "new", name)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("maildir: open %s: %w", tmpPath, err)
	}
	if _, err := f.WriteString(msg.String()); err != nil {
		f.Close()
		return fmt.Errorf("maildir: write %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("maildir: close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, newPath); err != nil {
		return fmt.Errorf("maildir: rename into new: %w", err)
	}
	return nil
}

// uniqueName is not full Maildir-spec delivery naming (no process ID,
// no dovecot-style counters), but collisions are astronomically
// unlikely: unix seconds, 32 bits of randomness, and the hostname.
func uniqueName() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	middle := binary.BigEndian.Uint32(buf[:])

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	hostname = strings.ReplaceAll(hostname, "/", "-")

	return fmt.Sprintf("%d.%08x.%s", time.Now().Unix(), middle, hostname)
}
