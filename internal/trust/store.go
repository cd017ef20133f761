// Package trust maintains a line-oriented known-hosts file recording the SSH
// host keys of provisioned guests, keyed by friendly hostname rather than by
// the ephemeral DHCP address.
package trust

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	dirMode  = 0o700
	fileMode = 0o600
)

// Store is a known-hosts file at a fixed path. The file format is the
// OpenSSH one: one key per line, "<host> <key-type> <key-material>", with
// "#" comments and blank lines ignored on read.
//
// Store assumes a single writer; the remove-then-append sequence used by
// Replace is not atomic.
type Store struct {
	path string
}

// NewStore returns a Store for the file at path. The file is not touched
// until Ensure or a mutating call.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the underlying file.
func (s *Store) Path() string {
	return s.path
}

// Ensure creates the containing directory (0700) and the store file (0600)
// if missing, and enforces those modes when they already exist.
func (s *Store) Ensure() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create trust dir %q: %w", dir, err)
	}
	if err := os.Chmod(dir, dirMode); err != nil {
		return fmt.Errorf("chmod trust dir %q: %w", dir, err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDONLY, fileMode)
	if err != nil {
		return fmt.Errorf("create trust store %q: %w", s.path, err)
	}
	f.Close()
	if err := os.Chmod(s.path, fileMode); err != nil {
		return fmt.Errorf("chmod trust store %q: %w", s.path, err)
	}
	return nil
}

// Remove deletes every entry whose host token matches hostname exactly and
// reports how many lines were dropped. Comment lines, blank lines, and
// entries for other hosts are preserved byte for byte. Removing a hostname
// with no entries is a no-op.
func (s *Store) Remove(hostname string) (int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read trust store %q: %w", s.path, err)
	}

	lines := strings.Split(string(data), "\n")
	kept := make([]string, 0, len(lines))
	removed := 0
	for i, line := range lines {
		// Preserve the trailing "" produced by a final newline.
		if i == len(lines)-1 && line == "" {
			kept = append(kept, line)
			continue
		}
		if entryMatches(line, hostname) {
			removed++
			continue
		}
		kept = append(kept, line)
	}

	if removed == 0 {
		return 0, nil
	}
	if err := os.WriteFile(s.path, []byte(strings.Join(kept, "\n")), fileMode); err != nil {
		return 0, fmt.Errorf("rewrite trust store %q: %w", s.path, err)
	}
	return removed, nil
}

// Append writes one entry per key, with hostname as the host token, and
// reports how many lines were added. It never writes blank or comment lines.
func (s *Store) Append(hostname string, keys []ssh.PublicKey) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(knownhosts.Line([]string{hostname}, key))
		b.WriteByte('\n')
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fileMode)
	if err != nil {
		return 0, fmt.Errorf("open trust store %q: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return 0, fmt.Errorf("append to trust store %q: %w", s.path, err)
	}
	return len(keys), nil
}

// Replace removes any existing entries for hostname and appends the given
// keys, leaving exactly one live set of entries for the hostname.
func (s *Store) Replace(hostname string, keys []ssh.PublicKey) (int, error) {
	if err := s.Ensure(); err != nil {
		return 0, err
	}
	if _, err := s.Remove(hostname); err != nil {
		return 0, err
	}
	return s.Append(hostname, keys)
}

// entryMatches reports whether a known-hosts line references hostname. The
// host field may be a comma-separated list; each element is compared by
// exact string match. Comments and blank lines never match.
func entryMatches(line, hostname string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return false
	}
	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return false
	}
	for _, host := range strings.Split(fields[0], ",") {
		if host == hostname {
			return true
		}
	}
	return false
}
