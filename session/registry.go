// Package session maps session identifiers to their directory and archive
// paths under a single data directory.
package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"whatsapp-pair-server/types"
)

const (
	suffixDigits  = 8
	maxRolls      = 16
	archiveSuffix = ".zip"
)

var (
	validID    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	suffixSpan = big.NewInt(100_000_000)
)

// Registry allocates session identifiers and tracks the sessions known to
// this process
type Registry struct {
	dataDir  string
	sessions map[string]*types.Session
	mutex    sync.Mutex

	// randSuffix returns the random part of a new session id
	randSuffix func() (string, error)
}

// NewRegistry creates a registry rooted at dataDir, creating it if needed
func NewRegistry(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("registry: create data dir: %w: %w", types.ErrAllocation, err)
	}
	return &Registry{
		dataDir:    dataDir,
		sessions:   make(map[string]*types.Session),
		randSuffix: randomSuffix,
	}, nil
}

// DataDir returns the directory holding session directories and archives
func (r *Registry) DataDir() string {
	return r.dataDir
}

// NormalizePhone strips everything but digits from a phone number
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	digits := b.String()
	if len(digits) < 6 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidPhone, phone)
	}
	return digits, nil
}

// ValidID reports whether id can safely name a session directory
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Allocate creates a new session for phone with a fresh identifier and an
// empty backing directory
func (r *Registry) Allocate(phone string) (types.Session, error) {
	digits, err := NormalizePhone(phone)
	if err != nil {
		return types.Session{}, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i := 0; i < maxRolls; i++ {
		suffix, err := r.randSuffix()
		if err != nil {
			return types.Session{}, fmt.Errorf("registry: %w: %w", types.ErrAllocation, err)
		}
		id := digits + "-" + suffix
		if r.taken(id) {
			continue
		}
		sess := r.newSession(id, digits)
		if err := os.Mkdir(sess.Dir, 0o700); err != nil {
			if os.IsExist(err) {
				continue
			}
			return types.Session{}, fmt.Errorf("registry: create %s: %w: %w", sess.Dir, types.ErrAllocation, err)
		}
		r.sessions[id] = sess
		return *sess, nil
	}
	return types.Session{}, fmt.Errorf("registry: no free id for %s after %d rolls: %w", digits, maxRolls, types.ErrAllocation)
}

// Ensure registers a session with a fixed identifier, creating its directory
// if absent. Calling it again for the same id returns the existing record.
func (r *Registry) Ensure(id, phone string) (types.Session, error) {
	if !ValidID(id) {
		return types.Session{}, fmt.Errorf("%w: %q", types.ErrInvalidID, id)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if sess, ok := r.sessions[id]; ok {
		return *sess, nil
	}
	sess := r.newSession(id, phone)
	if err := os.MkdirAll(sess.Dir, 0o700); err != nil {
		return types.Session{}, fmt.Errorf("registry: create %s: %w: %w", sess.Dir, types.ErrAllocation, err)
	}
	r.sessions[id] = sess
	return *sess, nil
}

// Resolve looks up the paths of a session. Sessions not allocated by this
// process are found by the existence of their directory or archive.
func (r *Registry) Resolve(id string) (types.Session, error) {
	if !ValidID(id) {
		return types.Session{}, fmt.Errorf("%w: %q", types.ErrNotFound, id)
	}

	r.mutex.Lock()
	sess, ok := r.sessions[id]
	r.mutex.Unlock()
	if ok {
		return *sess, nil
	}

	candidate := r.newSession(id, "")
	if exists(candidate.Dir) || exists(candidate.ArchivePath) {
		return *candidate, nil
	}
	return types.Session{}, fmt.Errorf("%w: %s", types.ErrNotFound, id)
}

// Release forgets the in-memory record of a session. Its directory and
// archive stay on disk.
func (r *Registry) Release(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.sessions, id)
}

// Discover lists the ids of every session directory under the data directory
func (r *Registry) Discover() ([]string, error) {
	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w: %w", r.dataDir, types.ErrIO, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && ValidID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Registry) taken(id string) bool {
	if _, ok := r.sessions[id]; ok {
		return true
	}
	return exists(filepath.Join(r.dataDir, id))
}

func (r *Registry) newSession(id, phone string) *types.Session {
	return &types.Session{
		ID:          id,
		Dir:         filepath.Join(r.dataDir, id),
		ArchivePath: filepath.Join(r.dataDir, id+archiveSuffix),
		Phone:       phone,
		State:       types.StateDisconnected,
		CreatedAt:   time.Now(),
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func randomSuffix() (string, error) {
	n, err := rand.Int(rand.Reader, suffixSpan)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", suffixDigits, n.Int64()), nil
}

// DownloadPath is the URL path serving a session's archive
func DownloadPath(id string) string {
	return "/session/" + id + archiveSuffix
}
