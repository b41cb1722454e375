package session

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-pair-server/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	return reg
}

func TestAllocate_CreatesDirectory(t *testing.T) {
	reg := newTestRegistry(t)

	sess, err := reg.Allocate("+1 (555) 010-9999")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sess.ID, "15550109999-"))
	assert.Len(t, strings.TrimPrefix(sess.ID, "15550109999-"), suffixDigits)
	assert.Equal(t, "15550109999", sess.Phone)
	assert.Equal(t, filepath.Join(reg.DataDir(), sess.ID), sess.Dir)
	assert.Equal(t, filepath.Join(reg.DataDir(), sess.ID+".zip"), sess.ArchivePath)
	assert.Equal(t, types.StateDisconnected, sess.State)
	assert.DirExists(t, sess.Dir)
}

func TestAllocate_ConcurrentIDsAreDistinct(t *testing.T) {
	reg := newTestRegistry(t)

	const n = 64
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := reg.Allocate("447700900123")
			ids[i], errs[i] = sess.ID, err
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := range ids {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "duplicate id %s", ids[i])
		seen[ids[i]] = true
	}
}

func TestAllocate_RerollsOnCollision(t *testing.T) {
	reg := newTestRegistry(t)
	suffixes := []string{"00000001", "00000001", "00000002"}
	reg.randSuffix = func() (string, error) {
		s := suffixes[0]
		suffixes = suffixes[1:]
		return s, nil
	}

	first, err := reg.Allocate("5511999990000")
	require.NoError(t, err)
	second, err := reg.Allocate("5511999990000")
	require.NoError(t, err)

	assert.Equal(t, "5511999990000-00000001", first.ID)
	assert.Equal(t, "5511999990000-00000002", second.ID)
}

func TestAllocate_RerollsOnExistingDirectory(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, os.Mkdir(filepath.Join(reg.DataDir(), "5511999990000-00000001"), 0o700))

	suffixes := []string{"00000001", "00000003"}
	reg.randSuffix = func() (string, error) {
		s := suffixes[0]
		suffixes = suffixes[1:]
		return s, nil
	}

	sess, err := reg.Allocate("5511999990000")
	require.NoError(t, err)
	assert.Equal(t, "5511999990000-00000003", sess.ID)
}

func TestAllocate_GivesUpAfterMaxRolls(t *testing.T) {
	reg := newTestRegistry(t)
	reg.randSuffix = func() (string, error) { return "00000001", nil }

	_, err := reg.Allocate("5511999990000")
	require.NoError(t, err)
	_, err = reg.Allocate("5511999990000")
	assert.ErrorIs(t, err, types.ErrAllocation)
}

func TestAllocate_DirectoryFailure(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, os.RemoveAll(reg.DataDir()))
	// A plain file where the data directory should be makes Mkdir fail.
	require.NoError(t, os.WriteFile(reg.DataDir(), nil, 0o600))

	_, err := reg.Allocate("5511999990000")
	assert.ErrorIs(t, err, types.ErrAllocation)
}

func TestAllocate_InvalidPhone(t *testing.T) {
	reg := newTestRegistry(t)

	for _, phone := range []string{"", "abc", "12345", "1234567890123456"} {
		_, err := reg.Allocate(phone)
		assert.ErrorIs(t, err, types.ErrInvalidPhone, "phone %q", phone)
	}
	entries, err := os.ReadDir(reg.DataDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnsure_Idempotent(t *testing.T) {
	reg := newTestRegistry(t)

	a, err := reg.Ensure("main", "")
	require.NoError(t, err)
	b, err := reg.Ensure("main", "")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.DirExists(t, a.Dir)

	_, err = reg.Ensure("../escape", "")
	assert.ErrorIs(t, err, types.ErrInvalidID)
}

func TestResolve(t *testing.T) {
	reg := newTestRegistry(t)

	sess, err := reg.Allocate("5511999990000")
	require.NoError(t, err)

	got, err := reg.Resolve(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	_, err = reg.Resolve("never-paired")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = reg.Resolve("../../etc/passwd")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestResolve_FromDiskAfterRelease(t *testing.T) {
	reg := newTestRegistry(t)

	sess, err := reg.Allocate("5511999990000")
	require.NoError(t, err)
	reg.Release(sess.ID)

	got, err := reg.Resolve(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Dir, got.Dir)
	assert.Equal(t, sess.ArchivePath, got.ArchivePath)
}

func TestDiscover(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Ensure("b-session", "")
	require.NoError(t, err)
	_, err = reg.Ensure("a-session", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(reg.DataDir(), "a-session.zip"), nil, 0o600))

	ids, err := reg.Discover()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-session", "b-session"}, ids)
}
