package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"whatsapp-pair-server/types"
)

// fakeCreds writes a counter file on every Persist so archives can be checked
type fakeCreds struct {
	dir        string
	registered bool
	persists   atomic.Int32
	closed     atomic.Bool
	persistErr error
}

func (c *fakeCreds) Registered() bool { return c.registered }

func (c *fakeCreds) Persist(context.Context) error {
	if c.persistErr != nil {
		return c.persistErr
	}
	n := c.persists.Add(1)
	return os.WriteFile(filepath.Join(c.dir, "creds.json"), []byte(fmt.Sprintf(`{"version":%d}`, n)), 0o600)
}

func (c *fakeCreds) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeStore struct {
	mutex      sync.Mutex
	loads      int
	failLoads  int
	registered bool
	loaded     []*fakeCreds
}

func (s *fakeStore) Load(_ context.Context, dir string) (Credentials, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.loads++
	if s.loads <= s.failLoads {
		return nil, fmt.Errorf("load %s: %w", dir, types.ErrIO)
	}
	c := &fakeCreds{dir: dir, registered: s.registered}
	s.loaded = append(s.loaded, c)
	return c, nil
}

type fakeConn struct {
	events       chan Event
	connectErr   error
	registered   atomic.Bool
	disconnected chan struct{}
	once         sync.Once

	pair  func(phone string) (string, error)
	sends chan string

	// holdSend makes SendText block until its context ends
	holdSend            bool
	sendReturned        atomic.Bool
	sentAfterDisconnect atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events:       make(chan Event, 16),
		disconnected: make(chan struct{}),
		sends:        make(chan string, 4),
	}
}

func (c *fakeConn) Events() <-chan Event { return c.events }

func (c *fakeConn) Connect(context.Context) error { return c.connectErr }

func (c *fakeConn) Disconnect() {
	c.once.Do(func() { close(c.disconnected) })
}

func (c *fakeConn) PairPhone(_ context.Context, phone string) (string, error) {
	if c.pair == nil {
		return "", errors.New("pairing not supported")
	}
	return c.pair(phone)
}

func (c *fakeConn) Registered() bool { return c.registered.Load() }

func (c *fakeConn) SendText(ctx context.Context, text string) error {
	c.sends <- text
	if c.holdSend {
		<-ctx.Done()
	}
	select {
	case <-c.disconnected:
		c.sentAfterDisconnect.Store(true)
	default:
	}
	c.sendReturned.Store(true)
	return ctx.Err()
}

// fakeConnector hands out connections built by newConn and publishes each one
type fakeConnector struct {
	opens   atomic.Int32
	conns   chan *fakeConn
	newConn func(n int) *fakeConn
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{conns: make(chan *fakeConn, 16)}
}

func (fc *fakeConnector) Open(Credentials) (Conn, error) {
	n := int(fc.opens.Add(1))
	conn := newFakeConn()
	if fc.newConn != nil {
		conn = fc.newConn(n)
	}
	fc.conns <- conn
	return conn, nil
}

func (fc *fakeConnector) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-fc.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func testSession(t *testing.T) types.Session {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "15550001111-12345678")
	require.NoError(t, os.Mkdir(dir, 0o700))
	return types.Session{
		ID:          "15550001111-12345678",
		Dir:         dir,
		ArchivePath: dir + ".zip",
		Phone:       "15550001111",
	}
}

func testSupervisorConfig() SupervisorConfig {
	cfg := DefaultSupervisorConfig()
	cfg.ConnectTimeout = time.Second
	cfg.ReconnectInitial = time.Millisecond
	cfg.ReconnectMax = 5 * time.Millisecond
	return cfg
}

func quietLogger() zerolog.Logger {
	return zerolog.Nop()
}

// logBuffer collects log output written from several goroutines
type logBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.String()
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
