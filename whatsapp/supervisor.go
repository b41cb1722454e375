package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whatsapp-pair-server/archive"
	"whatsapp-pair-server/cache"
	"whatsapp-pair-server/session"
	"whatsapp-pair-server/types"
	"whatsapp-pair-server/utils"
)

const (
	qrKey          = "qr"
	pairingCodeKey = "pairing_code"
	noticeTimeout  = 30 * time.Second
)

var errNotReady = errors.New("connection is not open")

// Supervisor owns the connection lifecycle of one session. A single goroutine
// runs the state machine: Connecting -> Open -> Closed, then either back to
// Connecting or, after a logout, Stopped.
type Supervisor struct {
	store     CredentialStore
	connector Connector
	config    SupervisorConfig
	logger    zerolog.Logger

	// pack archives the session directory after every credential update
	pack  func(src, dst string) error
	after func(time.Duration) <-chan time.Time

	mutex   sync.RWMutex
	sess    types.Session
	conn    Conn
	changed chan struct{}

	cache     *cache.Cache
	needNote  bool
	notices   sync.WaitGroup
	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSupervisor(sess types.Session, store CredentialStore, connector Connector, config SupervisorConfig, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		store:     store,
		connector: connector,
		config:    config,
		logger:    logger.With().Str("session_id", sess.ID).Logger(),
		pack:      archive.Pack,
		after:     time.After,
		sess:      sess,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the supervision loop. Calling it more than once has no effect.
func (s *Supervisor) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.mutex.Lock()
		s.cancel = cancel
		s.cache = cache.NewCache(8)
		s.mutex.Unlock()
		go s.run(ctx)
	})
}

// Stop ends supervision, disconnects and waits for the loop to exit
func (s *Supervisor) Stop() {
	s.startOnce.Do(func() {
		// Never started: close done so waiters return.
		s.setState(types.StateStopped)
		close(s.done)
	})
	s.mutex.RLock()
	cancel := s.cancel
	s.mutex.RUnlock()
	if cancel != nil {
		cancel()
	}
	<-s.done
}

// Done is closed once the supervisor has reached Stopped
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns a copy of the session record
func (s *Supervisor) Snapshot() types.Session {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.sess
}

// QRCode returns the current login QR reference if the session is unpaired
func (s *Supervisor) QRCode() (string, bool) {
	s.mutex.RLock()
	c := s.cache
	s.mutex.RUnlock()
	if c == nil {
		return "", false
	}
	return c.Get(qrKey)
}

// WaitOpen blocks until the connection is Open or ctx ends. It fails with
// ErrStopped once the supervisor has stopped.
func (s *Supervisor) WaitOpen(ctx context.Context) error {
	for {
		s.mutex.RLock()
		state := s.sess.State
		changed := s.changed
		s.mutex.RUnlock()

		switch state {
		case types.StateOpen:
			return nil
		case types.StateStopped:
			return types.ErrStopped
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PairPhone requests a pairing code over the open connection
func (s *Supervisor) PairPhone(ctx context.Context, phone string) (string, error) {
	s.mutex.RLock()
	conn, state, registered := s.conn, s.sess.State, s.sess.Registered
	c := s.cache
	s.mutex.RUnlock()

	switch {
	case state == types.StateStopped:
		return "", types.ErrStopped
	case registered:
		return "", types.ErrAlreadyPaired
	case conn == nil || state != types.StateOpen:
		return "", errNotReady
	}

	code, err := conn.PairPhone(ctx, phone)
	if err != nil {
		return "", err
	}
	c.Set(pairingCodeKey, code, s.config.PairingCodeTTL)
	return code, nil
}

func (s *Supervisor) run(ctx context.Context) {
	utils.IncrementActiveSessions()
	defer func() {
		s.setState(types.StateStopped)
		s.mutex.RLock()
		c := s.cache
		s.mutex.RUnlock()
		c.Stop()
		utils.DecrementActiveSessions()
		close(s.done)
	}()

	bo := utils.NewExponentialBackOff(&utils.RetryConfig{
		InitialInterval: s.config.ReconnectInitial,
		MaxInterval:     s.config.ReconnectMax,
	})

	for {
		reason, err := s.cycle(ctx, bo.Reset)
		if ctx.Err() != nil {
			s.logger.Info().Msg("Supervisor stopped")
			return
		}
		if err == nil && reason.Terminal() {
			s.logger.Warn().Stringer("reason", reason).Msg("Session logged out, not reconnecting")
			return
		}

		delay := bo.NextBackOff()
		ev := s.logger.Info().Dur("delay", delay)
		if err != nil {
			ev = ev.Err(err)
		} else {
			ev = ev.Stringer("reason", reason)
		}
		ev.Msg("Connection closed, reconnecting")
		utils.IncrementReconnects()

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Supervisor stopped")
			return
		case <-s.after(delay):
		}
	}
}

// cycle runs one connection from Connecting until it closes. It returns the
// close reason, or an error if the connection could not be established.
func (s *Supervisor) cycle(ctx context.Context, opened func()) (CloseReason, error) {
	s.setState(types.StateConnecting)
	sess := s.Snapshot()

	creds, err := s.store.Load(ctx, sess.Dir)
	if err != nil {
		s.setState(types.StateClosed)
		return CloseUnknown, err
	}
	defer func() {
		if err := creds.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close credential store")
		}
	}()
	if !creds.Registered() {
		s.needNote = true
	}

	conn, err := s.connector.Open(creds)
	if err != nil {
		s.setState(types.StateClosed)
		return CloseUnknown, fmt.Errorf("open connection: %w", err)
	}
	s.setConn(conn)
	defer func() {
		s.setConn(nil)
		conn.Disconnect()
	}()

	// Work started on this connection ends before it is disconnected.
	connCtx, cancelConn := context.WithCancel(ctx)
	defer func() {
		cancelConn()
		s.notices.Wait()
	}()

	connectCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	err = conn.Connect(connectCtx)
	cancel()
	if err != nil {
		s.setState(types.StateClosed)
		return CloseUnknown, fmt.Errorf("connect: %w", err)
	}

	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return CloseUnknown, nil
		case evt := <-events:
			switch evt.Kind {
			case EventCredentialsUpdated:
				s.saveCredentials(ctx, creds, sess)
			case EventQR:
				s.cacheSet(qrKey, evt.QR, s.config.QRTTL)
			case EventPairError:
				s.logger.Error().Err(evt.Err).Msg("Pairing could not be completed")
			case EventStateChanged:
				switch evt.State {
				case types.StateOpen:
					s.markOpen(connCtx, conn)
					opened()
				case types.StateClosed:
					s.setState(types.StateClosed)
					return evt.Reason, nil
				}
			}
		}
	}
}

// saveCredentials persists the credential state and re-packs the session
// directory. Failures are logged; the connection carries on.
func (s *Supervisor) saveCredentials(ctx context.Context, creds Credentials, sess types.Session) {
	if err := creds.Persist(ctx); err != nil {
		utils.IncrementPersistFailures()
		s.logger.Error().Err(err).Msg("Failed to persist credentials")
	}

	start := time.Now()
	err := s.pack(sess.Dir, sess.ArchivePath)
	utils.RecordArchive(time.Since(start), err)
	if err != nil {
		s.logger.Error().Err(err).Str("archive", sess.ArchivePath).Msg("Failed to archive session")
		return
	}
	s.logger.Debug().Str("archive", sess.ArchivePath).Msg("Session archived")
}

func (s *Supervisor) markOpen(ctx context.Context, conn Conn) {
	registered := conn.Registered()
	s.update(func(sess *types.Session) {
		sess.State = types.StateOpen
		sess.Registered = registered
	})
	if !registered {
		s.logger.Info().Msg("Connection open, waiting for pairing")
		return
	}

	s.logger.Info().Msg("Connection open")
	s.cacheDelete(qrKey)
	if s.needNote {
		s.needNote = false
		if s.config.NotifyOnPair {
			s.notices.Add(1)
			go func() {
				defer s.notices.Done()
				s.sendNotice(ctx, conn)
			}()
		}
	}
}

func (s *Supervisor) sendNotice(ctx context.Context, conn Conn) {
	ctx, cancel := context.WithTimeout(ctx, noticeTimeout)
	defer cancel()

	id := s.Snapshot().ID
	url := ""
	if s.config.PublicURL != "" {
		url = s.config.PublicURL + session.DownloadPath(id)
	}
	if err := conn.SendText(ctx, utils.SessionNotice(id, url)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send pairing notice")
	}
}

func (s *Supervisor) setConn(conn Conn) {
	s.mutex.Lock()
	s.conn = conn
	s.mutex.Unlock()
}

func (s *Supervisor) setState(state types.ConnectionState) {
	s.update(func(sess *types.Session) {
		sess.State = state
	})
}

// update applies fn to the session record and wakes WaitOpen callers
func (s *Supervisor) update(fn func(sess *types.Session)) {
	s.mutex.Lock()
	before := s.sess.State
	fn(&s.sess)
	after := s.sess.State
	close(s.changed)
	s.changed = make(chan struct{})
	s.mutex.Unlock()

	if before != after {
		utils.RecordTransition(after.String())
		s.logger.Debug().Stringer("from", before).Stringer("to", after).Msg("State changed")
	}
}

func (s *Supervisor) cacheSet(key, value string, ttl time.Duration) {
	s.mutex.RLock()
	c := s.cache
	s.mutex.RUnlock()
	c.Set(key, value, ttl)
}

func (s *Supervisor) cacheDelete(key string) {
	s.mutex.RLock()
	c := s.cache
	s.mutex.RUnlock()
	c.Delete(key)
}
