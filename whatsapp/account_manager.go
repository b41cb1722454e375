package whatsapp

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"whatsapp-pair-server/queue"
	"whatsapp-pair-server/session"
	"whatsapp-pair-server/types"
)

// AccountManager runs one supervisor per session
type AccountManager struct {
	registry    *session.Registry
	store       CredentialStore
	connector   Connector
	config      SupervisorConfig
	pairer      *Pairer
	logger      zerolog.Logger
	supervisors map[string]*Supervisor
	mutex       sync.RWMutex

	// ctx is the parent of every supervisor; cancelling it stops them all
	ctx context.Context

	// AbandonFailed stops and forgets sessions whose pairing request failed
	AbandonFailed bool

	newSupervisor func(sess types.Session) *Supervisor
}

// NewAccountManager creates a new account manager
func NewAccountManager(ctx context.Context, registry *session.Registry, store CredentialStore, connector Connector, config SupervisorConfig, pairer *Pairer, logger zerolog.Logger) *AccountManager {
	am := &AccountManager{
		registry:    registry,
		store:       store,
		connector:   connector,
		config:      config,
		pairer:      pairer,
		logger:      logger,
		supervisors: make(map[string]*Supervisor),
		ctx:         ctx,
	}
	am.newSupervisor = func(sess types.Session) *Supervisor {
		return NewSupervisor(sess, am.store, am.connector, am.config, am.logger)
	}
	return am
}

// Registry returns the session registry backing this manager
func (am *AccountManager) Registry() *session.Registry {
	return am.registry
}

// Start runs a supervisor for sess unless one is already live
func (am *AccountManager) Start(sess types.Session) *Supervisor {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	if sup, exists := am.supervisors[sess.ID]; exists {
		select {
		case <-sup.Done():
		default:
			return sup
		}
	}

	sup := am.newSupervisor(sess)
	am.supervisors[sess.ID] = sup
	sup.Start(am.ctx)
	am.logger.Info().Str("session_id", sess.ID).Msg("Session supervisor started")
	return sup
}

// Get retrieves the supervisor of a session
func (am *AccountManager) Get(id string) (*Supervisor, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	sup, exists := am.supervisors[id]
	return sup, exists
}

// List returns snapshots of every supervised session ordered by id
func (am *AccountManager) List() []types.Session {
	am.mutex.RLock()
	out := make([]types.Session, 0, len(am.supervisors))
	for _, sup := range am.supervisors {
		out = append(out, sup.Snapshot())
	}
	am.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop stops and removes a session's supervisor. The session's directory and
// archive are kept.
func (am *AccountManager) Stop(id string) error {
	am.mutex.Lock()
	sup, exists := am.supervisors[id]
	delete(am.supervisors, id)
	am.mutex.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	sup.Stop()
	am.registry.Release(id)
	am.logger.Info().Str("session_id", id).Msg("Session supervisor removed")
	return nil
}

// StopAll stops every supervisor
func (am *AccountManager) StopAll() {
	am.mutex.Lock()
	sups := am.supervisors
	am.supervisors = make(map[string]*Supervisor)
	am.mutex.Unlock()

	var wg sync.WaitGroup
	for _, sup := range sups {
		wg.Add(1)
		go func(sup *Supervisor) {
			defer wg.Done()
			sup.Stop()
		}(sup)
	}
	wg.Wait()
}

// Resume starts supervisors for every session directory found on disk,
// using pool to bound how many load their credentials at once
func (am *AccountManager) Resume(ctx context.Context, pool *queue.WorkerPool) (int, error) {
	ids, err := am.registry.Discover()
	if err != nil {
		return 0, err
	}

	started := 0
	for _, id := range ids {
		id := id
		err := pool.Submit(ctx, func(context.Context) {
			sess, err := am.registry.Ensure(id, "")
			if err != nil {
				am.logger.Error().Err(err).Str("session_id", id).Msg("Failed to resume session")
				return
			}
			am.Start(sess)
		})
		if err != nil {
			pool.Wait()
			return started, err
		}
		started++
	}
	pool.Wait()
	return started, nil
}

// PairResult is what a successful pairing request hands back to the caller
type PairResult struct {
	Session types.Session
	Code    string
}

// Pair allocates a new session for phone, starts its supervisor and requests
// a pairing code
func (am *AccountManager) Pair(ctx context.Context, phone string) (PairResult, error) {
	sess, err := am.registry.Allocate(phone)
	if err != nil {
		return PairResult{}, err
	}
	log := am.logger.With().Str("session_id", sess.ID).Logger()
	log.Info().Msg("Session allocated for pairing")

	sup := am.Start(sess)
	code, err := am.pairer.RequestPairingCode(ctx, sup, sess.Phone)
	if err != nil {
		log.Error().Err(err).Msg("Pairing failed")
		if am.AbandonFailed {
			if stopErr := am.Stop(sess.ID); stopErr != nil {
				log.Warn().Err(stopErr).Msg("Failed to abandon session")
			}
		}
		return PairResult{Session: sess}, err
	}

	log.Info().Msg("Pairing code issued")
	return PairResult{Session: sup.Snapshot(), Code: code}, nil
}
