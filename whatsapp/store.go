package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"

	"whatsapp-pair-server/types"
	"whatsapp-pair-server/utils"
)

const (
	credentialsFile = "session.db"
	sqliteDialect   = "sqlite"
)

// SQLStore keeps each session's credentials in a SQLite database inside the
// session directory
type SQLStore struct {
	logger waLog.Logger
	retry  *utils.RetryConfig
}

func NewSQLStore(logger waLog.Logger) *SQLStore {
	return &SQLStore{
		logger: logger,
		retry:  utils.DefaultRetryConfig(),
	}
}

func credentialsDSN(dir string) string {
	return "file:" + filepath.Join(dir, credentialsFile) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Load opens the session database in dir and returns its first device, or a
// new unregistered device if the database is empty
func (s *SQLStore) Load(ctx context.Context, dir string) (Credentials, error) {
	dsn := credentialsDSN(dir)

	var container *sqlstore.Container
	err := utils.WithRetry(ctx, func() error {
		var err error
		container, err = sqlstore.New(ctx, sqliteDialect, dsn, s.logger)
		return err
	}, s.retry)
	if err != nil {
		return nil, fmt.Errorf("load credentials from %s: %w: %w", dir, types.ErrIO, err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("load device from %s: %w: %w", dir, types.ErrIO, err)
	}

	// A separate handle lets Persist checkpoint the WAL into session.db.
	db, err := sql.Open(sqliteDialect, dsn)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("open %s: %w: %w", dir, types.ErrIO, err)
	}

	return &DeviceCredentials{
		container: container,
		device:    device,
		db:        db,
	}, nil
}

// DeviceCredentials wraps a whatsmeow device store
type DeviceCredentials struct {
	container *sqlstore.Container
	device    *store.Device
	db        *sql.DB
}

func (d *DeviceCredentials) Device() *store.Device {
	return d.device
}

func (d *DeviceCredentials) Registered() bool {
	return d.device.ID != nil
}

// Persist saves the device and folds the write-ahead log into the main
// database file. Unregistered devices have nothing to save yet.
func (d *DeviceCredentials) Persist(ctx context.Context) error {
	if !d.Registered() {
		return nil
	}
	if err := d.device.Save(ctx); err != nil {
		return fmt.Errorf("save device: %w: %w", types.ErrIO, err)
	}
	if _, err := d.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w: %w", types.ErrIO, err)
	}
	return nil
}

func (d *DeviceCredentials) Close() error {
	dbErr := d.db.Close()
	if err := d.container.Close(); err != nil {
		return err
	}
	return dbErr
}
