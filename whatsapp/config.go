package whatsapp

import "time"

const (
	DefaultConnectTimeout   = 30 * time.Second
	DefaultReconnectInitial = time.Second
	DefaultReconnectMax     = time.Minute
	DefaultQRTTL            = time.Minute
	DefaultPairingCodeTTL   = 3 * time.Minute

	DefaultPairingAttempts     = 3
	DefaultPairingDelay        = 2 * time.Second
	DefaultPairingReadyTimeout = 20 * time.Second
	DefaultPairingCallTimeout  = 30 * time.Second
	DefaultClientName          = "Chrome (Linux)"
)

// SupervisorConfig controls connection supervision for every session
type SupervisorConfig struct {
	ConnectTimeout   time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	QRTTL            time.Duration
	PairingCodeTTL   time.Duration
	// NotifyOnPair sends the session id to the account once pairing completes
	NotifyOnPair bool
	// PublicURL prefixes download links in the pairing notice
	PublicURL string
}

func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		ConnectTimeout:   DefaultConnectTimeout,
		ReconnectInitial: DefaultReconnectInitial,
		ReconnectMax:     DefaultReconnectMax,
		QRTTL:            DefaultQRTTL,
		PairingCodeTTL:   DefaultPairingCodeTTL,
		NotifyOnPair:     true,
	}
}

// PairingConfig controls pairing-code requests
type PairingConfig struct {
	Attempts     int
	Delay        time.Duration
	ReadyTimeout time.Duration
	CallTimeout  time.Duration
}

func DefaultPairingConfig() PairingConfig {
	return PairingConfig{
		Attempts:     DefaultPairingAttempts,
		Delay:        DefaultPairingDelay,
		ReadyTimeout: DefaultPairingReadyTimeout,
		CallTimeout:  DefaultPairingCallTimeout,
	}
}
