package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"whatsapp-pair-server/types"
	"whatsapp-pair-server/utils"
)

const (
	codeGroupSize = 4
	codeDelimiter = "-"
)

// PairingTarget is a session able to hand out pairing codes
type PairingTarget interface {
	WaitOpen(ctx context.Context) error
	PairPhone(ctx context.Context, phone string) (string, error)
}

// Pairer obtains pairing codes, retrying failed attempts after a fixed delay
type Pairer struct {
	config PairingConfig
	logger zerolog.Logger

	// newTimer supplies the delay timer of each request; nil uses the real clock
	newTimer func() backoff.Timer
}

func NewPairer(config PairingConfig, logger zerolog.Logger) *Pairer {
	return &Pairer{config: config, logger: logger}
}

// RequestPairingCode waits for target's connection to open and requests a
// code for phone. Every attempt that fails, including one whose connection
// never opened in time, is retried until the configured attempts run out.
func (p *Pairer) RequestPairingCode(ctx context.Context, target PairingTarget, phone string) (string, error) {
	retry := utils.FixedRetry{
		Attempts: p.config.Attempts,
		Delay:    p.config.Delay,
		Notify: func(err error, next time.Duration) {
			p.logger.Warn().Err(err).Dur("retry_in", next).Msg("Pairing attempt failed")
		},
	}
	if p.newTimer != nil {
		retry.Timer = p.newTimer()
	}

	var code string
	err := retry.Do(ctx, func(attempt int) error {
		raw, err := p.attempt(ctx, target, phone)
		utils.RecordPairingAttempt(err == nil)
		if err != nil {
			if errors.Is(err, types.ErrStopped) || errors.Is(err, types.ErrAlreadyPaired) {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("attempt %d: %w", attempt, err)
		}
		code = raw
		return nil
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, types.ErrStopped) || errors.Is(err, types.ErrAlreadyPaired) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", types.ErrPairingExhausted, err)
	}
	return FormatCode(code), nil
}

func (p *Pairer) attempt(ctx context.Context, target PairingTarget, phone string) (string, error) {
	readyCtx, cancel := context.WithTimeout(ctx, p.config.ReadyTimeout)
	err := target.WaitOpen(readyCtx)
	cancel()
	if err != nil {
		return "", fmt.Errorf("wait for connection: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
	defer cancel()
	return target.PairPhone(callCtx, phone)
}

// FormatCode groups a raw pairing code into blocks of four separated by
// dashes. Separators already present are dropped first; a short final block
// is kept as is.
func FormatCode(raw string) string {
	clean := strings.NewReplacer("-", "", " ", "").Replace(raw)
	clean = strings.ToUpper(clean)

	var b strings.Builder
	for i := 0; i < len(clean); i += codeGroupSize {
		if i > 0 {
			b.WriteString(codeDelimiter)
		}
		end := i + codeGroupSize
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}
	return b.String()
}
