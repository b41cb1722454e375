package whatsapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"whatsapp-pair-server/types"
)

type mockTarget struct {
	mock.Mock
}

func (m *mockTarget) WaitOpen(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockTarget) PairPhone(ctx context.Context, phone string) (string, error) {
	args := m.Called(phone)
	return args.String(0), args.Error(1)
}

// fakeTimer fires at once and records each delay it was asked to wait
type fakeTimer struct {
	c      chan time.Time
	delays []time.Duration
}

func (f *fakeTimer) Start(d time.Duration) {
	f.delays = append(f.delays, d)
	f.c <- time.Unix(0, 0)
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time { return f.c }

func newTestPairer() (*Pairer, *fakeTimer) {
	timer := &fakeTimer{c: make(chan time.Time, 1)}
	p := NewPairer(DefaultPairingConfig(), quietLogger())
	p.newTimer = func() backoff.Timer { return timer }
	return p, timer
}

func TestFormatCode(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"ABCDEFGH", "ABCD-EFGH"},
		{"ABCDEFG", "ABCD-EFG"},
		{"ABCD-EFGH", "ABCD-EFGH"},
		{"abcd efgh", "ABCD-EFGH"},
		{"ABC", "ABC"},
		{"ABCDEFGHIJ", "ABCD-EFGH-IJ"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCode(tt.raw))
		})
	}
}

func TestRequestPairingCode_Success(t *testing.T) {
	p, timer := newTestPairer()
	target := &mockTarget{}
	target.On("WaitOpen").Return(nil)
	target.On("PairPhone", "15550001111").Return("ABCD-EFGH", nil).Once()

	code, err := p.RequestPairingCode(context.Background(), target, "15550001111")
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH", code)
	assert.Empty(t, timer.delays)
	target.AssertExpectations(t)
}

func TestRequestPairingCode_RetriesThenSucceeds(t *testing.T) {
	p, timer := newTestPairer()
	target := &mockTarget{}
	target.On("WaitOpen").Return(nil)
	target.On("PairPhone", "15550001111").Return("", errors.New("rate-overlimit")).Once()
	target.On("PairPhone", "15550001111").Return("WXYZ1234", nil).Once()

	code, err := p.RequestPairingCode(context.Background(), target, "15550001111")
	require.NoError(t, err)
	assert.Equal(t, "WXYZ-1234", code)
	assert.Equal(t, []time.Duration{2 * time.Second}, timer.delays)
	target.AssertNumberOfCalls(t, "PairPhone", 2)
}

func TestRequestPairingCode_Exhausted(t *testing.T) {
	p, timer := newTestPairer()
	target := &mockTarget{}
	target.On("WaitOpen").Return(nil)
	target.On("PairPhone", "15550001111").Return("", errors.New("bad-request"))

	_, err := p.RequestPairingCode(context.Background(), target, "15550001111")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPairingExhausted)
	target.AssertNumberOfCalls(t, "PairPhone", 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, timer.delays)
}

func TestRequestPairingCode_NotReadyCountsAsAttempt(t *testing.T) {
	p, timer := newTestPairer()
	target := &mockTarget{}
	target.On("WaitOpen").Return(context.DeadlineExceeded)

	_, err := p.RequestPairingCode(context.Background(), target, "15550001111")
	assert.ErrorIs(t, err, types.ErrPairingExhausted)
	target.AssertNumberOfCalls(t, "WaitOpen", 3)
	target.AssertNotCalled(t, "PairPhone", mock.Anything)
	assert.Len(t, timer.delays, 2)
}

func TestRequestPairingCode_StoppedIsPermanent(t *testing.T) {
	p, timer := newTestPairer()
	target := &mockTarget{}
	target.On("WaitOpen").Return(types.ErrStopped)

	_, err := p.RequestPairingCode(context.Background(), target, "15550001111")
	assert.ErrorIs(t, err, types.ErrStopped)
	assert.NotErrorIs(t, err, types.ErrPairingExhausted)
	target.AssertNumberOfCalls(t, "WaitOpen", 1)
	assert.Empty(t, timer.delays)
}

func TestRequestPairingCode_ContextCancelled(t *testing.T) {
	p, _ := newTestPairer()
	target := &mockTarget{}
	target.On("WaitOpen").Return(context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.RequestPairingCode(ctx, target, "15550001111")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, types.ErrPairingExhausted)
}
