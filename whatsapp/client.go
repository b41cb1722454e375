package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"whatsapp-pair-server/utils"
)

const eventBuffer = 32

// WhatsmeowConnector opens whatsmeow clients over DeviceCredentials
type WhatsmeowConnector struct {
	ClientName string
	logger     waLog.Logger
}

func NewWhatsmeowConnector(clientName string, logger waLog.Logger) *WhatsmeowConnector {
	if clientName == "" {
		clientName = DefaultClientName
	}
	return &WhatsmeowConnector{ClientName: clientName, logger: logger}
}

func (wc *WhatsmeowConnector) Open(creds Credentials) (Conn, error) {
	dc, ok := creds.(*DeviceCredentials)
	if !ok {
		return nil, fmt.Errorf("whatsmeow connector: unsupported credentials %T", creds)
	}

	client := whatsmeow.NewClient(dc.Device(), wc.logger)
	// Reconnection is driven by the supervisor.
	client.EnableAutoReconnect = false

	c := &Client{
		client:     client,
		clientName: wc.ClientName,
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
	}
	c.handlerID = client.AddEventHandler(c.handleEvent)
	return c, nil
}

// Client adapts a whatsmeow client to Conn
type Client struct {
	client     *whatsmeow.Client
	clientName string
	handlerID  uint32
	events     chan Event
	done       chan struct{}
	closeOnce  sync.Once
	qrSeen     atomic.Bool
}

func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect dials WhatsApp, giving up when ctx ends
func (c *Client) Connect(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.client.Connect()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		c.client.Disconnect()
		return ctx.Err()
	}
}

func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.client.RemoveEventHandler(c.handlerID)
		c.client.Disconnect()
	})
}

func (c *Client) PairPhone(ctx context.Context, phone string) (string, error) {
	return c.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, c.clientName)
}

func (c *Client) Registered() bool {
	return c.client.Store.ID != nil
}

func (c *Client) SendText(ctx context.Context, text string) error {
	if c.client.Store.ID == nil {
		return errors.New("send text: session is not paired")
	}
	_, err := c.client.SendMessage(ctx, c.client.Store.ID.ToNonAD(), utils.CreateTextMessage(text))
	return err
}

// handleEvent runs on whatsmeow's dispatch goroutine; forwarding blocks so the
// supervisor sees events in emission order
func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.QR:
		if len(v.Codes) == 0 {
			return
		}
		c.emit(Event{Kind: EventQR, QR: v.Codes[0]})
		// The first QR ref means the socket is up and ready for code pairing.
		if c.qrSeen.CompareAndSwap(false, true) {
			c.emit(stateOpen())
		}
	case *events.PairError:
		c.emit(Event{Kind: EventPairError, Err: v.Error})
	case *events.PairSuccess, *events.PushNameSetting:
		c.emit(credentialsUpdated())
	case *events.Connected:
		c.emit(credentialsUpdated())
		c.emit(stateOpen())
	case *events.LoggedOut:
		c.emit(stateClosed(CloseLoggedOut))
	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			c.emit(stateClosed(CloseLoggedOut))
		} else {
			c.emit(stateClosed(CloseConnectFailed))
		}
	case *events.StreamReplaced:
		c.emit(stateClosed(CloseConnectionReplaced))
	case *events.TemporaryBan:
		c.emit(stateClosed(CloseBanned))
	case *events.ClientOutdated:
		c.emit(stateClosed(CloseClientOutdated))
	case *events.Disconnected:
		c.emit(stateClosed(CloseConnectionLost))
	}
}

func (c *Client) emit(evt Event) {
	select {
	case c.events <- evt:
	case <-c.done:
	}
}
