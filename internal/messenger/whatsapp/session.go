// Package whatsapp runs the WhatsApp multi-device session that backs messenger.Client.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	_ "modernc.org/sqlite"

	"bulksender/internal/messenger"
	logx "bulksender/pkg/logx"
)

type Config struct {
	// StorePath is the SQLite file holding device keys between restarts.
	StorePath string
	// ConnectTimeout bounds the initial Connect call. Zero means 30s.
	ConnectTimeout time.Duration
}

type Session struct {
	cfg    Config
	log    logx.Logger
	handle *messenger.Handle

	mu sync.Mutex
	wa *whatsmeow.Client
	qr string

	// loggedOut is signalled by the event handler; Run returns so the
	// supervisor restarts it and pairing starts over.
	loggedOut chan struct{}
}

var (
	errLoggedOut     = errors.New("device logged out")
	errPairingClosed = errors.New("pairing channel closed")
)

func NewSession(cfg Config, handle *messenger.Handle, log logx.Logger) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.StorePath) == "" {
		cfg.StorePath = "./data/session.db"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Session{cfg: cfg, log: log, handle: handle, loggedOut: make(chan struct{}, 1)}
}

// Run opens the device store, connects, and keeps the session alive until ctx is done.
// The client is published on the handle when the first "connected" event arrives.
func (s *Session) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.StorePath), 0o755); err != nil {
		return fmt.Errorf("session store dir: %w", err)
	}
	dsn := "file:" + s.cfg.StorePath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, newWALogger(s.log.With(logx.String("comp", "wa.store"))))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() { _ = container.Close() }()

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}

	// A logout from the previous run was already acted on.
	select {
	case <-s.loggedOut:
	default:
	}

	wa := whatsmeow.NewClient(device, newWALogger(s.log.With(logx.String("comp", "wa.client"))))
	wa.AddEventHandler(s.onEvent)
	s.mu.Lock()
	s.wa = wa
	s.mu.Unlock()

	if wa.Store.ID == nil {
		qrCh, err := wa.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		if err := s.connect(wa); err != nil {
			return err
		}
		s.log.Info("device not linked; scan the QR code from WhatsApp > Linked devices")
		if err := s.watchQR(ctx, qrCh); err != nil {
			s.close(wa)
			return err
		}
	} else {
		if err := s.connect(wa); err != nil {
			return err
		}
	}

	err = s.wait(ctx)
	s.close(wa)
	return err
}

// wait blocks until ctx is done (clean stop) or the device is logged out.
func (s *Session) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.loggedOut:
		return errLoggedOut
	}
}

func (s *Session) close(wa *whatsmeow.Client) {
	s.handle.Clear()
	s.setQR("")
	wa.Disconnect()
	s.log.Info("session closed")
}

func (s *Session) connect(wa *whatsmeow.Client) error {
	done := make(chan error, 1)
	go func() { done <- wa.Connect() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		return nil
	case <-time.After(s.cfg.ConnectTimeout):
		wa.Disconnect()
		return errors.New("connect: timed out")
	}
}

// watchQR publishes pairing codes until the device is linked. Any other
// terminal event (codes expired, outdated client, unexpected event) is an error.
func (s *Session) watchQR(ctx context.Context, qrCh <-chan whatsmeow.QRChannelItem) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-qrCh:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errPairingClosed
			}
			switch item.Event {
			case whatsmeow.QRChannelEventCode:
				s.setQR(item.Code)
				s.log.Info("pairing code", logx.String("qr", item.Code), logx.Duration("valid_for", item.Timeout))
			case whatsmeow.QRChannelEventError:
				s.log.Warn("pairing failed", logx.Err(item.Error))
			case whatsmeow.QRChannelSuccess.Event:
				s.setQR("")
				s.log.Info("pairing finished")
				return nil
			default:
				s.setQR("")
				return fmt.Errorf("pairing ended: %s", item.Event)
			}
		}
	}
}

func (s *Session) setQR(code string) {
	s.mu.Lock()
	s.qr = code
	s.mu.Unlock()
}

func (s *Session) onEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		s.mu.Lock()
		wa := s.wa
		s.qr = ""
		s.mu.Unlock()
		if wa != nil {
			s.handle.Set(&client{wa: wa})
		}
		s.log.Info("whatsapp connected")
	case *events.PairSuccess:
		s.log.Info("device linked", logx.String("jid", v.ID.String()), logx.String("platform", v.Platform))
	case *events.Disconnected:
		s.log.Warn("whatsapp disconnected; auto-reconnect pending")
	case *events.StreamReplaced:
		s.log.Warn("session replaced by another connection")
	case *events.LoggedOut:
		s.handle.Clear()
		s.log.Error("device logged out; pairing again", logx.String("reason", v.Reason.String()))
		select {
		case s.loggedOut <- struct{}{}:
		default:
		}
	}
}

func (s *Session) Status() messenger.SessionStatus {
	s.mu.Lock()
	wa := s.wa
	qr := s.qr
	s.mu.Unlock()

	st := messenger.SessionStatus{QR: qr}
	if _, err := s.handle.Client(); err == nil {
		st.Ready = true
	}
	if wa != nil {
		st.Connected = wa.IsConnected()
		st.LoggedIn = wa.IsLoggedIn()
		if wa.Store != nil && wa.Store.ID != nil {
			st.Device = wa.Store.ID.String()
		}
	}
	return st
}
