// Package messenger defines the automation-client capability the relay
// depends on, and the handle that publishes it once the session is up.
package messenger

import (
	"context"
	"errors"
	"strings"
)

// Identifier servers used by WhatsApp JIDs ("<user>@<server>").
const (
	UserServer       = "s.whatsapp.net"
	LegacyUserServer = "c.us"
	GroupServer      = "g.us"
)

var ErrNotReady = errors.New("whatsapp client is not initialized yet")

// Chat is one conversation known to the session.
type Chat struct {
	ID      string
	Server  string
	Name    string
	IsGroup bool
}

// Group reports whether the chat is a group conversation, either by its
// explicit flag or by the group identifier server.
func (c Chat) Group() bool {
	if c.IsGroup {
		return true
	}
	server := c.Server
	if server == "" {
		if i := strings.LastIndexByte(c.ID, '@'); i >= 0 {
			server = c.ID[i+1:]
		}
	}
	return server == GroupServer
}

// SessionStatus is a point-in-time view of the session, safe to serve over HTTP.
type SessionStatus struct {
	Ready     bool   `json:"ready"`
	Connected bool   `json:"connected"`
	LoggedIn  bool   `json:"logged_in"`
	Device    string `json:"device,omitempty"`
	// QR is the latest pairing code while the device is not linked yet.
	QR string `json:"qr,omitempty"`
}

// Client is the opaque automation capability. Destinations are JID strings.
// Implementations are not required to be safe for concurrent sends on one session.
type Client interface {
	IsConnected(ctx context.Context) bool
	SendText(ctx context.Context, dest, text string) error
	SendFile(ctx context.Context, dest, path, filename, caption string) error
	SendImageFromBase64(ctx context.Context, dest, data, filename, caption string) error
	GetAllChats(ctx context.Context) ([]Chat, error)
}

// UserDestination turns a normalized phone number into an individual chat destination.
func UserDestination(number string) string {
	return number + "@" + UserServer
}
