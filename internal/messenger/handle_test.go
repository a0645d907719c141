package messenger

import (
	"context"
	"errors"
	"testing"
)

type nopClient struct{ texts []string }

func (c *nopClient) IsConnected(context.Context) bool { return true }
func (c *nopClient) SendText(_ context.Context, dest, text string) error {
	c.texts = append(c.texts, dest+":"+text)
	return nil
}
func (c *nopClient) SendFile(context.Context, string, string, string, string) error { return nil }
func (c *nopClient) SendImageFromBase64(context.Context, string, string, string, string) error {
	return nil
}
func (c *nopClient) GetAllChats(context.Context) ([]Chat, error) { return nil, nil }

func TestHandleNotReadyUntilSet(t *testing.T) {
	h := NewHandle()
	if _, err := h.Client(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Client() err = %v, want ErrNotReady", err)
	}
	select {
	case <-h.Ready():
		t.Fatal("Ready closed before Set")
	default:
	}

	c := &nopClient{}
	h.Set(c)
	h.Set(c) // second Set must not panic on the closed channel
	<-h.Ready()

	got, err := h.Client()
	if err != nil || got != c {
		t.Fatalf("Client() = %v, %v", got, err)
	}
	if err := h.SendText(context.Background(), "x@g.us", "hi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(c.texts) != 1 || c.texts[0] != "x@g.us:hi" {
		t.Fatalf("texts = %v", c.texts)
	}

	h.Clear()
	if _, err := h.Client(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("after Clear err = %v, want ErrNotReady", err)
	}
}

func TestChatGroup(t *testing.T) {
	cases := []struct {
		chat Chat
		want bool
	}{
		{Chat{ID: "120363@g.us"}, true},
		{Chat{ID: "919876543210@s.whatsapp.net"}, false},
		{Chat{ID: "weird", IsGroup: true}, true},
		{Chat{ID: "120363@g.us", Server: UserServer}, false},
	}
	for _, tc := range cases {
		if got := tc.chat.Group(); got != tc.want {
			t.Fatalf("%+v.Group() = %v, want %v", tc.chat, got, tc.want)
		}
	}
	if got := UserDestination("919876543210"); got != "919876543210@s.whatsapp.net" {
		t.Fatalf("UserDestination = %q", got)
	}
}
