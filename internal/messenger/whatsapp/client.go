package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"bulksender/internal/messenger"
)

// client adapts a whatsmeow session to messenger.Client.
type client struct {
	wa *whatsmeow.Client
}

var _ messenger.Client = (*client)(nil)

func (c *client) IsConnected(context.Context) bool {
	return c.wa.IsConnected() && c.wa.IsLoggedIn()
}

func (c *client) SendText(ctx context.Context, dest, text string) error {
	to, err := parseDestination(dest)
	if err != nil {
		return err
	}
	_, err = c.wa.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

// SendFile uploads the file and sends it as image, video or document depending
// on its content type, with caption attached.
func (c *client) SendFile(ctx context.Context, dest, path, filename, caption string) error {
	to, err := parseDestination(dest)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	if filename == "" {
		filename = filepath.Base(path)
	}
	mt := contentType(filename, data)

	var msg *waE2E.Message
	switch {
	case strings.HasPrefix(mt, "image/"):
		msg, err = c.imageMessage(ctx, data, mt, caption)
	case strings.HasPrefix(mt, "video/"):
		up, uerr := c.wa.Upload(ctx, data, whatsmeow.MediaVideo)
		if uerr != nil {
			return fmt.Errorf("upload video: %w", uerr)
		}
		msg = &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mt),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		up, uerr := c.wa.Upload(ctx, data, whatsmeow.MediaDocument)
		if uerr != nil {
			return fmt.Errorf("upload document: %w", uerr)
		}
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(caption),
			Title:         proto.String(filename),
			FileName:      proto.String(filename),
			Mimetype:      proto.String(mt),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
	if err != nil {
		return err
	}
	_, err = c.wa.SendMessage(ctx, to, msg)
	return err
}

// SendImageFromBase64 accepts raw base64 or a data URL.
func (c *client) SendImageFromBase64(ctx context.Context, dest, data, filename, caption string) error {
	to, err := parseDestination(dest)
	if err != nil {
		return err
	}
	mt := ""
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ";base64,"); i > 0 {
			mt = data[len("data:"):i]
			data = data[i+len(";base64,"):]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	if mt == "" {
		mt = contentType(filename, raw)
	}
	msg, err := c.imageMessage(ctx, raw, mt, caption)
	if err != nil {
		return err
	}
	_, err = c.wa.SendMessage(ctx, to, msg)
	return err
}

func (c *client) imageMessage(ctx context.Context, data []byte, mt, caption string) (*waE2E.Message, error) {
	up, err := c.wa.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(mt),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}}, nil
}

// GetAllChats returns joined groups followed by saved contacts.
func (c *client) GetAllChats(ctx context.Context) ([]messenger.Chat, error) {
	groups, err := c.wa.GetJoinedGroups()
	if err != nil {
		return nil, fmt.Errorf("get joined groups: %w", err)
	}
	out := make([]messenger.Chat, 0, len(groups))
	for _, g := range groups {
		if g == nil {
			continue
		}
		out = append(out, messenger.Chat{
			ID:      g.JID.String(),
			Server:  g.JID.Server,
			Name:    g.Name,
			IsGroup: true,
		})
	}

	contacts, err := c.wa.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}
	for jid, info := range contacts {
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		if name == "" {
			name = info.BusinessName
		}
		out = append(out, messenger.Chat{ID: jid.String(), Server: jid.Server, Name: name})
	}
	return out, nil
}

// parseDestination accepts "<user>@<server>" or a bare number. The legacy
// "c.us" user server is mapped onto the current one.
func parseDestination(dest string) (types.JID, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return types.JID{}, fmt.Errorf("empty destination")
	}
	if !strings.Contains(dest, "@") {
		return types.NewJID(dest, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(dest)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid destination %q: %w", dest, err)
	}
	if jid.Server == messenger.LegacyUserServer {
		jid = types.NewJID(jid.User, types.DefaultUserServer)
	}
	return jid, nil
}

func contentType(filename string, data []byte) string {
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mt, ';'); i > 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
