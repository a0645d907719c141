package dispatch

import (
	"context"
	"errors"
	"sync"

	"bulksender/internal/messenger"
	logx "bulksender/pkg/logx"
)

type call struct {
	kind     string
	dest     string
	text     string
	path     string
	filename string
	data     string
}

type fakeClient struct {
	mu        sync.Mutex
	calls     []call
	connected bool
	failDest  map[string]error
	chats     []messenger.Chat
	chatsErr  error
	// onFile runs inside SendFile, while the attachment is still staged.
	onFile func(path string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, failDest: map[string]error{}}
}

func (f *fakeClient) IsConnected(context.Context) bool { return f.connected }

func (f *fakeClient) add(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.failDest[c.dest]
}

func (f *fakeClient) SendText(_ context.Context, dest, text string) error {
	return f.add(call{kind: "text", dest: dest, text: text})
}

func (f *fakeClient) SendFile(_ context.Context, dest, path, filename, caption string) error {
	if f.onFile != nil {
		f.onFile(path)
	}
	return f.add(call{kind: "file", dest: dest, text: caption, path: path, filename: filename})
}

func (f *fakeClient) SendImageFromBase64(_ context.Context, dest, data, filename, caption string) error {
	return f.add(call{kind: "image", dest: dest, text: caption, filename: filename, data: data})
}

func (f *fakeClient) GetAllChats(context.Context) ([]messenger.Chat, error) {
	return f.chats, f.chatsErr
}

func (f *fakeClient) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type memRecorder struct {
	mu   sync.Mutex
	recs []Record
	err  error
}

func (m *memRecorder) Record(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return m.err
}

var errBoom = errors.New("boom")

func readyHandle(c messenger.Client) *messenger.Handle {
	h := messenger.NewHandle()
	h.Set(c)
	return h
}

func loggerForTest() logx.Logger { return logx.Nop() }
