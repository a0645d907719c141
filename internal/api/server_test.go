package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"bulksender/internal/dispatch"
	"bulksender/internal/messenger"
	"bulksender/internal/storage"
	logx "bulksender/pkg/logx"
)

type fakeClient struct {
	mu    sync.Mutex
	sent  []string
	chats []messenger.Chat
}

func (f *fakeClient) IsConnected(context.Context) bool { return true }

func (f *fakeClient) SendText(_ context.Context, dest, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, "text:"+dest)
	return nil
}

func (f *fakeClient) SendFile(_ context.Context, dest, _, filename, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, "file:"+dest+":"+filename)
	return nil
}

func (f *fakeClient) SendImageFromBase64(_ context.Context, dest, _, filename, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, "image:"+dest+":"+filename)
	return nil
}

func (f *fakeClient) GetAllChats(context.Context) ([]messenger.Chat, error) { return f.chats, nil }

type fakeSession struct{ st messenger.SessionStatus }

func (f fakeSession) Status() messenger.SessionStatus { return f.st }

type fakeHistory struct{ recs []dispatch.Record }

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]dispatch.Record, error) {
	return f.recs, nil
}

func (f *fakeHistory) Get(_ context.Context, id string) (dispatch.Record, error) {
	for _, r := range f.recs {
		if r.ID == id {
			return r, nil
		}
	}
	return dispatch.Record{}, storage.ErrNotFound
}

type fixture struct {
	srv    *Server
	client *fakeClient
	handle *messenger.Handle
	dir    string
}

func newFixture(t *testing.T, ready bool) *fixture {
	t.Helper()
	fc := &fakeClient{}
	h := messenger.NewHandle()
	if ready {
		h.Set(fc)
	}
	relay := dispatch.NewRelay(h, dispatch.Settings{AttachmentDelay: 0}, logx.Nop())
	dir := t.TempDir()
	srv := New(Config{UploadDir: dir}, Deps{
		Relay:   relay,
		Session: fakeSession{st: messenger.SessionStatus{Ready: ready, QR: "2@abc"}},
	}, logx.Nop())
	return &fixture{srv: srv, client: fc, handle: h, dir: dir}
}

type part struct {
	field, filename, contentType string
	data                         []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write(p.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (f *fixture) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func assertStagingEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("upload dir not empty: %v", entries)
	}
}

func TestSendMediaText(t *testing.T) {
	f := newFixture(t, true)
	body, ct := multipartBody(t, map[string]string{"numbers": `["9876543210","919123456789"]`, "message": "hi"})
	rec := f.do(t, http.MethodPost, "/send-media", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	got := decode[struct {
		Results []dispatch.Result `json:"results"`
	}](t, rec)
	if len(got.Results) != 2 || got.Results[0].Number != "919876543210" || got.Results[1].Status != dispatch.StatusSent {
		t.Fatalf("results = %+v", got.Results)
	}
}

func TestSendMediaStagesAttachmentWithTypeExtension(t *testing.T) {
	f := newFixture(t, true)
	body, ct := multipartBody(t,
		map[string]string{"numbers": `["9876543210"]`, "message": "cap"},
		part{field: "file", filename: "photo", contentType: "image/png", data: []byte("png")},
	)
	rec := f.do(t, http.MethodPost, "/send-media", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if len(f.client.sent) != 1 || f.client.sent[0] != "file:919876543210@s.whatsapp.net:photo.png" {
		t.Fatalf("sent = %v", f.client.sent)
	}
	assertStagingEmpty(t, f.dir)
}

func TestSendMediaJSONBody(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodPost, "/send-media", bytes.NewBufferString(`{"numbers":["9876543210"],"message":"hi"}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestSendMediaValidation(t *testing.T) {
	f := newFixture(t, true)
	cases := map[string]struct {
		numbers string
		want    string
	}{
		"bad json":  {`[98765`, "Invalid numbers format"},
		"not array": {`"9876543210"`, "Numbers must be a valid array."},
		"empty":     {`[]`, "Numbers must be a valid array."},
	}
	for name, c := range cases {
		body, ct := multipartBody(t, map[string]string{"numbers": c.numbers, "message": "hi"})
		rec := f.do(t, http.MethodPost, "/send-media", body, ct)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", name, rec.Code)
		}
		if got := decode[errorBody](t, rec); got.Error != c.want {
			t.Fatalf("%s: error = %q, want %q", name, got.Error, c.want)
		}
	}

	body, ct := multipartBody(t, map[string]string{"message": "hi"})
	if rec := f.do(t, http.MethodPost, "/send-media", body, ct); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing numbers: status = %d", rec.Code)
	}

	body, ct = multipartBody(t,
		map[string]string{"numbers": `["9876543210"]`, "message": "hi"},
		part{field: "file", filename: "blob", contentType: "application/x-made-up", data: []byte("x")},
	)
	rec := f.do(t, http.MethodPost, "/send-media", body, ct)
	if rec.Code != http.StatusBadRequest || decode[errorBody](t, rec).Error != "Unsupported file type" {
		t.Fatalf("unsupported type: %d %s", rec.Code, rec.Body)
	}
	assertStagingEmpty(t, f.dir)
}

func TestSendGroup(t *testing.T) {
	f := newFixture(t, true)
	body, ct := multipartBody(t,
		map[string]string{"groupId": "1203@g.us", "message": "hello"},
		part{field: "file", filename: "pic.jpg", contentType: "image/jpeg", data: []byte("jpg")},
	)
	rec := f.do(t, http.MethodPost, "/send-group-message", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	got := decode[dispatch.GroupResult](t, rec)
	if got.Status != dispatch.StatusSent || got.Group != "1203@g.us" {
		t.Fatalf("result = %+v", got)
	}
	if _, err := time.Parse(dispatch.TimeLayout, got.Time); err != nil {
		t.Fatalf("time %q: %v", got.Time, err)
	}
	if len(f.client.sent) != 1 || f.client.sent[0] != "image:1203@g.us:pic.jpg" {
		t.Fatalf("sent = %v", f.client.sent)
	}
	assertStagingEmpty(t, f.dir)

	body, ct = multipartBody(t, map[string]string{"groupId": "1203@g.us"})
	if rec := f.do(t, http.MethodPost, "/send-group-message", body, ct); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing message: status = %d", rec.Code)
	}
}

func TestSendGroupNotReady(t *testing.T) {
	f := newFixture(t, false)
	body, ct := multipartBody(t, map[string]string{"groupId": "1203@g.us", "message": "hello"})
	if rec := f.do(t, http.MethodPost, "/send-group-message", body, ct); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetGroups(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/get-groups", nil, "")
	if rec.Code != http.StatusInternalServerError || !strings.Contains(decode[errorBody](t, rec).Error, "not initialized") {
		t.Fatalf("not ready: %d %s", rec.Code, rec.Body)
	}

	f.client.chats = []messenger.Chat{
		{ID: "919876543210@s.whatsapp.net", Name: "Asha"},
		{ID: "1203@g.us", Name: "Family"},
	}
	f.handle.Set(f.client)
	rec = f.do(t, http.MethodGet, "/get-groups", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	groups := decode[[]dispatch.Group](t, rec)
	if len(groups) != 1 || groups[0].ID != "1203@g.us" || groups[0].Name != "Family" {
		t.Fatalf("groups = %+v", groups)
	}

	f.client.chats = nil
	rec = f.do(t, http.MethodGet, "/get-groups", nil, "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty listing body = %s", rec.Body)
	}
}

func TestUploadExcel(t *testing.T) {
	f := newFixture(t, true)
	wb := excelize.NewFile()
	_ = wb.SetCellValue("Sheet1", "A1", "9876543210")
	_ = wb.SetCellValue("Sheet1", "A2", "call 9123456789 later")
	var xb bytes.Buffer
	if err := wb.Write(&xb); err != nil {
		t.Fatal(err)
	}

	body, ct := multipartBody(t, nil, part{field: "file", filename: "list.xlsx", contentType: "application/octet-stream", data: xb.Bytes()})
	rec := f.do(t, http.MethodPost, "/upload-excel", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	got := decode[struct {
		Numbers []string `json:"numbers"`
	}](t, rec)
	if strings.Join(got.Numbers, ",") != "9876543210,9123456789" {
		t.Fatalf("numbers = %v", got.Numbers)
	}

	body, ct = multipartBody(t, map[string]string{"x": "y"})
	if rec := f.do(t, http.MethodPost, "/upload-excel", body, ct); rec.Code != http.StatusBadRequest {
		t.Fatalf("no file: status = %d", rec.Code)
	}
}

func TestExportReport(t *testing.T) {
	f := newFixture(t, true)
	payload := `{"results":[{"number":"919876543210","status":"sent","time":"2025-01-02T03:04:05Z"}]}`
	rec := f.do(t, http.MethodPost, "/export-report", bytes.NewBufferString(payload), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "message_report.xlsx") {
		t.Fatalf("disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	wb, err := excelize.OpenReader(rec.Body)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer wb.Close()
	rows, _ := wb.GetRows("Message Report")
	if len(rows) != 2 || rows[1][0] != "919876543210" {
		t.Fatalf("rows = %v", rows)
	}

	rec = f.do(t, http.MethodPost, "/export-report", bytes.NewBufferString(`{"results":[]}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty report: status = %d", rec.Code)
	}
}

func TestSessionAndHealth(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/session", nil, "")
	if st := decode[messenger.SessionStatus](t, rec); st.Ready || st.QR != "2@abc" {
		t.Fatalf("session = %+v", st)
	}
	if rec := f.do(t, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestDispatchHistory(t *testing.T) {
	f := newFixture(t, true)
	if rec := f.do(t, http.MethodGet, "/dispatches", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled history: status = %d", rec.Code)
	}

	hist := &fakeHistory{recs: []dispatch.Record{{
		ID:        "abc",
		Kind:      dispatch.KindNumbers,
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Results: []dispatch.Result{
			{Number: "919876543210", Status: dispatch.StatusSent},
			{Number: "919123456789", Status: dispatch.StatusFailed},
		},
	}}}
	f.srv = New(Config{UploadDir: f.dir}, Deps{Relay: dispatch.NewRelay(f.handle, dispatch.Settings{}, logx.Nop()), History: hist}, logx.Nop())

	rec := f.do(t, http.MethodGet, "/dispatches?limit=5", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := decode[[]dispatchSummary](t, rec)
	if len(list) != 1 || list[0].Sent != 1 || list[0].Failed != 1 {
		t.Fatalf("list = %+v", list)
	}

	rec = f.do(t, http.MethodGet, "/dispatches/abc/report", nil, "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("report: %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec := f.do(t, http.MethodGet, "/dispatches/nope/report", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing report: status = %d", rec.Code)
	}
}

func TestEmbeddedUI(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodGet, "/", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Bulk WhatsApp Sender") {
		t.Fatalf("index: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/script.js", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("script.js: %d", rec.Code)
	}

	off := New(Config{DisableUI: true}, Deps{Relay: dispatch.NewRelay(f.handle, dispatch.Settings{}, logx.Nop())}, logx.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	off.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("disabled UI: %d", rr.Code)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := []struct{ ct, name, want string }{
		{"image/jpeg", "a.jpg", "jpg"},
		{"image/jpeg", "noext", "jpeg"},
		{"video/mp4", "clip.MP4", "mp4"},
		{"video/mp4", "clip.mov", "mp4"},
		{"application/octet-stream", "data.xlsx", "xlsx"},
		{"application/octet-stream", "", "bin"},
		{"", "", ""},
		{"application/x-made-up", "blob", ""},
		{"text/plain; charset=utf-8", "notes", "txt"},
	}
	for _, c := range cases {
		if got := extensionFor(c.ct, c.name); got != c.want {
			t.Fatalf("extensionFor(%q, %q) = %q, want %q", c.ct, c.name, got, c.want)
		}
	}
}

func TestRunServesAndStops(t *testing.T) {
	f := newFixture(t, true)
	f.srv.cfg.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.srv.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + f.srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}
}
