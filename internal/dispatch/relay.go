package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bulksender/internal/messenger"
	"bulksender/internal/recipient"
	logx "bulksender/pkg/logx"
)

// Relay sends dispatches one target at a time. It does not serialize
// concurrent calls: two requests may interleave on the same session.
type Relay struct {
	clients ClientSource
	log     logx.Logger

	mu       sync.RWMutex
	settings Settings
	rec      Recorder

	now func() time.Time
}

func NewRelay(clients ClientSource, s Settings, log logx.Logger) *Relay {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Relay{clients: clients, log: log, settings: withDefaults(s), now: time.Now}
}

func withDefaults(s Settings) Settings {
	if strings.TrimSpace(s.CountryCode) == "" {
		s.CountryCode = recipient.DefaultCountryCode
	}
	if s.AttachmentDelay < 0 {
		s.AttachmentDelay = 0
	}
	if s.MaxVideoBytes <= 0 {
		s.MaxVideoBytes = DefaultMaxVideoBytes
	}
	return s
}

// Apply swaps the settings used by dispatches that start afterwards.
func (r *Relay) Apply(s Settings) {
	s = withDefaults(s)
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
	r.log.Debug("relay settings applied",
		logx.String("country_code", s.CountryCode),
		logx.Duration("attachment_delay", s.AttachmentDelay),
		logx.Int64("max_video_bytes", s.MaxVideoBytes),
	)
}

func (r *Relay) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// SetRecorder enables dispatch history. nil turns it off.
func (r *Relay) SetRecorder(rec Recorder) {
	r.mu.Lock()
	r.rec = rec
	r.mu.Unlock()
}

// SendMedia sends req to every number in order and returns one result per number.
// The attachment, if any, is removed once the loop is done, on every path.
func (r *Relay) SendMedia(ctx context.Context, req Request) ([]Result, error) {
	defer r.discard(req.File)
	if len(req.Numbers) == 0 {
		return nil, ErrNoNumbers
	}

	// Snapshot so a reload mid-batch does not change the rules halfway.
	r.mu.RLock()
	s := r.settings
	r.mu.RUnlock()

	id := uuid.NewString()
	start := r.now()
	log := r.log.With(logx.String("dispatch", id))
	log.Info("dispatch started", logx.Int("total", len(req.Numbers)), logx.Bool("attachment", req.File != nil))

	var size int64
	if req.File != nil {
		size = attachmentSize(req.File)
	}

	results := make([]Result, 0, len(req.Numbers))
	failed := 0
	for _, raw := range req.Numbers {
		// Digits are checked before the prefix goes on, so "" never becomes the bare country code.
		number := strings.TrimSpace(raw)
		var err error
		if !digitsOnly(number) {
			err = ErrBadNumber
		} else {
			number = recipient.Normalize(number, s.CountryCode)
			r.touch(req.File)
			err = r.sendOne(ctx, s, number, req, size)
		}
		res := Result{Number: number, Status: StatusSent, Time: r.now()}
		if err != nil {
			failed++
			res.Status = StatusFailed
			res.Error = err.Error()
			log.Warn("send failed", logx.String("number", number), logx.Err(err))
		} else {
			log.Debug("sent", logx.String("number", number))
		}
		results = append(results, res)
	}

	fields := []logx.Field{
		logx.Int("total", len(results)),
		logx.Int("failed", failed),
		logx.Duration("dur", time.Since(start)),
	}
	if failed > 0 {
		log.Warn("dispatch finished with failures", fields...)
	} else {
		log.Info("dispatch finished", fields...)
	}

	r.record(ctx, Record{
		ID:         id,
		Kind:       KindNumbers,
		Message:    req.Message,
		Attachment: attachmentName(req.File),
		CreatedAt:  start,
		Results:    results,
	})
	return results, nil
}

func (r *Relay) sendOne(ctx context.Context, s Settings, number string, req Request, size int64) error {
	if !digitsOnly(number) {
		return ErrBadNumber
	}
	if req.File != nil && isVideo(req.File.Path) && size > s.MaxVideoBytes {
		return fmt.Errorf("%w, max %d MB", ErrVideoTooLarge, s.MaxVideoBytes>>20)
	}
	cl, err := r.clients.Client()
	if err != nil {
		return err
	}
	if !cl.IsConnected(ctx) {
		return ErrNotConnected
	}
	dest := messenger.UserDestination(number)
	if req.File == nil {
		return cl.SendText(ctx, dest, req.Message)
	}
	if err := wait(ctx, s.AttachmentDelay); err != nil {
		return err
	}
	return cl.SendFile(ctx, dest, req.File.Path, attachmentName(req.File), req.Message)
}

// Groups lists the session's group chats, fetched fresh each call.
func (r *Relay) Groups(ctx context.Context) ([]Group, error) {
	cl, err := r.clients.Client()
	if err != nil {
		return nil, err
	}
	chats, err := cl.GetAllChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	groups := make([]Group, 0)
	for _, c := range chats {
		if !c.Group() {
			continue
		}
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = UnnamedGroup
		}
		groups = append(groups, Group{ID: c.ID, Name: name})
	}
	r.log.Debug("groups listed", logx.Int("chats", len(chats)), logx.Int("groups", len(groups)))
	return groups, nil
}

func (r *Relay) record(ctx context.Context, rec Record) {
	r.mu.RLock()
	recorder := r.rec
	r.mu.RUnlock()
	if recorder == nil {
		return
	}
	// The response is already decided; a client that went away must not lose the entry.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := recorder.Record(ctx, rec); err != nil {
		r.log.Warn("dispatch history write failed", logx.String("dispatch", rec.ID), logx.Err(err))
	}
}

// touch refreshes the staged file's mtime so the janitor's stale-upload
// sweep never removes an attachment a long dispatch is still sending.
func (r *Relay) touch(a *Attachment) {
	if a == nil || a.Path == "" {
		return
	}
	now := r.now()
	if err := os.Chtimes(a.Path, now, now); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.log.Debug("staged upload mtime not refreshed", logx.String("path", a.Path), logx.Err(err))
	}
}

func (r *Relay) discard(a *Attachment) {
	if a == nil || a.Path == "" {
		return
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.log.Warn("staged upload not removed", logx.String("path", a.Path), logx.Err(err))
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func attachmentSize(a *Attachment) int64 {
	if a.Size > 0 {
		return a.Size
	}
	fi, err := os.Stat(a.Path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func attachmentName(a *Attachment) string {
	if a == nil {
		return ""
	}
	if a.Name != "" {
		return a.Name
	}
	return filepath.Base(a.Path)
}

func extOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func isVideo(path string) bool { return extOf(path) == "mp4" }

func isImage(path string) bool {
	ext := extOf(path)
	for _, e := range ImageExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
