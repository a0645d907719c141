// Package dispatch relays one message (and optional attachment) to a list of
// numbers or a single group, recording one outcome per target.
package dispatch

import (
	"context"
	"errors"
	"time"

	"bulksender/internal/messenger"
)

const (
	DefaultAttachmentDelay = 10 * time.Second
	DefaultMaxVideoBytes   = 64 << 20

	// TimeLayout renders timestamps in group responses and reports.
	TimeLayout = "2006-01-02 15:04:05"

	UnnamedGroup = "Unnamed Group"
)

// ImageExtensions go through the base64 image path on group sends.
var ImageExtensions = []string{"gif", "png", "jpg", "jpeg", "webp"}

var (
	ErrInvalidNumbers = errors.New("invalid numbers format")
	ErrNoNumbers      = errors.New("numbers must be a valid array")
	ErrMissingGroup   = errors.New("group id and message are required")
	ErrNotConnected   = errors.New("whatsapp client is not connected")
	ErrVideoTooLarge  = errors.New("video file too large")
	ErrBadNumber      = errors.New("number must contain digits only")
)

type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Result is the outcome for one target, in input order.
type Result struct {
	Number string    `json:"number"`
	Status Status    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Settings are the hot-reloadable relay knobs.
type Settings struct {
	CountryCode     string
	AttachmentDelay time.Duration
	MaxVideoBytes   int64
}

// Attachment is an uploaded file staged on disk. The relay owns it once handed
// over and removes it when the dispatch ends.
type Attachment struct {
	// Path carries the extension derived from the upload's content type.
	Path string
	// Name is what recipients see. Empty means the base name of Path.
	Name string
	Size int64
}

type Request struct {
	Numbers []string
	Message string
	File    *Attachment
}

type GroupRequest struct {
	GroupID string
	Message string
	File    *Attachment
}

type GroupResult struct {
	Status Status `json:"status"`
	Group  string `json:"group"`
	Time   string `json:"time"`
}

type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Kind string

const (
	KindNumbers Kind = "numbers"
	KindGroup   Kind = "group"
)

// Record is a finished dispatch as handed to a Recorder.
type Record struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Message    string    `json:"message"`
	Attachment string    `json:"attachment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Results    []Result  `json:"results"`
}

// Summary counts a record's outcomes.
func (r Record) Summary() (sent, failed int) {
	for _, res := range r.Results {
		if res.Status == StatusSent {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

// Recorder persists finished dispatches. A nil Recorder disables history.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// ClientSource yields the current automation client, or messenger.ErrNotReady.
type ClientSource interface {
	Client() (messenger.Client, error)
}
