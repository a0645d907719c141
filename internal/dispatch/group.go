package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	logx "bulksender/pkg/logx"
)

// SendGroup sends req to one group chat. Images in ImageExtensions are sent
// through the base64 image path, other files as documents.
func (r *Relay) SendGroup(ctx context.Context, req GroupRequest) (GroupResult, error) {
	defer r.discard(req.File)
	if strings.TrimSpace(req.GroupID) == "" || strings.TrimSpace(req.Message) == "" {
		return GroupResult{}, ErrMissingGroup
	}
	stamp := r.now()
	id := uuid.NewString()
	log := r.log.With(logx.String("dispatch", id), logx.String("group", req.GroupID))

	err := r.sendGroup(ctx, req)
	res := Result{Number: req.GroupID, Status: StatusSent, Time: r.now()}
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		log.Warn("group send failed", logx.Err(err))
	} else {
		log.Info("group message sent", logx.Bool("attachment", req.File != nil))
	}
	r.record(ctx, Record{
		ID:         id,
		Kind:       KindGroup,
		Message:    req.Message,
		Attachment: attachmentName(req.File),
		CreatedAt:  stamp,
		Results:    []Result{res},
	})
	if err != nil {
		return GroupResult{}, err
	}
	return GroupResult{Status: StatusSent, Group: req.GroupID, Time: stamp.Format(TimeLayout)}, nil
}

func (r *Relay) sendGroup(ctx context.Context, req GroupRequest) error {
	cl, err := r.clients.Client()
	if err != nil {
		return err
	}
	if !cl.IsConnected(ctx) {
		return ErrNotConnected
	}
	if req.File == nil {
		return cl.SendText(ctx, req.GroupID, req.Message)
	}
	name := attachmentName(req.File)
	if isImage(req.File.Path) {
		data, err := os.ReadFile(req.File.Path)
		if err != nil {
			return fmt.Errorf("encode image: %w", err)
		}
		return cl.SendImageFromBase64(ctx, req.GroupID, base64.StdEncoding.EncodeToString(data), name, req.Message)
	}
	return cl.SendFile(ctx, req.GroupID, req.File.Path, name, req.Message)
}
