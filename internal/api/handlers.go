package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"bulksender/internal/dispatch"
	"bulksender/internal/messenger"
	"bulksender/internal/sheet"
	"bulksender/internal/storage"
	logx "bulksender/pkg/logx"
)

const multipartMemory = 32 << 20

// form holds the text fields of a dispatch request, read from either a
// multipart form or a JSON body.
type form struct {
	Numbers json.RawMessage `json:"numbers"`
	Message string          `json:"message"`
	GroupID string          `json:"groupId"`
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

// readForm parses the body. The caller must call cleanup.
func (s *Server) readForm(w http.ResponseWriter, r *http.Request) (form, func(), error) {
	cleanup := func() {}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	if isJSON(r) {
		var f form
		if err := render.DecodeJSON(r.Body, &f); err != nil {
			return form{}, cleanup, err
		}
		return f, cleanup, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return form{}, cleanup, err
	}
	if r.MultipartForm != nil {
		mf := r.MultipartForm
		cleanup = func() { _ = mf.RemoveAll() }
	}
	f := form{Message: r.FormValue("message"), GroupID: r.FormValue("groupId")}
	if v, ok := r.Form["numbers"]; ok && len(v) > 0 {
		f.Numbers = json.RawMessage(v[0])
	}
	return f, cleanup, nil
}

func bodyError(w http.ResponseWriter, r *http.Request, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, "invalid request body")
}

// rawNumbers accepts the numbers array itself, or a JSON string wrapping it
// (the form encoding).
func rawNumbers(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if json.Unmarshal(trimmed, &inner) == nil {
			return inner
		}
	}
	return string(trimmed)
}

func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	f, cleanup, err := s.readForm(w, r)
	defer cleanup()
	if err != nil {
		bodyError(w, r, err)
		return
	}

	numbers, err := dispatch.ParseNumbers(rawNumbers(f.Numbers))
	switch {
	case errors.Is(err, dispatch.ErrInvalidNumbers):
		writeError(w, r, http.StatusBadRequest, "Invalid numbers format")
		return
	case err != nil:
		writeError(w, r, http.StatusBadRequest, "Numbers must be a valid array.")
		return
	}

	file, err := s.stageUpload(r, "file")
	if err != nil {
		s.uploadError(w, r, err)
		return
	}

	results, err := s.deps.Relay.SendMedia(r.Context(), dispatch.Request{Numbers: numbers, Message: f.Message, File: file})
	if err != nil {
		if errors.Is(err, dispatch.ErrNoNumbers) {
			writeError(w, r, http.StatusBadRequest, "Numbers must be a valid array.")
			return
		}
		s.log.Error("dispatch failed", logx.Err(err), logx.String("req_id", middleware.GetReqID(r.Context())))
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleSendGroup(w http.ResponseWriter, r *http.Request) {
	f, cleanup, err := s.readForm(w, r)
	defer cleanup()
	if err != nil {
		bodyError(w, r, err)
		return
	}
	if strings.TrimSpace(f.GroupID) == "" || strings.TrimSpace(f.Message) == "" {
		writeError(w, r, http.StatusBadRequest, "Group ID and message are required!")
		return
	}

	file, err := s.stageUpload(r, "file")
	if err != nil {
		s.uploadError(w, r, err)
		return
	}

	res, err := s.deps.Relay.SendGroup(r.Context(), dispatch.GroupRequest{GroupID: f.GroupID, Message: f.Message, File: file})
	switch {
	case errors.Is(err, dispatch.ErrMissingGroup):
		writeError(w, r, http.StatusBadRequest, "Group ID and message are required!")
	case errors.Is(err, messenger.ErrNotReady):
		writeError(w, r, http.StatusInternalServerError, "WhatsApp client is not initialized yet.")
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "Failed to send message: "+err.Error())
	default:
		writeJSON(w, r, http.StatusOK, res)
	}
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.deps.Relay.Groups(r.Context())
	switch {
	case errors.Is(err, messenger.ErrNotReady):
		writeError(w, r, http.StatusInternalServerError, "WhatsApp client is not initialized yet.")
	case err != nil:
		s.log.Warn("group listing failed", logx.Err(err))
		writeError(w, r, http.StatusInternalServerError, "Failed to fetch groups.")
	default:
		writeJSON(w, r, http.StatusOK, groups)
	}
}

func (s *Server) handleUploadExcel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		bodyError(w, r, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Please select an Excel file.")
		return
	}
	defer f.Close()

	numbers, err := sheet.Import(hdr.Filename, f)
	if err != nil {
		s.log.Debug("spreadsheet import failed", logx.String("file", hdr.Filename), logx.Err(err))
		writeError(w, r, http.StatusBadRequest, "Failed to read spreadsheet: "+err.Error())
		return
	}
	s.log.Info("spreadsheet imported", logx.String("file", hdr.Filename), logx.Int("numbers", len(numbers)))
	writeJSON(w, r, http.StatusOK, map[string]any{"numbers": numbers})
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	var body struct {
		Results []dispatch.Result `json:"results"`
	}
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		bodyError(w, r, err)
		return
	}
	if len(body.Results) == 0 {
		writeError(w, r, http.StatusBadRequest, "No report available to download.")
		return
	}
	s.writeReport(w, r, sheet.ReportFilename, body.Results)
}

func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, filename string, results []dispatch.Result) {
	var buf bytes.Buffer
	if err := sheet.WriteReport(&buf, results); err != nil {
		s.log.Error("report render failed", logx.Err(err))
		writeError(w, r, http.StatusInternalServerError, "failed to render report")
		return
	}
	w.Header().Set("Content-Type", sheet.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, &buf)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var st messenger.SessionStatus
	if s.deps.Session != nil {
		st = s.deps.Session.Status()
	}
	writeJSON(w, r, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

type dispatchSummary struct {
	ID         string        `json:"id"`
	Kind       dispatch.Kind `json:"kind"`
	Message    string        `json:"message"`
	Attachment string        `json:"attachment,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
}

func (s *Server) handleDispatches(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, r, http.StatusNotFound, "dispatch history is disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		s.log.Warn("history read failed", logx.Err(err))
		writeError(w, r, http.StatusInternalServerError, "failed to read dispatch history")
		return
	}
	out := make([]dispatchSummary, 0, len(recs))
	for _, rec := range recs {
		sent, failed := rec.Summary()
		out = append(out, dispatchSummary{
			ID:         rec.ID,
			Kind:       rec.Kind,
			Message:    rec.Message,
			Attachment: rec.Attachment,
			CreatedAt:  rec.CreatedAt,
			Sent:       sent,
			Failed:     failed,
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleDispatchReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, r, http.StatusNotFound, "dispatch history is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := s.deps.History.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "dispatch not found")
			return
		}
		s.log.Warn("history read failed", logx.String("dispatch", id), logx.Err(err))
		writeError(w, r, http.StatusInternalServerError, "failed to read dispatch history")
		return
	}
	s.writeReport(w, r, "message_report_"+rec.CreatedAt.Format("20060102_150405")+".xlsx", rec.Results)
}

func (s *Server) uploadError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errUnsupportedType) {
		writeError(w, r, http.StatusBadRequest, "Unsupported file type")
		return
	}
	s.log.Error("upload staging failed", logx.Err(err), logx.String("req_id", middleware.GetReqID(r.Context())))
	writeError(w, r, http.StatusInternalServerError, "failed to store upload")
}
