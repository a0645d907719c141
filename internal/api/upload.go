package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"bulksender/internal/dispatch"
)

var errUnsupportedType = errors.New("unsupported file type")

// preferredExt picks one extension where the mime table lists several.
var preferredExt = map[string]string{
	"image/jpeg":      "jpeg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
	"audio/mpeg":      "mp3",
	"audio/ogg":       "ogg",
	"application/pdf": "pdf",
	"text/plain":      "txt",
	"text/csv":        "csv",
	"application/zip": "zip",

	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       "xlsx",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
}

// extensionFor derives the staged file's extension from the part's content type.
// The client's filename extension wins when it agrees with that type.
// It returns "" when the type has no known extension.
func extensionFor(contentType, filename string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = ""
	}
	mt = strings.ToLower(mt)
	nameExt := strings.ToLower(filepath.Ext(filename))

	if mt == "" || mt == "application/octet-stream" {
		if nameExt != "" {
			return strings.TrimPrefix(nameExt, ".")
		}
		if mt == "" {
			return ""
		}
		return "bin"
	}
	if nameExt != "" {
		if t, _, err := mime.ParseMediaType(mime.TypeByExtension(nameExt)); err == nil && strings.EqualFold(t, mt) {
			return strings.TrimPrefix(nameExt, ".")
		}
	}
	if ext, ok := preferredExt[mt]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return ""
}

// stageUpload copies the named multipart file into the upload dir.
// It returns (nil, nil) when the request carries no such file.
func (s *Server) stageUpload(r *http.Request, field string) (*dispatch.Attachment, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ext := extensionFor(hdr.Header.Get("Content-Type"), hdr.Filename)
	if ext == "" {
		return nil, errUnsupportedType
	}
	return s.saveStaged(f, hdr, ext)
}

func (s *Server) saveStaged(src multipart.File, hdr *multipart.FileHeader, ext string) (*dispatch.Attachment, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare upload dir: %w", err)
	}
	path := filepath.Join(s.cfg.UploadDir, uuid.NewString()+"."+ext)
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	return &dispatch.Attachment{Path: path, Name: displayName(hdr.Filename, ext), Size: n}, nil
}

// displayName is what recipients see: the client's base name with the staged extension.
func displayName(filename, ext string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	if strings.EqualFold(strings.TrimPrefix(filepath.Ext(base), "."), ext) {
		return base
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + "." + ext
}
