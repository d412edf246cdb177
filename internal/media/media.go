// Package media turns local files into message attachments.
package media

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/remote"
)

// Media types understood by the backend.
const (
	TypeImage = "image"
	TypeVideo = "video"
	TypeAudio = "audio"
	TypeFile  = "file"
)

// ErrNotRegular is returned for directories, devices and other non-files.
var ErrNotRegular = errors.New("not a regular file")

// Attachment is one resolved file: the upload part sent to the backend and
// the descriptor shown in the pending message until the server confirms.
type Attachment struct {
	Upload remote.File
	Media  chat.Media
}

// Resolve stats and sniffs every path. It fails on the first path that is
// missing or not a regular file.
func Resolve(paths []string) ([]Attachment, error) {
	out := make([]Attachment, 0, len(paths))
	for _, p := range paths {
		a, err := resolve(p)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func resolve(path string) (Attachment, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Attachment{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Attachment{}, fmt.Errorf("resolve %s: %w", path, ErrNotRegular)
	}

	contentType, err := detectContentType(abs)
	if err != nil {
		return Attachment{}, fmt.Errorf("resolve %s: %w", path, err)
	}

	return Attachment{
		Upload: remote.File{
			Name:        filepath.Base(abs),
			ContentType: contentType,
			Open:        func() (io.ReadCloser, error) { return os.Open(abs) },
		},
		Media: chat.Media{
			URL:  (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(),
			Type: Kind(contentType),
		},
	}, nil
}

// detectContentType prefers the extension and falls back to sniffing the
// first 512 bytes.
func detectContentType(path string) (string, error) {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}

// Kind maps a MIME type to a media type.
func Kind(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return TypeImage
	case strings.HasPrefix(mediaType, "video/"):
		return TypeVideo
	case strings.HasPrefix(mediaType, "audio/"):
		return TypeAudio
	default:
		return TypeFile
	}
}

// Uploads returns the upload parts of attachments.
func Uploads(attachments []Attachment) []remote.File {
	out := make([]remote.File, len(attachments))
	for i, a := range attachments {
		out[i] = a.Upload
	}
	return out
}

// Descriptors returns the display descriptors of attachments.
func Descriptors(attachments []Attachment) []chat.Media {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]chat.Media, len(attachments))
	for i, a := range attachments {
		out[i] = a.Media
	}
	return out
}
