// Package attachments turns operator files and links into message attachments.
package attachments

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"helpdesk/internal/content"
	"helpdesk/internal/models"
)

const DefaultMaxSize = 10 << 20

var (
	ErrUnsupportedType = errors.New("unsupported file type, only images and PDF documents are accepted")
	ErrTooLarge        = errors.New("file too large")
	ErrInvalidName     = errors.New("invalid file name")
	ErrInvalidLink     = errors.New("invalid link")
)

// Loader reads attachments from the uploads directory.
type Loader struct {
	root    string
	maxSize int64
	log     *slog.Logger
}

func NewLoader(root string, maxSize int64, logger *slog.Logger) (*Loader, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{root: root, maxSize: maxSize, log: logger.With("component", "attachments")}, nil
}

func (l *Loader) path(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(l.root, name), nil
}

// Store writes r into the uploads directory under a fresh name derived from
// filename and returns that name. Oversized or unsupported content is rejected
// and nothing is kept.
func (l *Loader) Store(r io.Reader, filename string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + filename))
	if base == "/" || base == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	name := uuid.NewString()[:8] + "-" + base

	tmp, err := os.CreateTemp(l.root, "upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name()) // no-op after a successful rename
	}()

	n, err := io.Copy(tmp, io.LimitReader(r, l.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to write data: %w", err)
	}
	if n > l.maxSize {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, l.maxSize)
	}

	head := make([]byte, 261)
	if _, err := tmp.ReadAt(head, 0); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read back upload: %w", err)
	}
	if _, _, err := classify(head); err != nil {
		return "", err
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(l.root, name)); err != nil {
		return "", fmt.Errorf("failed to rename file: %w", err)
	}
	return name, nil
}

// Load reads name from the uploads directory and returns it as an inline attachment.
func (l *Loader) Load(name string) (models.Attachment, error) {
	path, err := l.path(name)
	if err != nil {
		return models.Attachment{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to open file %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to stat file %s: %w", name, err)
	}
	if info.Size() > l.maxSize {
		return models.Attachment{}, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrTooLarge, name, info.Size(), l.maxSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, l.maxSize+1))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	if int64(len(data)) > l.maxSize {
		return models.Attachment{}, fmt.Errorf("%w: %s", ErrTooLarge, name)
	}

	kind, mime, err := classify(data)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("%s: %w", name, err)
	}

	return models.Attachment{
		Type:       kind,
		Filename:   filepath.Base(name),
		MimeType:   mime,
		Size:       int64(len(data)),
		Base64Data: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// LoadAsync loads name in the background and calls done exactly once.
func (l *Loader) LoadAsync(name string, done func(models.Attachment, error)) {
	go func() {
		a, err := l.Load(name)
		if err != nil {
			l.log.Warn("attachment load failed", "file", name, "error", err)
		}
		done(a, err)
	}()
}

func classify(data []byte) (models.AttachmentType, string, error) {
	if len(data) == 0 {
		return "", "", ErrUnsupportedType
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "", "", ErrUnsupportedType
	}
	switch {
	case filetype.IsImage(data):
		return models.AttachmentTypeImage, kind.MIME.Value, nil
	case kind.Extension == "pdf":
		return models.AttachmentTypePDF, kind.MIME.Value, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, kind.MIME.Value)
}

// Link builds a link attachment. text defaults to the URL itself.
func Link(rawURL, text string) (models.Attachment, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !content.IsWebURL(rawURL) {
		return models.Attachment{}, fmt.Errorf("%w: %q", ErrInvalidLink, rawURL)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = rawURL
	}
	return models.Attachment{
		Type:     models.AttachmentTypeLink,
		URL:      rawURL,
		LinkText: text,
	}, nil
}
