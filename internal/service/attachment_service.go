package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/grievance-api/internal/models"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
	"github.com/noah-isme/grievance-api/pkg/storage"
)

type attachmentStorage interface {
	Save(key string, r io.Reader, maxBytes int64) (int64, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

type attachmentSigner interface {
	Generate(grievanceID, key string) (string, time.Time, error)
	Parse(token string) (string, string, error)
}

type attachmentCaseReader interface {
	GetByID(ctx context.Context, id string) (*models.Grievance, error)
}

// Upload is one file received with a submission.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// AttachmentConfig bounds accepted uploads.
type AttachmentConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	APIPrefix    string
}

// AttachmentLink is a short-lived download URL.
type AttachmentLink struct {
	URL       string    `json:"url"`
	FileName  string    `json:"fileName"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AttachmentDownload is an opened attachment ready to stream.
type AttachmentDownload struct {
	File        *os.File
	FileName    string
	ContentType string
}

// AttachmentService stores submission files and issues signed download links.
type AttachmentService struct {
	storage attachmentStorage
	signer  attachmentSigner
	cases   attachmentCaseReader
	cfg     AttachmentConfig
	mimeSet map[string]struct{}
	logger  *zap.Logger
}

// NewAttachmentService constructs the service with defaults.
func NewAttachmentService(store attachmentStorage, signer attachmentSigner, cases attachmentCaseReader, logger *zap.Logger, cfg AttachmentConfig) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 2 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"application/pdf", "image/png", "image/jpeg", "text/plain"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(mt)] = struct{}{}
	}
	return &AttachmentService{storage: store, signer: signer, cases: cases, cfg: cfg, mimeSet: mimeSet, logger: logger}
}

// Validate checks sizes and types before anything is written.
func (s *AttachmentService) Validate(uploads []Upload) error {
	for _, upload := range uploads {
		if strings.TrimSpace(upload.FileName) == "" || upload.Content == nil {
			return appErrors.Clone(appErrors.ErrValidation, "Attachment file is required")
		}
		if upload.Size > s.cfg.MaxFileSize {
			return s.tooLarge()
		}
		if _, ok := s.mimeSet[normalizeMIME(upload)]; !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("Attachment type not allowed: %s", upload.FileName))
		}
	}
	return nil
}

// Store writes uploads under the grievance and returns their metadata in order.
// Files already written are removed when a later one fails.
func (s *AttachmentService) Store(_ context.Context, grievanceID string, uploads []Upload) ([]models.Attachment, error) {
	if err := s.Validate(uploads); err != nil {
		return nil, err
	}
	saved := make([]models.Attachment, 0, len(uploads))
	for i, upload := range uploads {
		key := fmt.Sprintf("%s/%d-%s", grievanceID, i, safeFileName(upload.FileName))
		size, err := s.storage.Save(key, upload.Content, s.cfg.MaxFileSize)
		if err != nil {
			s.Discard(saved)
			if errors.Is(err, storage.ErrTooLarge) {
				return nil, s.tooLarge()
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
		}
		saved = append(saved, models.Attachment{
			GrievanceID: grievanceID,
			Position:    i,
			FileName:    filepath.Base(upload.FileName),
			ContentType: normalizeMIME(upload),
			SizeBytes:   size,
			StorageKey:  key,
		})
	}
	return saved, nil
}

// Discard removes stored files, logging failures.
func (s *AttachmentService) Discard(attachments []models.Attachment) {
	for _, a := range attachments {
		if err := s.storage.Delete(a.StorageKey); err != nil {
			s.logger.Warn("failed to remove attachment", zap.String("key", a.StorageKey), zap.Error(err))
		}
	}
}

// Link issues a signed download URL for the attachment at position.
func (s *AttachmentService) Link(ctx context.Context, actor *models.Actor, grievanceID string, position int) (*AttachmentLink, error) {
	g, err := s.load(ctx, grievanceID)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, g) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Access denied")
	}
	attachment := findAttachment(g, position)
	if attachment == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "Attachment not found")
	}
	token, expiresAt, err := s.signer.Generate(g.ID, attachment.StorageKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign attachment url")
	}
	return &AttachmentLink{
		URL:       fmt.Sprintf("%s/attachments/download?token=%s", s.cfg.APIPrefix, token),
		FileName:  attachment.FileName,
		ExpiresAt: expiresAt,
	}, nil
}

// Open resolves a signed token to the stored file.
func (s *AttachmentService) Open(ctx context.Context, token string) (*AttachmentDownload, error) {
	if strings.TrimSpace(token) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "token is required")
	}
	grievanceID, key, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrGone, "Download link expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	g, err := s.load(ctx, grievanceID)
	if err != nil {
		return nil, err
	}
	var attachment *models.Attachment
	for i := range g.Attachments {
		if g.Attachments[i].StorageKey == key {
			attachment = &g.Attachments[i]
			break
		}
	}
	if attachment == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "Attachment not found")
	}
	file, err := s.storage.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Attachment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open attachment")
	}
	return &AttachmentDownload{File: file, FileName: attachment.FileName, ContentType: attachment.ContentType}, nil
}

func (s *AttachmentService) load(ctx context.Context, id string) (*models.Grievance, error) {
	g, err := s.cases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Grievance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grievance")
	}
	return g, nil
}

func (s *AttachmentService) tooLarge() error {
	return appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("Attachments must be under %dMB", s.cfg.MaxFileSize/(1024*1024)))
}

func findAttachment(g *models.Grievance, position int) *models.Attachment {
	for i := range g.Attachments {
		if g.Attachments[i].Position == position {
			return &g.Attachments[i]
		}
	}
	return nil
}

func normalizeMIME(upload Upload) string {
	declared := upload.ContentType
	if declared == "" || declared == "application/octet-stream" {
		declared = mime.TypeByExtension(strings.ToLower(filepath.Ext(upload.FileName)))
	}
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
		return strings.ToLower(mediaType)
	}
	return strings.ToLower(declared)
}

func safeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.ReplaceAll(b.String(), "..", "_")
	if strings.Trim(out, "._") == "" {
		return "file"
	}
	return out
}
