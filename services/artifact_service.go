package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"permit_flow_app_go/models"

	"gorm.io/gorm"
)

// MaxSignedPDFSize limits uploaded signed copies
const MaxSignedPDFSize = 10 << 20

// DocumentURLExpiry is how long a presigned document link stays valid
const DocumentURLExpiry = 15 * time.Minute

// Errors returned for signed copy uploads and downloads
var (
	ErrInvalidUpload    = errors.New("only PDF files up to 10MB are accepted")
	ErrDocumentNotReady = errors.New("document has not been generated")
)

// ArtifactGenerator rebuilds and removes the printable documents of a permit
type ArtifactGenerator interface {
	Regenerate(ctx context.Context, permitID string) error
	RemoveDocuments(ctx context.Context, permit *models.Permit) error
}

// ArtifactService renders papeletas to PDF and keeps them in storage
type ArtifactService struct {
	DB       *gorm.DB
	Renderer DocumentRenderer
	Storage  StorageProvider
	AppURL   string
	Location *time.Location
	Now      func() time.Time
}

func (a *ArtifactService) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Regenerate renders the current permit and overwrites its stored PDF
func (a *ArtifactService) Regenerate(ctx context.Context, permitID string) error {
	permit, err := GetPermit(a.DB.WithContext(ctx), permitID)
	if err != nil {
		return err
	}

	htmlContent, err := RenderPermitHTML(permit, a.AppURL, a.Location, a.now())
	if err != nil {
		return err
	}

	pdf, err := a.Renderer.Render(ctx, htmlContent)
	if err != nil {
		return err
	}

	key := PermitDocumentKey(permit.ID, permit.Number())
	if _, err := a.Storage.UploadReader(ctx, bytes.NewReader(pdf), key, "application/pdf", int64(len(pdf))); err != nil {
		return err
	}

	// pdf_path is not part of the signed state, so the version is left alone
	if err := a.DB.WithContext(ctx).Model(&models.Permit{}).Where("id = ?", permit.ID).
		UpdateColumn("pdf_path", key).Error; err != nil {
		return fmt.Errorf("failed to record document path: %w", err)
	}

	log.Printf("[PDF] Generated %s (%d bytes)", key, len(pdf))
	return nil
}

// RemoveDocuments deletes the generated papeleta and the signed copy of
// permit from storage
func (a *ArtifactService) RemoveDocuments(ctx context.Context, permit *models.Permit) error {
	var errs []error
	for _, key := range []string{permit.PDFPath, permit.SignedPDFPath} {
		if key == "" {
			continue
		}
		if err := a.Storage.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
			continue
		}
		log.Printf("[PDF] Deleted %s", key)
	}
	return errors.Join(errs...)
}

// Document is an opened artifact
type Document struct {
	Body        io.ReadCloser
	ContentType string
	FileName    string
}

// OpenDocument returns the generated papeleta, or the uploaded signed copy
// when signed is true. A missing generated PDF is rendered on demand.
func (a *ArtifactService) OpenDocument(ctx context.Context, permitID string, signed bool, actor AuditContext) (*Document, error) {
	permit, key, err := a.documentKey(ctx, permitID, signed)
	if err != nil {
		return nil, err
	}

	body, contentType, err := a.Storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	a.logDownload(permit, key, actor)
	return &Document{Body: body, ContentType: contentType, FileName: fmt.Sprintf("papeleta_%s.pdf", permit.Number())}, nil
}

// DocumentURL returns a temporary link to the same document OpenDocument
// would stream, valid for DocumentURLExpiry
func (a *ArtifactService) DocumentURL(ctx context.Context, permitID string, signed bool, actor AuditContext) (string, error) {
	permit, key, err := a.documentKey(ctx, permitID, signed)
	if err != nil {
		return "", err
	}

	url, err := a.Storage.GetSignedURL(ctx, key, DocumentURLExpiry)
	if err != nil {
		return "", err
	}

	a.logDownload(permit, key, actor)
	return url, nil
}

// documentKey resolves the storage key of the papeleta or its signed copy,
// rendering the papeleta first when it was never generated
func (a *ArtifactService) documentKey(ctx context.Context, permitID string, signed bool) (*models.Permit, string, error) {
	permit, err := GetPermit(a.DB.WithContext(ctx), permitID)
	if err != nil {
		return nil, "", err
	}

	key := permit.PDFPath
	if signed {
		key = permit.SignedPDFPath
		if key == "" {
			return nil, "", ErrDocumentNotReady
		}
	} else if key == "" {
		if err := a.Regenerate(ctx, permitID); err != nil {
			return nil, "", err
		}
		key = PermitDocumentKey(permit.ID, permit.Number())
	}
	return permit, key, nil
}

func (a *ArtifactService) logDownload(permit *models.Permit, key string, actor AuditContext) {
	LogAuditEvent(a.DB, actor, AuditEntry{
		Action:       models.AuditActionDownload,
		ResourceType: "Permit",
		ResourceID:   permit.ID,
		ResourceName: permit.Number(),
		Description:  "Downloaded " + filepath.Base(key),
	})
}

// UploadSignedPDF stores a signed copy supplied by the requester and
// replaces any previous one
func (a *ArtifactService) UploadSignedPDF(ctx context.Context, permitID string, file *multipart.FileHeader, actor AuditContext) (*models.Permit, error) {
	if file == nil || file.Size <= 0 || file.Size > MaxSignedPDFSize ||
		strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
		return nil, ErrInvalidUpload
	}

	permit, err := GetPermit(a.DB.WithContext(ctx), permitID)
	if err != nil {
		return nil, err
	}

	key := SignedPermitKey(permit.ID, file.Filename)
	if _, err := a.Storage.Upload(ctx, file, key); err != nil {
		return nil, err
	}

	err = a.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Permit{}).Where("id = ?", permit.ID).
			UpdateColumn("signed_pdf_path", key).Error; err != nil {
			return err
		}
		return RecordAuditEvent(tx, actor, AuditEntry{
			Action:       models.AuditActionUpload,
			ResourceType: "Permit",
			ResourceID:   permit.ID,
			ResourceName: permit.Number(),
			Description:  "Uploaded signed copy " + file.Filename,
			OldValues:    map[string]string{"signed_pdf_path": permit.SignedPDFPath},
			NewValues:    map[string]string{"signed_pdf_path": key},
		})
	})
	if err != nil {
		// Don't leave an orphaned object behind
		_ = a.Storage.Delete(ctx, key)
		return nil, err
	}

	if permit.SignedPDFPath != "" {
		if err := a.Storage.Delete(ctx, permit.SignedPDFPath); err != nil {
			log.Printf("[WARNING] Failed to delete previous signed copy %s: %v", permit.SignedPDFPath, err)
		}
	}

	return GetPermit(a.DB.WithContext(ctx), permitID)
}
