package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-support/internal/api/dto"
	"github.com/spec-kit/marketplace-support/internal/storage"
	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// UploadsHandler stores ticket attachments and refund evidence.
type UploadsHandler struct {
	storage *storage.FileStorage
	logger  *zap.Logger
}

// NewUploadsHandler constructs handler.
func NewUploadsHandler(fileStorage *storage.FileStorage, logger *zap.Logger) *UploadsHandler {
	return &UploadsHandler{storage: fileStorage, logger: logger}
}

// Upload POST /uploads with a multipart "file" field.
func (h *UploadsHandler) Upload(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	header, err := c.FormFile("file")
	if err != nil {
		return apperrors.NewValidationError("file field required", nil)
	}
	src, err := header.Open()
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	defer src.Close()

	upload, err := h.storage.Save(c.UserContext(), principal.UserID, header.Filename, src)
	switch {
	case errors.Is(err, storage.ErrEmptyFile):
		return apperrors.NewValidationError("file is empty", nil)
	case errors.Is(err, storage.ErrUnsupportedType):
		return apperrors.NewValidationError("unsupported file type", map[string]any{"allowed": "jpeg, png, gif, webp, pdf"})
	case errors.Is(err, storage.ErrFileTooLarge):
		return apperrors.NewValidationError("file too large", nil)
	case err != nil:
		return apperrors.NewInternalError(err)
	}

	h.logger.Info("upload stored",
		zap.String("user_id", principal.UserID),
		zap.String("storage_key", upload.Key),
		zap.String("mime_type", upload.MimeType),
		zap.Int64("size_bytes", upload.SizeBytes))
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.UploadResponse{
		StorageKey: upload.Key,
		FileName:   upload.FileName,
		MimeType:   upload.MimeType,
		SizeBytes:  upload.SizeBytes,
	}})
}
