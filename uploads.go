package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxUploadSizeBytes = 5 << 20

var allowedDocumentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// uploadBatchDocumentHandler stores an invoice or certificate against a
// batch. Image uploads get a thumbnail rendered alongside the original.
func uploadBatchDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		ctx := c.Request.Context()
		batchId := c.Param("id")
		if _, err := models.GetBatch(ctx, batchId); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
				return
			}
			config.LogError(logger, "uploads.go", "uploadBatchDocumentHandler", "GetBatch", batchId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load batch"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fileHeader.Size > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 5MB limit"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadSizeBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
			return
		}
		if int64(len(data)) > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 5MB limit"})
			return
		}

		contentType := http.DetectContentType(data)
		if !allowedDocumentTypes[contentType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type " + contentType})
			return
		}

		objectKey := path.Join("batches", batchId, uuid.NewString()+path.Ext(fileHeader.Filename))
		if err := utils.UploadBytesToGCS(ctx, objectKey, data, contentType); err != nil {
			config.LogError(logger, "uploads.go", "uploadBatchDocumentHandler", "UploadBytesToGCS", objectKey, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
			return
		}

		response := gin.H{"object_key": objectKey}
		if strings.HasPrefix(contentType, "image/") {
			thumbKey, err := createThumbnail(ctx, objectKey, data)
			if err != nil {
				// Thumbnail loss is cosmetic; the document is stored.
				config.LogError(logger, "uploads.go", "uploadBatchDocumentHandler", "createThumbnail", objectKey, err)
			} else {
				response["thumbnail_key"] = thumbKey
			}
		}

		userId, _ := utils.GetUserIdFromContext(ctx)
		role, _ := utils.GetUserRoleFromContext(ctx)
		db := config.GetDB()
		err = models.CreateAuditTrail(ctx, db, &models.NewAuditTrail{
			EntityType:      "Batch",
			EntityId:        batchId,
			Action:          "DOCUMENT_UPLOADED",
			FieldName:       "document",
			NewValue:        objectKey,
			PerformedBy:     userId,
			PerformedByRole: role,
		})
		if err != nil {
			config.LogError(logger, "uploads.go", "uploadBatchDocumentHandler", "CreateAuditTrail", batchId, err)
		}

		c.JSON(http.StatusCreated, response)
	}
}

func createThumbnail(ctx context.Context, objectKey string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return "", err
	}

	thumbKey := thumbnailObjectKey(objectKey)
	if err := utils.UploadBytesToGCS(ctx, thumbKey, buf.Bytes(), "image/jpeg"); err != nil {
		return "", err
	}
	return thumbKey, nil
}

func thumbnailObjectKey(objectKey string) string {
	dir := path.Dir(objectKey)
	filename := path.Base(objectKey)
	return path.Join(dir, "thumbnails", filename)
}
