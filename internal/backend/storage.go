package backend

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/attach"
)

const attachmentBucket = "chat-attachments"

// UploadAttachment validates the local file against the attachment policy and
// uploads it to the object store under a random key. Policy violations are
// rejected before any bytes leave the machine.
func (c *Client) UploadAttachment(ctx context.Context, filePath string) (*attach.Upload, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat attachment: %w", err)
	}

	ext := filepath.Ext(filePath)
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if err := attach.Validate(mimeType, info.Size()); err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	objectName := uuid.NewString() + ext
	objectPath := "/storage/v1/object/" + attachmentBucket + "/attachments/" + objectName

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+objectPath, f)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mimeType)
	req.ContentLength = info.Size()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload attachment: %s", readErrorSnippet(resp))
	}

	c.logger.Debug("attachment uploaded",
		zap.String("object", objectName),
		zap.String("mime", mimeType),
		zap.Int64("size", info.Size()))

	return &attach.Upload{
		URL:  c.baseURL + "/storage/v1/object/public/" + attachmentBucket + "/attachments/" + objectName,
		Name: filepath.Base(filePath),
		Type: mimeType,
		Size: info.Size(),
	}, nil
}
