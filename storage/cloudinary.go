package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"disputedesk/ticket"
)

// AllowedFormats lists the evidence formats accepted for chat attachments.
var AllowedFormats = []string{"jpg", "jpeg", "png", "pdf", "doc", "docx"}

var ErrEmptyFile = errors.New("storage: empty attachment")

type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// Cloudinary implements ticket.AttachmentStore on the Cloudinary upload API.
// Files land under <folder>/<ticket id>/.
type Cloudinary struct {
	api    uploadAPI
	folder string
	now    func() time.Time
}

func NewCloudinary(cloudName, apiKey, apiSecret, folder string) (*Cloudinary, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("storage: cloudinary credentials not set")
	}
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("storage: init cloudinary: %w", err)
	}
	return newCloudinary(&cld.Upload, folder), nil
}

func newCloudinary(api uploadAPI, folder string) *Cloudinary {
	return &Cloudinary{api: api, folder: folder, now: time.Now}
}

func (c *Cloudinary) Upload(ctx context.Context, file ticket.Attachment, uc ticket.UploadContext) (string, error) {
	if len(file.Data) == 0 {
		return "", ErrEmptyFile
	}
	params := uploader.UploadParams{
		Folder:         path(c.folder, uc.TicketID),
		PublicID:       publicID(file.Filename, c.now()),
		ResourceType:   "auto",
		AllowedFormats: AllowedFormats,
	}

	result, err := c.api.Upload(ctx, bytes.NewReader(file.Data), params)
	if err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", file.Filename, err)
	}
	if result == nil {
		return "", fmt.Errorf("storage: upload %s: empty response", file.Filename)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("storage: upload %s: %s", file.Filename, result.Error.Message)
	}
	if result.SecureURL != "" {
		return result.SecureURL, nil
	}
	return result.URL, nil
}

func path(folder, ticketID string) string {
	if folder == "" {
		return ticketID
	}
	return strings.TrimSuffix(folder, "/") + "/" + ticketID
}

// publicID derives a unique, extension-less name from the original filename.
func publicID(filename string, now time.Time) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		base = "file"
	}
	return fmt.Sprintf("%d_%s", now.UnixNano(), base)
}
