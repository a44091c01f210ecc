package ticket

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Attachment is one file submitted alongside a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UploadContext tells the attachment store where a file belongs.
type UploadContext struct {
	TicketID string
	SenderID string
}

// AttachmentStore persists a file and returns its public URL.
type AttachmentStore interface {
	Upload(ctx context.Context, file Attachment, uc UploadContext) (string, error)
}

// ErrNoAttachmentStore is returned by RejectingAttachments for every upload.
var ErrNoAttachmentStore = errors.New("ticket: attachment storage not configured")

// RejectingAttachments fails every upload; messages degrade to text-only.
type RejectingAttachments struct{}

func (RejectingAttachments) Upload(context.Context, Attachment, UploadContext) (string, error) {
	return "", ErrNoAttachmentStore
}

// uploadAll uploads files in parallel, each bounded by timeout. Failed or
// slow uploads are dropped; the URLs of the survivors keep submission order.
func uploadAll(ctx context.Context, store AttachmentStore, files []Attachment, uc UploadContext, timeout time.Duration, logger *zap.Logger) []string {
	if len(files) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	urls := make([]string, len(files))
	var g errgroup.Group
	g.SetLimit(4)
	for i, f := range files {
		g.Go(func() error {
			uctx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				uctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			url, err := uploadOne(uctx, store, f, uc)
			if err != nil {
				logger.Warn("attachment upload failed",
					zap.String("ticket_id", uc.TicketID),
					zap.String("filename", f.Filename),
					zap.Error(err),
				)
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

// uploadOne returns as soon as ctx is done, even if the store ignores it.
func uploadOne(ctx context.Context, store AttachmentStore, f Attachment, uc UploadContext) (string, error) {
	type result struct {
		url string
		err error
	}
	done := make(chan result, 1)
	go func() {
		url, err := store.Upload(ctx, f, uc)
		done <- result{url: url, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err == nil && r.url == "" {
			return "", errors.New("ticket: attachment store returned empty url")
		}
		return r.url, r.err
	}
}
