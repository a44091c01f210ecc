package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputedesk/ticket"
)

type fakeUploadAPI struct {
	params uploader.UploadParams
	body   []byte
	result *uploader.UploadResult
	err    error
}

func (f *fakeUploadAPI) Upload(_ context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error) {
	f.params = params
	if r, ok := file.(io.Reader); ok {
		f.body, _ = io.ReadAll(r)
	}
	return f.result, f.err
}

func fixed() time.Time { return time.Unix(1700000000, 0) }

func TestCloudinary_Upload(t *testing.T) {
	api := &fakeUploadAPI{result: &uploader.UploadResult{SecureURL: "https://res.cloudinary.com/demo/x.png", URL: "http://res.cloudinary.com/demo/x.png"}}
	store := newCloudinary(api, "disputes/")
	store.now = fixed

	url, err := store.Upload(context.Background(),
		ticket.Attachment{Filename: "kitchen photo.png", Data: []byte("png")},
		ticket.UploadContext{TicketID: "t-1", SenderID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, "https://res.cloudinary.com/demo/x.png", url)
	assert.Equal(t, "disputes/t-1", api.params.Folder)
	assert.Equal(t, "1700000000000000000_kitchen_photo", api.params.PublicID)
	assert.Equal(t, "auto", api.params.ResourceType)
	assert.Equal(t, []byte("png"), api.body)
}

func TestCloudinary_UploadErrors(t *testing.T) {
	ctx := context.Background()
	uc := ticket.UploadContext{TicketID: "t-1"}

	_, err := newCloudinary(&fakeUploadAPI{}, "").Upload(ctx, ticket.Attachment{Filename: "a.png"}, uc)
	assert.ErrorIs(t, err, ErrEmptyFile)

	boom := errors.New("network down")
	_, err = newCloudinary(&fakeUploadAPI{err: boom}, "").Upload(ctx, ticket.Attachment{Filename: "a.png", Data: []byte("x")}, uc)
	assert.ErrorIs(t, err, boom)

	rejected := &uploader.UploadResult{}
	rejected.Error.Message = "Invalid image file"
	_, err = newCloudinary(&fakeUploadAPI{result: rejected}, "").Upload(ctx, ticket.Attachment{Filename: "a.exe", Data: []byte("x")}, uc)
	assert.ErrorContains(t, err, "Invalid image file")
}

func TestPublicID(t *testing.T) {
	assert.Equal(t, "1700000000000000000_file", publicID(".png", fixed()))
	assert.Equal(t, "1700000000000000000_report_v2", publicID("../report v2.pdf", fixed()))
	assert.Equal(t, "t-9", path("", "t-9"))
}

func TestNewCloudinary_RequiresCredentials(t *testing.T) {
	_, err := NewCloudinary("", "key", "secret", "disputes")
	assert.Error(t, err)
}
