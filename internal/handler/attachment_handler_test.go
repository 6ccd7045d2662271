package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grievance-api/internal/models"
	"github.com/noah-isme/grievance-api/internal/service"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
)

type attachmentServiceMock struct {
	position   int
	path       string
	openErr    error
	linkCalled bool
}

func (m *attachmentServiceMock) Link(_ context.Context, _ *models.Actor, _ string, position int) (*service.AttachmentLink, error) {
	m.linkCalled = true
	m.position = position
	return &service.AttachmentLink{URL: "/api/v1/attachments/download?token=t", FileName: "a.txt"}, nil
}

func (m *attachmentServiceMock) Open(_ context.Context, _ string) (*service.AttachmentDownload, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	file, err := os.Open(m.path)
	if err != nil {
		return nil, err
	}
	return &service.AttachmentDownload{File: file, FileName: "a.txt", ContentType: "text/plain"}, nil
}

func TestAttachmentHandlerLink(t *testing.T) {
	mockSvc := &attachmentServiceMock{}
	handler := NewAttachmentHandler(mockSvc)
	c, w := newTestContext(http.MethodGet, "/grievances/g-1/attachments/1", nil)
	c.Params = gin.Params{{Key: "id", Value: "g-1"}, {Key: "index", Value: "1"}}

	handler.Link(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, mockSvc.position)
}

func TestAttachmentHandlerLinkRejectsBadIndex(t *testing.T) {
	mockSvc := &attachmentServiceMock{}
	handler := NewAttachmentHandler(mockSvc)
	c, w := newTestContext(http.MethodGet, "/grievances/g-1/attachments/x", nil)
	c.Params = gin.Params{{Key: "id", Value: "g-1"}, {Key: "index", Value: "x"}}

	handler.Link(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.linkCalled)
}

func TestAttachmentHandlerDownloadStreamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("evidence"), 0o600))
	handler := NewAttachmentHandler(&attachmentServiceMock{path: path})
	c, w := newTestContext(http.MethodGet, "/attachments/download?token=t", nil)

	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "evidence", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `"a.txt"`)
}

func TestAttachmentHandlerDownloadExpired(t *testing.T) {
	handler := NewAttachmentHandler(&attachmentServiceMock{openErr: appErrors.Clone(appErrors.ErrGone, "Download link expired")})
	c, w := newTestContext(http.MethodGet, "/attachments/download?token=t", nil)

	handler.Download(c)
	assert.Equal(t, http.StatusGone, w.Code)
}

type pingerStub struct{ err error }

func (p pingerStub) PingContext(context.Context) error { return p.err }

func TestMetricsHandlerReady(t *testing.T) {
	c, w := newTestContext(http.MethodGet, "/ready", nil)
	NewMetricsHandler(nil, pingerStub{err: os.ErrDeadlineExceeded}).Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	c, w = newTestContext(http.MethodGet, "/ready", nil)
	NewMetricsHandler(nil, pingerStub{}).Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsHandlerSnapshot(t *testing.T) {
	c, w := newTestContext(http.MethodGet, "/system/metrics", nil)
	NewMetricsHandler(service.NewMetricsService(), nil).Snapshot(c)
	assert.Equal(t, http.StatusOK, w.Code)
}
