package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/internal/service"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

type exportJobServiceMock struct {
	path string
	req  service.ExportRequest
}

func (m *exportJobServiceMock) CreateJob(ctx context.Context, requesterRef string, req service.ExportRequest) (*models.ExportJob, error) {
	m.req = req
	return &models.ExportJob{ID: "job-1", Status: models.ExportStatusQueued}, nil
}

func (m *exportJobServiceMock) GetStatus(ctx context.Context, requesterRef, id string) (*models.ExportJob, error) {
	return &models.ExportJob{ID: id, Status: models.ExportStatusFinished}, nil
}

func (m *exportJobServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	f, err := os.Open(m.path)
	if err != nil {
		return nil, err
	}
	return &service.ExportDownload{File: f, Filename: filepath.Base(m.path), ContentType: "text/csv"}, nil
}

func TestExportHandlerCreateQueuesJob(t *testing.T) {
	svc := &exportJobServiceMock{}
	h := NewExportHandler(svc)
	c, w := testContext(jsonRequest(t, http.MethodPost, "/exports/roster", map[string]string{"format": "pdf"}), "admin")

	h.CreateRoster(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pdf", svc.req.Format)
	assert.Contains(t, w.Body.String(), `"job-1"`)
}

func TestExportHandlerDownloadStreamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.csv")
	require.NoError(t, os.WriteFile(path, []byte("call_sign\nHawk\n"), 0o600))
	h := NewExportHandler(&exportJobServiceMock{path: path})

	c, w := testContext(httptest.NewRequest(http.MethodGet, "/exports/download/good", nil), "")
	c.Params = gin.Params{{Key: "token", Value: "good"}}
	h.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="roster.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "call_sign\nHawk\n", w.Body.String())
}

func TestExportHandlerDownloadRejectsBadToken(t *testing.T) {
	h := NewExportHandler(&exportJobServiceMock{})
	c, w := testContext(httptest.NewRequest(http.MethodGet, "/exports/download/bad", nil), "")
	c.Params = gin.Params{{Key: "token", Value: "bad"}}

	h.Download(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
