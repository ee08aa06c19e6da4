package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/pkg/export"
	"github.com/anzac2cdo/roster-api/pkg/storage"
)

const exportPageSize = 200

type rosterSource interface {
	List(ctx context.Context, filter models.PersonnelFilter) ([]models.RosterEntry, int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	Retention time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportService renders roster snapshots and persists them to storage.
type ExportService struct {
	roster    rosterSource
	storage   fileStorage
	renderers map[models.ExportFormat]export.Renderer
	signer    *storage.SignedURLSigner
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(roster rosterSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 72 * time.Hour
	}
	return &ExportService{
		roster:  roster,
		storage: store,
		renderers: map[models.ExportFormat]export.Renderer{
			models.ExportFormatCSV: export.NewCSVExporter(),
			models.ExportFormatPDF: export.NewPDFExporter(),
		},
		signer: signer,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Generate renders the roster for job and stores the file.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	renderer, ok := s.renderers[job.Params.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	dataset, err := s.buildDataset(ctx, job.Params)
	if err != nil {
		return nil, err
	}
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("roster_%s_%s.%s", s.now().UTC().Format("20060102_150405"), job.ID, renderer.Extension())
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/download/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// ContentType returns the MIME type for format.
func (s *ExportService) ContentType(format models.ExportFormat) string {
	if r, ok := s.renderers[format]; ok {
		return r.ContentType()
	}
	return "application/octet-stream"
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl, or the configured retention when ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.Retention
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildDataset(ctx context.Context, params models.ExportParams) (export.Dataset, error) {
	title := "ANZAC 2nd Commandos Roster"
	if params.Status != nil {
		title = fmt.Sprintf("%s (%s)", title, *params.Status)
	}
	dataset := export.Dataset{
		Title: title,
		Columns: []export.Column{
			{Key: "call_sign", Header: "Call Sign", Width: 1.2},
			{Key: "name", Header: "Name", Width: 1.6},
			{Key: "rank", Header: "Rank", Width: 1.2},
			{Key: "status", Header: "Status"},
			{Key: "join_date", Header: "Joined"},
			{Key: "access", Header: "System Access", Width: 0.8},
		},
	}

	filter := models.PersonnelFilter{Status: params.Status, PageSize: exportPageSize, SortBy: "call_sign", SortOrder: "asc"}
	for page := 1; ; page++ {
		filter.Page = page
		entries, total, err := s.roster.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, err
		}
		for _, e := range entries {
			dataset.Rows = append(dataset.Rows, rosterRow(e))
		}
		if len(entries) == 0 || page*exportPageSize >= total {
			break
		}
	}
	return dataset, nil
}

func rosterRow(e models.RosterEntry) map[string]string {
	name := ""
	if e.FirstName != nil {
		name = *e.FirstName
	}
	if e.LastName != nil {
		name = strings.TrimSpace(name + " " + *e.LastName)
	}
	rank := ""
	if e.RankName != nil {
		rank = *e.RankName
	}
	access := "no"
	if e.HasSystemAccess() {
		access = "yes"
	}
	return map[string]string{
		"call_sign": e.CallSign,
		"name":      name,
		"rank":      rank,
		"status":    string(e.Status),
		"join_date": e.JoinDate.UTC().Format("2006-01-02"),
		"access":    access,
	}
}
