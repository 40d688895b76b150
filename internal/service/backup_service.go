package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shinyes/sift/internal/storage"
)

const backupFormatVersion = 1

type backupDocument struct {
	Version    int            `json:"version"`
	ExportedAt time.Time      `json:"exported_at"`
	Filters    []backupFilter `json:"filters"`
}

type backupFilter struct {
	Title    string `json:"title"`
	Color    int    `json:"color"`
	Position int    `json:"position"`
	Criteria string `json:"criteria"`
}

// BackupService exports a user's saved filters to the backup store and
// restores them.
type BackupService struct {
	filters  *FilterService
	targets  *BackupTargetService
	localDir string
	logger   *zap.Logger
	now      func() time.Time
}

func NewBackupService(filters *FilterService, targets *BackupTargetService, localDir string, logger *zap.Logger) *BackupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackupService{
		filters:  filters,
		targets:  targets,
		localDir: localDir,
		logger:   logger,
		now:      time.Now,
	}
}

type BackupResult struct {
	Key     string
	Filters int
}

func (s *BackupService) Export(ctx context.Context, userID int64) (BackupResult, error) {
	filters, err := s.filters.List(ctx, userID)
	if err != nil {
		return BackupResult{}, err
	}
	now := s.now().UTC()
	doc := backupDocument{
		Version:    backupFormatVersion,
		ExportedAt: now,
		Filters:    make([]backupFilter, 0, len(filters)),
	}
	for _, filter := range filters {
		doc.Filters = append(doc.Filters, backupFilter{
			Title:    filter.Title,
			Color:    filter.Color,
			Position: filter.Position,
			Criteria: filter.Criteria,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return BackupResult{}, fmt.Errorf("encode backup: %w", err)
	}

	target, err := s.targets.Open(ctx, s.localDir)
	if err != nil {
		return BackupResult{}, err
	}
	key := backupPrefix(userID) + now.Format("20060102T150405.000000000Z") + ".json"
	if err := target.Put(ctx, key, "application/json", data); err != nil {
		return BackupResult{}, err
	}
	s.logger.Info("filters exported", zap.Int64("user", userID), zap.String("key", key), zap.Int("filters", len(doc.Filters)))
	return BackupResult{Key: key, Filters: len(doc.Filters)}, nil
}

func (s *BackupService) List(ctx context.Context, userID int64) ([]string, error) {
	target, err := s.targets.Open(ctx, s.localDir)
	if err != nil {
		return nil, err
	}
	return target.List(ctx, backupPrefix(userID))
}

type RestoreResult struct {
	Key      string
	Imported int
	// Skipped maps filter titles to why they were not imported.
	Skipped map[string]string
}

// Restore imports the filters of a backup. An empty key picks the latest
// backup. Filters whose criteria no longer decode are skipped.
func (s *BackupService) Restore(ctx context.Context, userID int64, key string) (RestoreResult, error) {
	target, err := s.targets.Open(ctx, s.localDir)
	if err != nil {
		return RestoreResult{}, err
	}
	prefix := backupPrefix(userID)
	key = strings.TrimSpace(key)
	if key == "" {
		keys, err := target.List(ctx, prefix)
		if err != nil {
			return RestoreResult{}, err
		}
		if len(keys) == 0 {
			return RestoreResult{}, ErrBackupNotFound
		}
		key = keys[len(keys)-1]
	}
	if !strings.HasPrefix(key, prefix) {
		return RestoreResult{}, ErrBackupNotFound
	}

	data, err := target.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return RestoreResult{}, ErrBackupNotFound
		}
		return RestoreResult{}, err
	}
	var doc backupDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return RestoreResult{}, fmt.Errorf("decode backup %s: %w", key, err)
	}
	if doc.Version != backupFormatVersion {
		return RestoreResult{}, fmt.Errorf("unsupported backup version %d", doc.Version)
	}

	cat, err := s.filters.Catalog(ctx, userID)
	if err != nil {
		return RestoreResult{}, err
	}
	result := RestoreResult{Key: key, Skipped: map[string]string{}}
	for _, item := range doc.Filters {
		list, err := s.filters.Codec().DecodeStrict(item.Criteria, cat)
		if err != nil {
			result.Skipped[item.Title] = err.Error()
			continue
		}
		if len(list) == 0 {
			result.Skipped[item.Title] = ErrEmptyCriteria.Error()
			continue
		}
		if _, err := s.filters.Create(ctx, userID, CreateFilterInput{
			Title:    item.Title,
			Color:    item.Color,
			Criteria: list,
		}); err != nil {
			result.Skipped[item.Title] = err.Error()
			continue
		}
		result.Imported++
	}
	s.logger.Info("filters restored",
		zap.Int64("user", userID),
		zap.String("key", key),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func backupPrefix(userID int64) string {
	return "backups/" + strconv.FormatInt(userID, 10) + "/"
}
