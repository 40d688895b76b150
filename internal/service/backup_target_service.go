package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shinyes/sift/internal/config"
	"github.com/shinyes/sift/internal/storage"
	"github.com/shinyes/sift/internal/store"
)

const (
	settingKeyBackupBackend    = "backup_backend"
	settingKeyBackupS3Endpoint = "backup_s3_endpoint"
	settingKeyBackupS3Region   = "backup_s3_region"
	settingKeyBackupS3Bucket   = "backup_s3_bucket"
	settingKeyBackupS3KeyID    = "backup_s3_access_key_id"
	settingKeyBackupS3Secret   = "backup_s3_access_key_secret"
	settingKeyBackupS3Path     = "backup_s3_use_path_style"
)

// BackupTarget says where filter backups are written.
type BackupTarget struct {
	Backend config.StorageBackend
	S3      config.S3Config
}

// BackupTargetService keeps the backup target in the settings table so it
// can be switched at runtime. Unset, it falls back to the configured one.
type BackupTargetService struct {
	store    *store.SQLStore
	fallback BackupTarget
}

func NewBackupTargetService(s *store.SQLStore, cfg config.Config) *BackupTargetService {
	fallback := BackupTarget{Backend: cfg.Storage, S3: cfg.S3}
	if fallback.Backend == "" {
		fallback.Backend = config.StorageBackendLocal
	}
	return &BackupTargetService{store: s, fallback: fallback}
}

func (s *BackupTargetService) Resolve(ctx context.Context) (BackupTarget, error) {
	raw, err := s.store.GetSetting(ctx, settingKeyBackupBackend)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.fallback, nil
		}
		return BackupTarget{}, err
	}

	backend := config.StorageBackend(strings.ToLower(strings.TrimSpace(raw)))
	switch backend {
	case config.StorageBackendLocal:
		return BackupTarget{Backend: backend}, nil
	case config.StorageBackendS3:
		s3Cfg, err := s.resolveS3Config(ctx)
		if err != nil {
			return BackupTarget{}, err
		}
		return BackupTarget{Backend: backend, S3: s3Cfg}, nil
	default:
		return BackupTarget{}, fmt.Errorf("unsupported backup backend %q in setting %s", raw, settingKeyBackupBackend)
	}
}

// Open builds the object store for the current target.
func (s *BackupTargetService) Open(ctx context.Context, localDir string) (storage.Store, error) {
	target, err := s.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if target.Backend == config.StorageBackendS3 {
		return storage.NewS3Store(ctx, target.S3)
	}
	return storage.NewLocalStore(localDir)
}

func (s *BackupTargetService) SetLocal(ctx context.Context) error {
	return s.store.UpsertSetting(ctx, settingKeyBackupBackend, string(config.StorageBackendLocal))
}

func (s *BackupTargetService) SetS3(ctx context.Context, cfg config.S3Config) error {
	normalized := config.S3Config{
		Endpoint:     strings.TrimSpace(cfg.Endpoint),
		Region:       strings.TrimSpace(cfg.Region),
		Bucket:       strings.TrimSpace(cfg.Bucket),
		AccessKeyID:  strings.TrimSpace(cfg.AccessKeyID),
		AccessSecret: strings.TrimSpace(cfg.AccessSecret),
		UsePathStyle: cfg.UsePathStyle,
	}
	if err := normalized.Validate(); err != nil {
		return err
	}

	settings := []struct {
		key   string
		value string
	}{
		{settingKeyBackupS3Endpoint, normalized.Endpoint},
		{settingKeyBackupS3Region, normalized.Region},
		{settingKeyBackupS3Bucket, normalized.Bucket},
		{settingKeyBackupS3KeyID, normalized.AccessKeyID},
		{settingKeyBackupS3Secret, normalized.AccessSecret},
		{settingKeyBackupS3Path, strconv.FormatBool(normalized.UsePathStyle)},
	}
	for _, item := range settings {
		if err := s.store.UpsertSetting(ctx, item.key, item.value); err != nil {
			return err
		}
	}
	return s.store.UpsertSetting(ctx, settingKeyBackupBackend, string(config.StorageBackendS3))
}

func (s *BackupTargetService) resolveS3Config(ctx context.Context) (config.S3Config, error) {
	keys := []string{
		settingKeyBackupS3Endpoint,
		settingKeyBackupS3Region,
		settingKeyBackupS3Bucket,
		settingKeyBackupS3KeyID,
		settingKeyBackupS3Secret,
	}
	values := make([]string, len(keys))
	for idx, key := range keys {
		value, err := s.getRequiredSetting(ctx, key)
		if err != nil {
			return config.S3Config{}, err
		}
		values[idx] = value
	}
	usePathStyle, err := s.getBoolSetting(ctx, settingKeyBackupS3Path, true)
	if err != nil {
		return config.S3Config{}, err
	}

	cfg := config.S3Config{
		Endpoint:     values[0],
		Region:       values[1],
		Bucket:       values[2],
		AccessKeyID:  values[3],
		AccessSecret: values[4],
		UsePathStyle: usePathStyle,
	}
	if err := cfg.Validate(); err != nil {
		return config.S3Config{}, err
	}
	return cfg, nil
}

func (s *BackupTargetService) getRequiredSetting(ctx context.Context, key string) (string, error) {
	raw, err := s.store.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("setting %s is required when backup backend is s3", key)
		}
		return "", err
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("setting %s is required when backup backend is s3", key)
	}
	return value, nil
}

func (s *BackupTargetService) getBoolSetting(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, err := s.store.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fallback, nil
		}
		return fallback, err
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback, nil
	}
	parsed, parseErr := strconv.ParseBool(value)
	if parseErr != nil {
		return fallback, fmt.Errorf("invalid bool in setting %s: %q", key, raw)
	}
	return parsed, nil
}
