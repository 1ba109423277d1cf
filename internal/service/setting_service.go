package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ecollege/hse-api/internal/dto"
	"github.com/ecollege/hse-api/internal/models"
	appErrors "github.com/ecollege/hse-api/pkg/errors"
)

const settingKeyEditWindow = "session_edit_window"

// settingDefaults is the closed set of configurable keys. Unknown keys are
// rejected on write so the settings table never accumulates typos.
var settingDefaults = map[string]models.Setting{
	settingKeyEditWindow: {
		Key:   settingKeyEditWindow,
		Value: "60",
		Type:  models.SettingTypeInteger,
	},
	"academic_year": {
		Key:   "academic_year",
		Value: "2025-2026",
		Type:  models.SettingTypeString,
	},
	"notifications_enabled": {
		Key:   "notifications_enabled",
		Value: "true",
		Type:  models.SettingTypeBoolean,
	},
}

type settingStore interface {
	List(ctx context.Context) ([]models.Setting, error)
	Get(ctx context.Context, key string) (*models.Setting, error)
	Upsert(ctx context.Context, setting *models.Setting) error
}

type settingCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, key string)
}

type settingAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SettingService manages the system configuration keys, with a short-TTL
// cache in front of the table and admin-only writes.
type SettingService struct {
	repo              settingStore
	cache             settingCache
	audit             settingAuditLogger
	logger            *zap.Logger
	cacheTTL          time.Duration
	defaultEditWindow int
}

// NewSettingService constructs the service. cache may be nil, in which case
// every read goes to the store.
func NewSettingService(repo settingStore, cache settingCache, audit settingAuditLogger, logger *zap.Logger, cacheTTL time.Duration, defaultEditWindow int) *SettingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Second
	}
	if defaultEditWindow <= 0 {
		defaultEditWindow = 60
	}
	return &SettingService{
		repo:              repo,
		cache:             cache,
		audit:             audit,
		logger:            logger,
		cacheTTL:          cacheTTL,
		defaultEditWindow: defaultEditWindow,
	}
}

// List returns every known setting, backfilling defaults for keys that have
// never been written.
func (s *SettingService) List(ctx context.Context) ([]models.Setting, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list settings")
	}
	seen := make(map[string]bool, len(stored))
	for _, setting := range stored {
		seen[setting.Key] = true
	}
	for key, def := range settingDefaults {
		if !seen[key] {
			stored = append(stored, def)
		}
	}
	return stored, nil
}

// Get returns a single setting, falling back to its default when unset.
func (s *SettingService) Get(ctx context.Context, key string) (*models.Setting, error) {
	def, known := settingDefaults[key]
	if !known {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown setting: %s", key))
	}

	if s.cache != nil {
		var cached models.Setting
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("setting cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			setting = &def
		} else {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load setting")
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, setting, s.cacheTTL); err != nil {
			s.logger.Warn("setting cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return setting, nil
}

// Update writes a setting value. Admin only; the value is validated against
// the key's declared type and the cache entry is invalidated.
func (s *SettingService) Update(ctx context.Context, key string, req dto.UpdateSettingRequest, actor *models.JWTClaims) (*models.Setting, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may change system settings")
	}
	def, known := settingDefaults[key]
	if !known {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown setting: %s", key))
	}

	value := strings.TrimSpace(req.Value)
	if err := validateSettingValue(def.Type, value); err != nil {
		return nil, err
	}

	old, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	setting := &models.Setting{
		Key:         key,
		Value:       value,
		Type:        def.Type,
		Description: req.Description,
		UpdatedBy:   &actor.UserID,
	}
	if err := s.repo.Upsert(ctx, setting); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update setting")
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, key)
	}
	s.emitAudit(ctx, actor, key, old.Value, value)
	return setting, nil
}

// SessionEditWindowMinutes resolves the configured edit window, falling back
// to the process default when the setting is missing or malformed.
func (s *SettingService) SessionEditWindowMinutes(ctx context.Context) (int, error) {
	setting, err := s.Get(ctx, settingKeyEditWindow)
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(setting.Value)
	if err != nil || minutes <= 0 {
		s.logger.Warn("edit window setting is malformed, using default",
			zap.String("value", setting.Value), zap.Int("default", s.defaultEditWindow))
		return s.defaultEditWindow, nil
	}
	return minutes, nil
}

func (s *SettingService) emitAudit(ctx context.Context, actor *models.JWTClaims, key, oldValue, newValue string) {
	if s.audit == nil {
		return
	}
	oldBytes, _ := json.Marshal(map[string]string{"value": oldValue})
	newBytes, _ := json.Marshal(map[string]string{"value": newValue})
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionSettingUpdate,
		Resource:   "setting",
		ResourceID: &key,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "setting-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func validateSettingValue(t models.SettingType, value string) error {
	if value == "" {
		return appErrors.Clone(appErrors.ErrValidation, "setting value must not be empty")
	}
	switch t {
	case models.SettingTypeInteger:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return appErrors.Clone(appErrors.ErrValidation, "setting value must be a positive integer")
		}
	case models.SettingTypeBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "setting value must be a boolean")
		}
	}
	return nil
}
