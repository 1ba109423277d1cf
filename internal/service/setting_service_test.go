package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecollege/hse-api/internal/dto"
	"github.com/ecollege/hse-api/internal/models"
	appErrors "github.com/ecollege/hse-api/pkg/errors"
)

type stubSettingStore struct {
	settings map[string]*models.Setting
	upserted *models.Setting
}

func (s *stubSettingStore) List(context.Context) ([]models.Setting, error) {
	var out []models.Setting
	for _, setting := range s.settings {
		out = append(out, *setting)
	}
	return out, nil
}

func (s *stubSettingStore) Get(_ context.Context, key string) (*models.Setting, error) {
	setting, ok := s.settings[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *setting
	return &copied, nil
}

func (s *stubSettingStore) Upsert(_ context.Context, setting *models.Setting) error {
	if s.settings == nil {
		s.settings = make(map[string]*models.Setting)
	}
	copied := *setting
	s.upserted = &copied
	s.settings[setting.Key] = &copied
	return nil
}

type memorySettingCache struct {
	entries     map[string][]byte
	invalidated []string
}

func newMemorySettingCache() *memorySettingCache {
	return &memorySettingCache{entries: make(map[string][]byte)}
}

func (c *memorySettingCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memorySettingCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *memorySettingCache) Invalidate(_ context.Context, key string) {
	delete(c.entries, key)
	c.invalidated = append(c.invalidated, key)
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, FullName: "Admin"}
}

func TestSettingGet(t *testing.T) {
	t.Run("falls back to default when unset", func(t *testing.T) {
		store := &stubSettingStore{settings: map[string]*models.Setting{}}
		svc := NewSettingService(store, nil, nil, zap.NewNop(), time.Second, 60)

		setting, err := svc.Get(context.Background(), "session_edit_window")

		require.NoError(t, err)
		assert.Equal(t, "60", setting.Value)
		assert.Equal(t, models.SettingTypeInteger, setting.Type)
	})

	t.Run("unknown key is not found", func(t *testing.T) {
		svc := NewSettingService(&stubSettingStore{}, nil, nil, zap.NewNop(), time.Second, 60)
		_, err := svc.Get(context.Background(), "nope")
		requireAppError(t, err, "NOT_FOUND")
	})

	t.Run("second read is served from cache", func(t *testing.T) {
		store := &stubSettingStore{settings: map[string]*models.Setting{
			"session_edit_window": {Key: "session_edit_window", Value: "45", Type: models.SettingTypeInteger},
		}}
		cache := newMemorySettingCache()
		svc := NewSettingService(store, cache, nil, zap.NewNop(), time.Second, 60)

		first, err := svc.Get(context.Background(), "session_edit_window")
		require.NoError(t, err)
		assert.Equal(t, "45", first.Value)

		store.settings["session_edit_window"].Value = "90"
		second, err := svc.Get(context.Background(), "session_edit_window")
		require.NoError(t, err)
		assert.Equal(t, "45", second.Value)
	})
}

func TestSettingUpdate(t *testing.T) {
	t.Run("admin updates the edit window", func(t *testing.T) {
		store := &stubSettingStore{settings: map[string]*models.Setting{}}
		cache := newMemorySettingCache()
		audit := &stubAudit{}
		svc := NewSettingService(store, cache, audit, zap.NewNop(), time.Second, 60)

		setting, err := svc.Update(context.Background(), "session_edit_window", dto.UpdateSettingRequest{Value: "120"}, adminClaims())

		require.NoError(t, err)
		assert.Equal(t, "120", setting.Value)
		assert.Contains(t, cache.invalidated, "session_edit_window")
		require.Len(t, audit.logs, 1)
		assert.Equal(t, models.AuditActionSettingUpdate, audit.logs[0].Action)
	})

	t.Run("non-admin writes are forbidden", func(t *testing.T) {
		svc := NewSettingService(&stubSettingStore{}, nil, nil, zap.NewNop(), time.Second, 60)
		for _, role := range []models.UserRole{models.RoleTeacher, models.RoleSecretary, models.RolePrincipal} {
			_, err := svc.Update(context.Background(), "session_edit_window", dto.UpdateSettingRequest{Value: "30"}, claimsWithRole(role))
			requireAppError(t, err, "FORBIDDEN")
		}
	})

	t.Run("non-integer window is rejected", func(t *testing.T) {
		svc := NewSettingService(&stubSettingStore{settings: map[string]*models.Setting{}}, nil, nil, zap.NewNop(), time.Second, 60)
		for _, value := range []string{"abc", "-5", "0", ""} {
			_, err := svc.Update(context.Background(), "session_edit_window", dto.UpdateSettingRequest{Value: value}, adminClaims())
			requireAppError(t, err, "VALIDATION_ERROR")
		}
	})

	t.Run("unknown key is rejected", func(t *testing.T) {
		svc := NewSettingService(&stubSettingStore{}, nil, nil, zap.NewNop(), time.Second, 60)
		_, err := svc.Update(context.Background(), "max_sessions", dto.UpdateSettingRequest{Value: "10"}, adminClaims())
		requireAppError(t, err, "NOT_FOUND")
	})
}

func TestSessionEditWindowMinutes(t *testing.T) {
	t.Run("reads the configured value", func(t *testing.T) {
		store := &stubSettingStore{settings: map[string]*models.Setting{
			"session_edit_window": {Key: "session_edit_window", Value: "30", Type: models.SettingTypeInteger},
		}}
		svc := NewSettingService(store, nil, nil, zap.NewNop(), time.Second, 60)

		minutes, err := svc.SessionEditWindowMinutes(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 30, minutes)
	})

	t.Run("malformed value falls back to the default", func(t *testing.T) {
		store := &stubSettingStore{settings: map[string]*models.Setting{
			"session_edit_window": {Key: "session_edit_window", Value: "soon", Type: models.SettingTypeInteger},
		}}
		svc := NewSettingService(store, nil, nil, zap.NewNop(), time.Second, 45)

		minutes, err := svc.SessionEditWindowMinutes(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 45, minutes)
	})
}
