package setting

import (
	"context"
	"strconv"
	"time"

	"licensegate/pkg/featureflags"
	"licensegate/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Provider is the read-only configuration surface consumed by the decision
// pipeline. It is injected rather than read through any global.
type Provider interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetBool(ctx context.Context, key string, fallback bool) bool
	GetInt(ctx context.Context, key string, fallback int) int
}

type Service struct {
	repo  repository.Repository[Setting]
	flags featureflags.FeatureFlag
	cache *Cache
	group singleflight.Group
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Flags featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo:  repository.ProvideStore[Setting](p.DB),
		flags: p.Flags,
		cache: NewCache(30 * time.Second),
	}
}

// Get resolves a setting from the cache or the settings table. The second
// return value reports whether the key exists at all.
func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := s.cache.Get(key); ok {
		return v.Value, v.Found, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		record, err := s.repo.FindOne(ctx, &Setting{Key: key})
		if err != nil {
			return cachedValue{}, err
		}

		cv := cachedValue{}
		if record != nil {
			cv.Value = record.Value
			cv.Found = true
		}
		s.cache.Set(key, cv.Value, cv.Found)
		return cv, nil
	})
	if err != nil {
		return "", false, err
	}

	cv := v.(cachedValue)
	return cv.Value, cv.Found, nil
}

// GetBool resolves a boolean setting. A Flagsmith environment flag of the
// same name wins over the settings table when one is configured.
func (s *Service) GetBool(ctx context.Context, key string, fallback bool) bool {
	if s.flags != nil {
		if enabled, ok := s.flags.IsEnabled(ctx, key); ok {
			return enabled
		}
	}

	value, found, err := s.Get(ctx, key)
	if err != nil {
		zap.L().Error("failed to read setting, using fallback", zap.String("key", key), zap.Error(err))
		return fallback
	}
	if !found {
		return fallback
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		zap.L().Warn("setting is not a boolean, using fallback", zap.String("key", key), zap.String("value", value))
		return fallback
	}
	return parsed
}

func (s *Service) GetInt(ctx context.Context, key string, fallback int) int {
	value, found, err := s.Get(ctx, key)
	if err != nil {
		zap.L().Error("failed to read setting, using fallback", zap.String("key", key), zap.Error(err))
		return fallback
	}
	if !found {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		zap.L().Warn("setting is not an integer, using fallback", zap.String("key", key), zap.String("value", value))
		return fallback
	}
	return parsed
}
