package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	GetActive(ctx context.Context, companyID int64) (Config, error)
	Install(ctx context.Context, cfg Config) (Config, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service answers policy questions for the workflow engine and manages
// configuration lifecycle.
type Service struct {
	repo     RepositoryPort
	cache    *redis.Client
	cacheTTL time.Duration
	audit    AuditPort
	logger   *slog.Logger
}

// NewService constructs the configuration store service. The cache client is
// optional; without it every read hits the database.
func NewService(repo RepositoryPort, cache *redis.Client, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		cacheTTL: 30 * time.Second,
		audit:    audit,
		logger:   logger,
	}
}

func cacheKey(companyID int64) string {
	return "policy:config:" + strconv.FormatInt(companyID, 10)
}

// Active returns the company's active configuration. A request should call
// this once and keep the returned value; a config installed mid-request is
// not observed.
func (s *Service) Active(ctx context.Context, companyID int64) (Config, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey(companyID)).Bytes(); err == nil {
			var cfg Config
			if err := json.Unmarshal(data, &cfg); err == nil {
				return cfg, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("policy cache read", slog.Any("error", err))
		}
	}

	cfg, err := s.repo.GetActive(ctx, companyID)
	if err != nil {
		return Config{}, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(cfg); err == nil {
			if err := s.cache.Set(ctx, cacheKey(companyID), data, s.cacheTTL).Err(); err != nil {
				s.logger.Warn("policy cache write", slog.Any("error", err))
			}
		}
	}
	return cfg, nil
}

// Save validates and installs a new active configuration for the company.
func (s *Service) Save(ctx context.Context, cfg Config, actorID int64) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	installed, err := s.repo.Install(ctx, cfg)
	if err != nil {
		return Config{}, err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, cacheKey(cfg.CompanyID)).Err(); err != nil {
			s.logger.Warn("policy cache invalidate", slog.Any("error", err))
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "POLICY_CONFIG_INSTALL",
			Entity:   "approval_config",
			EntityID: fmt.Sprintf("%d", installed.ID),
			Meta:     map[string]any{"company_id": cfg.CompanyID},
		})
	}
	return installed, nil
}
