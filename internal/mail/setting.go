package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/server-common/hermes/internal/domain"
)

// SettingRequest carries setting create fields. An empty group key on the
// stored row acts as the global default; the tenant scope comes from the
// request context, not the body.
type SettingRequest struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// Validate checks the request fields.
func (r SettingRequest) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return fmt.Errorf("%w: setting key is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("%w: setting value is required", ErrInvalidRequest)
	}
	return nil
}

// CreateSetting stores a tenant setting and drops the settings cache so the
// new value is visible to the pipeline immediately.
func (s *Service) CreateSetting(ctx context.Context, groupKey string, req SettingRequest) (*domain.Setting, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	st := &domain.Setting{
		GroupKey:    groupKey,
		Key:         req.Key,
		Value:       req.Value,
		Description: req.Description,
	}
	if err := s.store.CreateSetting(ctx, st); err != nil {
		return nil, err
	}
	s.inval.Invalidate(ctx)
	return st, nil
}

// UpdateSetting changes a setting's value by tenant-scoped key and drops
// the settings cache.
func (s *Service) UpdateSetting(ctx context.Context, groupKey, key, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: setting value is required", ErrInvalidRequest)
	}
	if err := s.store.UpdateSettingValue(ctx, groupKey, key, value); err != nil {
		return err
	}
	s.inval.Invalidate(ctx)
	return nil
}

// DeleteSetting removes a setting by id and drops the settings cache.
func (s *Service) DeleteSetting(ctx context.Context, id string) error {
	if err := s.store.DeleteSetting(ctx, id); err != nil {
		return err
	}
	s.inval.Invalidate(ctx)
	return nil
}

// ListSettings returns the settings visible to a tenant, global defaults
// included.
func (s *Service) ListSettings(ctx context.Context, groupKey string) ([]domain.Setting, error) {
	return s.store.ListSettings(ctx, groupKey)
}
