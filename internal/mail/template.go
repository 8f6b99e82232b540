package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/server-common/hermes/internal/domain"
	"github.com/server-common/hermes/pkg/sanitizer"
)

// Process substitutes {{key}} placeholders in text with the given values.
// Unknown placeholders are left in place; substitution is literal, not an
// expression language.
func Process(text string, vars map[string]string) string {
	for k, v := range vars {
		text = strings.ReplaceAll(text, "{{"+k+"}}", v)
	}
	return text
}

// TemplateRequest carries template create/update fields. Content is HTML
// and is sanitized at write time so stored templates are always safe to
// render.
type TemplateRequest struct {
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// Validate checks the request fields. Name is only required on create;
// updates address the template by id.
func (r TemplateRequest) Validate(requireName bool) error {
	if requireName && strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}
	return nil
}

// CreateTemplate stores a new tenant template with sanitized content.
func (s *Service) CreateTemplate(ctx context.Context, groupKey string, req TemplateRequest) (*domain.Template, error) {
	if err := req.Validate(true); err != nil {
		return nil, err
	}

	tpl := &domain.Template{
		GroupKey:    groupKey,
		Name:        req.Name,
		Subject:     req.Subject,
		Content:     sanitizer.EmailHTML(req.Content),
		Description: req.Description,
	}
	if err := s.store.CreateTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// UpdateTemplate replaces subject, content and description of an existing
// template.
func (s *Service) UpdateTemplate(ctx context.Context, groupKey, id string, req TemplateRequest) (*domain.Template, error) {
	if err := req.Validate(false); err != nil {
		return nil, err
	}

	tpl := &domain.Template{
		ID:          id,
		GroupKey:    groupKey,
		Subject:     req.Subject,
		Content:     sanitizer.EmailHTML(req.Content),
		Description: req.Description,
	}
	if err := s.store.UpdateTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	return s.store.GetTemplate(ctx, id, groupKey)
}

// DeleteTemplate removes a tenant template by id.
func (s *Service) DeleteTemplate(ctx context.Context, groupKey, id string) error {
	return s.store.DeleteTemplate(ctx, id, groupKey)
}

// GetTemplate loads a tenant template by id.
func (s *Service) GetTemplate(ctx context.Context, groupKey, id string) (*domain.Template, error) {
	return s.store.GetTemplate(ctx, id, groupKey)
}

// GetTemplateByName loads a tenant template by its unique name.
func (s *Service) GetTemplateByName(ctx context.Context, groupKey, name string) (*domain.Template, error) {
	return s.store.GetTemplateByName(ctx, name, groupKey)
}

// ListTemplates pages through a tenant's templates.
func (s *Service) ListTemplates(ctx context.Context, groupKey string, limit, offset int) ([]domain.Template, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListTemplates(ctx, groupKey, limit, offset)
}
