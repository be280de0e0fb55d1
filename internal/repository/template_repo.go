package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"buildtrack/internal/model"
	"buildtrack/internal/template"
)

// TemplateRepository reads the seeded workflow template. The rows never
// change at runtime; the service loads them once at startup.
type TemplateRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTemplateRepository(db *pgxpool.Pool, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

func (r *TemplateRepository) ListPhases(ctx context.Context) ([]model.Phase, error) {
	query := `
        SELECT id, phase_type, name, display_order
        FROM phases
        ORDER BY display_order ASC
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to query phases", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var phases []model.Phase
	for rows.Next() {
		var p model.Phase
		if err := rows.Scan(&p.ID, &p.PhaseType, &p.Name, &p.DisplayOrder); err != nil {
			r.logger.Error("Failed to scan phase", zap.Error(err))
			return nil, err
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

func (r *TemplateRepository) ListSections(ctx context.Context) ([]model.Section, error) {
	query := `
        SELECT id, phase_id, section_number, name, display_order
        FROM sections
        ORDER BY phase_id, display_order ASC
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to query sections", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var sections []model.Section
	for rows.Next() {
		var s model.Section
		if err := rows.Scan(&s.ID, &s.PhaseID, &s.SectionNumber, &s.Name, &s.DisplayOrder); err != nil {
			r.logger.Error("Failed to scan section", zap.Error(err))
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

func (r *TemplateRepository) ListLineItems(ctx context.Context) ([]model.LineItem, error) {
	query := `
        SELECT id, section_id, item_letter, name, display_order,
               responsible_role, estimated_minutes, alert_days
        FROM line_items
        ORDER BY section_id, display_order ASC
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to query line items", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var items []model.LineItem
	for rows.Next() {
		var it model.LineItem
		if err := rows.Scan(
			&it.ID,
			&it.SectionID,
			&it.ItemLetter,
			&it.Name,
			&it.DisplayOrder,
			&it.ResponsibleRole,
			&it.EstimatedMinutes,
			&it.AlertDays,
		); err != nil {
			r.logger.Error("Failed to scan line item", zap.Error(err))
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// LoadTemplateStore reads the full hierarchy and builds the traversal arena.
func (r *TemplateRepository) LoadTemplateStore(ctx context.Context) (*template.Store, error) {
	phases, err := r.ListPhases(ctx)
	if err != nil {
		return nil, err
	}
	sections, err := r.ListSections(ctx)
	if err != nil {
		return nil, err
	}
	items, err := r.ListLineItems(ctx)
	if err != nil {
		return nil, err
	}

	store, err := template.New(phases, sections, items)
	if err != nil {
		r.logger.Error("Template data failed validation", zap.Error(err))
		return nil, err
	}

	r.logger.Info("Template loaded",
		zap.Int("phases", len(phases)),
		zap.Int("sections", len(sections)),
		zap.Int("line_items", len(items)),
	)
	return store, nil
}
