package lpvisitors

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// colonnes descriptives écrasées à chaque rapport
var descriptiveColumns = []string{
	"ip", "provedor", "cidade", "estado", "pais",
	"web_browser", "sistema_operacional", "marca_dispositivo", "movel",
	"dimensao_tela", "referrer",
	"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term",
	"updated_at",
}

type UpsertResult struct {
	ID      uint
	Created bool
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&Visitor{})
}

func (r *Repository) Exists(ctx context.Context, uuid string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Visitor{}).
		Where("uuid = ?", uuid).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("comptage visiteur %s: %w", uuid, err)
	}
	return count > 0, nil
}

func (r *Repository) Get(ctx context.Context, uuid string) (*Visitor, error) {
	var v Visitor
	if err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// Upsert insère le visiteur ou fusionne le rapport dans sa ligne en une
// seule requête. Les compteurs de v sont des deltas additionnés aux totaux.
func (r *Repository) Upsert(ctx context.Context, v *Visitor) (UpsertResult, error) {
	table := v.TableName()
	v.ID = 0
	v.Reports = 1

	updates := clause.AssignmentColumns(descriptiveColumns)
	updates = append(updates,
		addTo(table, "total_cliques", v.TotalCliques),
		addTo(table, "cliques_elementos_clicaveis", v.CliquesElementosClicaveis),
		addTo(table, "duracao_sessao", v.DuracaoSessao),
		addTo(table, "reports", 1),
	)

	mysql := r.db.Dialector.Name() == "mysql"
	tx := r.db.WithContext(ctx)
	if mysql {
		// LAST_INSERT_ID(id) fait remonter l'id existant aussi en cas de mise à jour
		updates = append(updates, clause.Assignment{
			Column: clause.Column{Name: "id"},
			Value:  gorm.Expr(fmt.Sprintf("LAST_INSERT_ID(%s.id)", table)),
		})
	} else {
		tx = tx.Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}, {Name: "reports"}}})
	}

	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uuid"}},
		DoUpdates: updates,
	}).Create(v)
	if res.Error != nil {
		return UpsertResult{}, fmt.Errorf("upsert visiteur %s: %w", v.UUID, res.Error)
	}

	created := v.Reports == 1
	if mysql {
		// 1 pour une insertion, 2 pour une mise à jour
		created = res.RowsAffected == 1
	}
	return UpsertResult{ID: v.ID, Created: created}, nil
}

func addTo(table, column string, delta int64) clause.Assignment {
	return clause.Assignment{
		Column: clause.Column{Name: column},
		Value:  gorm.Expr(fmt.Sprintf("%s.%s + ?", table, column), delta),
	}
}
