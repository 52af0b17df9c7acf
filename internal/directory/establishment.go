// Package directory is the read-only adapter over the establishment data
// (classes, enrollment, guardian links, role rosters). The tables are owned
// and imported by another part of the suite; this core only reads them.
package directory

import (
	"context"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"gorm.io/gorm"
)

// Establishment resolves broadcast audiences and principal metadata.
type Establishment interface {
	Classes(ctx context.Context) ([]string, error)
	StudentsInClass(ctx context.Context, className string) ([]uint, error)
	GuardiansOf(ctx context.Context, studentID uint) ([]uint, error)
	PrincipalsWithRole(ctx context.Context, role models.Role) ([]uint, error)
	DisplayNameOf(ctx context.Context, p models.Principal) (string, error)
	EmailOf(ctx context.Context, p models.Principal) (string, error)
}

// GormEstablishment reads the annuaire tables maintained by the
// establishment import module.
type GormEstablishment struct {
	db *gorm.DB
}

func NewGormEstablishment(db *gorm.DB) *GormEstablishment {
	return &GormEstablishment{db: db}
}

func (d *GormEstablishment) Classes(ctx context.Context) ([]string, error) {
	var names []string
	err := d.db.WithContext(ctx).Raw(`
		SELECT DISTINCT class_name FROM annuaire_membres
		WHERE class_name IS NOT NULL AND class_name <> ''
		ORDER BY class_name
	`).Scan(&names).Error
	return names, err
}

func (d *GormEstablishment) StudentsInClass(ctx context.Context, className string) ([]uint, error) {
	var ids []uint
	err := d.db.WithContext(ctx).Raw(`
		SELECT user_id FROM annuaire_membres
		WHERE role = ? AND class_name = ?
		ORDER BY user_id
	`, models.RoleEleve, className).Scan(&ids).Error
	return ids, err
}

func (d *GormEstablishment) GuardiansOf(ctx context.Context, studentID uint) ([]uint, error) {
	var ids []uint
	err := d.db.WithContext(ctx).Raw(`
		SELECT parent_id FROM annuaire_liens
		WHERE eleve_id = ?
		ORDER BY parent_id
	`, studentID).Scan(&ids).Error
	return ids, err
}

func (d *GormEstablishment) PrincipalsWithRole(ctx context.Context, role models.Role) ([]uint, error) {
	var ids []uint
	err := d.db.WithContext(ctx).Raw(`
		SELECT user_id FROM annuaire_membres
		WHERE role = ?
		ORDER BY user_id
	`, role).Scan(&ids).Error
	return ids, err
}

func (d *GormEstablishment) DisplayNameOf(ctx context.Context, p models.Principal) (string, error) {
	var name string
	err := d.db.WithContext(ctx).Raw(`
		SELECT display_name FROM annuaire_membres
		WHERE user_id = ? AND role = ?
	`, p.ID, p.Role).Scan(&name).Error
	return name, err
}

func (d *GormEstablishment) EmailOf(ctx context.Context, p models.Principal) (string, error) {
	var email string
	err := d.db.WithContext(ctx).Raw(`
		SELECT email FROM annuaire_membres
		WHERE user_id = ? AND role = ?
	`, p.ID, p.Role).Scan(&email).Error
	return email, err
}
