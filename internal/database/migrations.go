package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeLegacyEnums = "2026-10-01_normalize_legacy_enums"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeLegacyEnums, apply: normalizeLegacyEnums},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

type legacyValue struct {
	column string
	from   string
	to     string
}

// normalizeLegacyEnums rewrites the Indonesian enum spellings used by older desk
// databases into the canonical values.
func normalizeLegacyEnums(db *gorm.DB) error {
	recipientValues := []legacyValue{
		{column: "gender", from: "putra", to: string(parcels.GenderMale)},
		{column: "gender", from: "putri", to: string(parcels.GenderFemale)},
		{column: "role", from: "pembimbing", to: string(parcels.RoleGuardian)},
		{column: "role", from: "pengasuh", to: string(parcels.RoleCaretaker)},
		{column: "role", from: "takhosus", to: string(parcels.RoleSpecialist)},
		{column: "role", from: "pegawai", to: string(parcels.RoleStaff)},
	}
	packageValues := []legacyValue{
		{column: "gender", from: "putra", to: string(parcels.GenderMale)},
		{column: "gender", from: "putri", to: string(parcels.GenderFemale)},
		{column: "item_condition", from: "baik", to: string(parcels.ConditionNormal)},
		{column: "item_condition", from: "cepat_basi", to: string(parcels.ConditionPerishable)},
		{column: "status", from: "masuk", to: string(parcels.StatusArrived)},
		{column: "status", from: "diambil", to: string(parcels.StatusCollected)},
	}

	for _, value := range recipientValues {
		if err := db.Model(&parcels.Recipient{}).Where(value.column+" = ?", value.from).Update(value.column, value.to).Error; err != nil {
			return err
		}
	}
	for _, value := range packageValues {
		if err := db.Model(&parcels.Package{}).Where(value.column+" = ?", value.from).Update(value.column, value.to).Error; err != nil {
			return err
		}
	}
	return nil
}
