package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/repository"
	"gorm.io/gorm"
)

// The media table normally exists already; AutoMigrate only fills the gap on
// fresh databases.
func createMediaTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_media",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.MediaModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_media_src ON media (src)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MediaModel{})
		},
	}
}
