package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createMessageNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_message_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.MessageNotificationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_message_notifications_due ON message_notifications (scheduled_at, created_at) WHERE status = 'pending'`,
				`CREATE INDEX IF NOT EXISTS idx_message_notifications_claimed ON message_notifications (claimed_at) WHERE status = 'in_progress'`,
				`CREATE INDEX IF NOT EXISTS idx_message_notifications_status_robot_created ON message_notifications (status, robot, created_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MessageNotificationModel{})
		},
	}
}
