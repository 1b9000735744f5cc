package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
)

type Repositories struct {
	GmailAccountRepository    interfaces.GmailAccountRepository
	GmailLabelRepository      interfaces.GmailLabelRepository
	LabelSyncRepository       interfaces.LabelSyncRepository
	EmailRepository           interfaces.EmailRepository
	EmailAttachmentRepository interfaces.EmailAttachmentRepository
	EmailThreadRepository     interfaces.EmailThreadRepository
	SyncJobRepository         interfaces.SyncJobRepository
}

func InitRepositories(mailsyncDB *gorm.DB) *Repositories {
	return &Repositories{
		GmailAccountRepository:    NewGmailAccountRepository(mailsyncDB),
		GmailLabelRepository:      NewGmailLabelRepository(mailsyncDB),
		LabelSyncRepository:       NewLabelSyncRepository(mailsyncDB),
		EmailRepository:           NewEmailRepository(mailsyncDB),
		EmailAttachmentRepository: NewEmailAttachmentRepository(mailsyncDB),
		EmailThreadRepository:     NewEmailThreadRepository(mailsyncDB),
		SyncJobRepository:         NewSyncJobRepository(mailsyncDB),
	}
}

func MigrateMailsyncDB(dbConfig *config.MailsyncDatabaseConfig, mailsyncDB *gorm.DB) error {
	db, err := mailsyncDB.DB()
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)

	err = mailsyncDB.AutoMigrate(
		&models.GmailAccount{},
		&models.GmailLabel{},
		&models.LabelSyncState{},
		&models.EmailThread{},
		&models.Email{},
		&models.EmailAttachment{},
		&models.SyncJob{},
	)

	db.SetMaxIdleConns(dbConfig.MaxIdleConn)
	db.SetMaxOpenConns(dbConfig.MaxConn)
	db.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
