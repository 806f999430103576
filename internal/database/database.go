package database

import (
	"log"

	"oneclaw/config"
	"oneclaw/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// AutoMigrate runs Gorm auto-migration for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Wallet{},
		&models.Transaction{},
		&models.WorkflowRun{},
		&models.PlatformIdentity{},
		&models.Admin{},
	)
}

// SeedAdmin creates the first admin account from config when none exists.
// Skipped when ADMIN_PASSWORD is unset.
func SeedAdmin(db *gorm.DB, cfg *config.AdminConfig) {
	if cfg.Password == "" {
		return
	}
	var n int64
	if err := db.Model(&models.Admin{}).Count(&n).Error; err != nil || n > 0 {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[seed] admin password hash: %v", err)
		return
	}
	if err := db.Create(&models.Admin{Email: cfg.Email, PasswordHash: string(hash)}).Error; err != nil {
		log.Printf("[seed] create admin: %v", err)
		return
	}
	log.Printf("[seed] created admin %s", cfg.Email)
}
