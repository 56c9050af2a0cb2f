package db

import (
	"fmt"
	"log"

	"domainflow/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Open connects to MySQL and returns the handle. The handle is constructed
// once at process start and passed down by the caller; nothing in the
// project holds a package-level database.
func Open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	log.Println("[DB] MySQL connected")
	return gdb, nil
}

// Migrate runs database migrations for all models
func Migrate(gdb *gorm.DB) error {
	log.Println("[DB] Starting database migration...")

	models := []interface{}{
		&model.User{},
		&model.Persona{},
		&model.DomainOrder{},
		&model.PaymentEvent{},
		&model.Certificate{},
	}

	if err := gdb.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("[DB] Migration completed (%d tables)", len(models))
	return nil
}
