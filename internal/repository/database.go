package repository

import (
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func InitDB() (*gorm.DB, error) {
	// Build connection string
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_SSLMODE"),
	)

	// Connect to database
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Auto-migrate models
	if err := db.AutoMigrate(
		&models.Conversation{},
		&models.Participant{},
		&models.Message{},
		&models.Attachment{},
		&models.ReadReceipt{},
		&models.Notification{},
		&models.NotificationPreference{},
	); err != nil {
		return nil, err
	}

	return db, nil
}

// inTransaction reports whether db is already running inside a transaction.
// Transact must not open a nested transaction on the same connection.
func inTransaction(db *gorm.DB) bool {
	if db.Statement == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}

// Transact runs fn in a transaction with rollback on error. A serialization
// or deadlock failure is retried once transparently; anything else
// propagates. When db is already transactional, fn joins the open
// transaction instead of nesting a new one.
func Transact(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if inTransaction(db) {
		return fn(db)
	}
	err := db.Transaction(fn)
	if err != nil && retryableTxError(err) {
		err = db.Transaction(fn)
	}
	return err
}

func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
