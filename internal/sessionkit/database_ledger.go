package sessionkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("ledger.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("ledger.empty_database_url")
	errSQLiteEmptyPath     = errors.New("ledger.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("ledger.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("ledger.unsupported_no_scheme")
)

// DatabaseRotationLedger persists rotation state using GORM so multiple
// server instances observe the same compare-and-swap.
type DatabaseRotationLedger struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (ledger *DatabaseRotationLedger) Driver() string {
	return ledger.driverLabel
}

type rotationRow struct {
	Subject     string `gorm:"column:subject;primaryKey"`
	TokenHash   string `gorm:"column:token_hash;not null"`
	ExpiresUnix int64  `gorm:"column:expires_unix;not null"`
	UpdatedUnix int64  `gorm:"column:updated_unix;not null"`
}

func (rotationRow) TableName() string {
	return "refresh_rotations"
}

// NewDatabaseRotationLedger constructs a GORM-backed ledger from a
// postgres:// or sqlite:// URL.
func NewDatabaseRotationLedger(ctx context.Context, databaseURL string) (*DatabaseRotationLedger, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("ledger.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("ledger.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&rotationRow{}); migrateErr != nil {
		return nil, fmt.Errorf("ledger.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseRotationLedger{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Seed upserts the subject's current token hash.
func (ledger *DatabaseRotationLedger) Seed(ctx context.Context, subject string, tokenHash string, expiresUnix int64) error {
	nowUnix := time.Now().UTC().Unix()
	row := rotationRow{
		Subject:     subject,
		TokenHash:   tokenHash,
		ExpiresUnix: expiresUnix,
		UpdatedUnix: nowUnix,
	}
	result := ledger.db.WithContext(ctx).Save(&row)
	if result.Error != nil {
		return fmt.Errorf("ledger.seed.%s: %w", ledger.driverLabel, result.Error)
	}
	return nil
}

// Rotate swaps hashes with a conditional UPDATE; zero rows affected means the
// presented hash lost the race or the entry is gone.
func (ledger *DatabaseRotationLedger) Rotate(ctx context.Context, subject string, presentedHash string, nextHash string, expiresUnix int64) error {
	nowUnix := time.Now().UTC().Unix()
	result := ledger.db.WithContext(ctx).Model(&rotationRow{}).
		Where("subject = ? AND token_hash = ? AND expires_unix > ?", subject, presentedHash, nowUnix).
		Updates(map[string]interface{}{
			"token_hash":   nextHash,
			"expires_unix": expiresUnix,
			"updated_unix": nowUnix,
		})
	if result.Error != nil {
		return fmt.Errorf("ledger.rotate.%s: %w", ledger.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		var row rotationRow
		findErr := ledger.db.WithContext(ctx).Where("subject = ? AND expires_unix > ?", subject, nowUnix).Take(&row).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("ledger.rotate.%s: %w", ledger.driverLabel, ErrRotationUnknown)
		}
		if findErr != nil {
			return fmt.Errorf("ledger.rotate.%s: %w", ledger.driverLabel, findErr)
		}
		return fmt.Errorf("ledger.rotate.%s: %w", ledger.driverLabel, ErrRotationConflict)
	}
	return nil
}

// Drop deletes the subject's entry.
func (ledger *DatabaseRotationLedger) Drop(ctx context.Context, subject string) error {
	result := ledger.db.WithContext(ctx).Where("subject = ?", subject).Delete(&rotationRow{})
	if result.Error != nil {
		return fmt.Errorf("ledger.drop.%s: %w", ledger.driverLabel, result.Error)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("ledger.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("ledger.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("ledger.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("ledger.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
