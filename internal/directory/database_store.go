package directory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
var ErrUnsupportedDialect = errors.New("directory.unsupported_dialect")

// DatabaseDirectory persists users with GORM (sqlite or postgres by URL).
type DatabaseDirectory struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseDirectory) Driver() string {
	return store.driverLabel
}

type userRow struct {
	ID                   string `gorm:"column:id;primaryKey"`
	Subject              string `gorm:"column:subject;uniqueIndex;not null"`
	Email                string `gorm:"column:email;uniqueIndex;not null"`
	DisplayName          string `gorm:"column:display_name;not null;default:''"`
	EmailVerified        bool   `gorm:"column:email_verified;not null;default:false"`
	Disabled             bool   `gorm:"column:disabled;not null;default:false"`
	Admin                bool   `gorm:"column:admin;not null;default:false"`
	TokensValidAfterUnix int64  `gorm:"column:tokens_valid_after_unix;not null;default:0"`
	CreatedUnix          int64  `gorm:"column:created_unix;not null"`
}

func (userRow) TableName() string {
	return "directory_users"
}

// NewDatabaseDirectory opens the database and migrates the schema.
func NewDatabaseDirectory(ctx context.Context, databaseURL string) (*DatabaseDirectory, error) {
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("directory.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRow{}); migrateErr != nil {
		return nil, fmt.Errorf("directory.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseDirectory{db: gormDB, driverLabel: driverLabel}, nil
}

// LookupByEmail returns the user for an email.
func (store *DatabaseDirectory) LookupByEmail(ctx context.Context, email string) (*User, error) {
	var row userRow
	err := store.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("directory.lookup.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("directory.lookup.%s: %w", store.driverLabel, err)
	}
	return rowToUser(row), nil
}

// ListUsers returns all entries ordered by email.
func (store *DatabaseDirectory) ListUsers(ctx context.Context) ([]User, error) {
	var rows []userRow
	if err := store.db.WithContext(ctx).Order("email asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("directory.list.%s: %w", store.driverLabel, err)
	}
	users := make([]User, 0, len(rows))
	for _, row := range rows {
		users = append(users, *rowToUser(row))
	}
	return users, nil
}

// AddUser creates the user if absent.
func (store *DatabaseDirectory) AddUser(ctx context.Context, email string, displayName string) (*User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return nil, fmt.Errorf("directory.add.%s: %w", store.driverLabel, ErrEmailRequired)
	}
	if existing, lookupErr := store.LookupByEmail(ctx, normalized); lookupErr == nil {
		return existing, nil
	} else if !errors.Is(lookupErr, ErrUserNotFound) {
		return nil, lookupErr
	}
	row := userRow{
		ID:          uuid.NewString(),
		Subject:     "pending:" + uuid.NewString(),
		Email:       normalized,
		DisplayName: displayName,
		CreatedUnix: time.Now().UTC().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("directory.add.%s: %w", store.driverLabel, err)
	}
	return rowToUser(row), nil
}

// UpsertFromLogin records a login, claiming any pending entry for the email.
func (store *DatabaseDirectory) UpsertFromLogin(ctx context.Context, subject string, email string, emailVerified bool) (*User, error) {
	normalized := normalizeEmail(email)
	var row userRow
	err := store.db.WithContext(ctx).Where("subject = ?", subject).Take(&row).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{"email": normalized, "email_verified": emailVerified}
		if updateErr := store.db.WithContext(ctx).Model(&userRow{}).Where("subject = ?", subject).Updates(updates).Error; updateErr != nil {
			return nil, fmt.Errorf("directory.upsert.%s: %w", store.driverLabel, updateErr)
		}
		row.Email = normalized
		row.EmailVerified = emailVerified
		return rowToUser(row), nil
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("directory.upsert.%s: %w", store.driverLabel, err)
	}

	// A pending entry created through AddUser is claimed on first login.
	pendingErr := store.db.WithContext(ctx).Where("email = ? AND subject LIKE ?", normalized, "pending:%").Take(&row).Error
	if pendingErr == nil {
		updates := map[string]interface{}{"subject": subject, "email_verified": emailVerified}
		if updateErr := store.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", row.ID).Updates(updates).Error; updateErr != nil {
			return nil, fmt.Errorf("directory.upsert.%s: %w", store.driverLabel, updateErr)
		}
		row.Subject = subject
		row.EmailVerified = emailVerified
		return rowToUser(row), nil
	}
	if !errors.Is(pendingErr, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("directory.upsert.%s: %w", store.driverLabel, pendingErr)
	}

	row = userRow{
		ID:            uuid.NewString(),
		Subject:       subject,
		Email:         normalized,
		EmailVerified: emailVerified,
		CreatedUnix:   time.Now().UTC().Unix(),
	}
	if createErr := store.db.WithContext(ctx).Create(&row).Error; createErr != nil {
		return nil, fmt.Errorf("directory.upsert.%s: %w", store.driverLabel, createErr)
	}
	return rowToUser(row), nil
}

// SetDisabled toggles the disabled flag.
func (store *DatabaseDirectory) SetDisabled(ctx context.Context, subject string, disabled bool) error {
	result := store.db.WithContext(ctx).Model(&userRow{}).Where("subject = ?", subject).Update("disabled", disabled)
	if result.Error != nil {
		return fmt.Errorf("directory.set_disabled.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("directory.set_disabled.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	return nil
}

// RevokeTokens moves the watermark to now.
func (store *DatabaseDirectory) RevokeTokens(ctx context.Context, subject string) error {
	result := store.db.WithContext(ctx).Model(&userRow{}).
		Where("subject = ?", subject).
		Update("tokens_valid_after_unix", time.Now().UTC().Unix())
	if result.Error != nil {
		return fmt.Errorf("directory.revoke_tokens.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("directory.revoke_tokens.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	return nil
}

// IsRevoked answers the verifier's revocation check.
func (store *DatabaseDirectory) IsRevoked(ctx context.Context, subject string, authTime time.Time) (bool, error) {
	var row userRow
	err := store.db.WithContext(ctx).Where("subject = ?", subject).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("directory.is_revoked.%s: %w", store.driverLabel, err)
	}
	if row.Disabled {
		return true, nil
	}
	if row.TokensValidAfterUnix != 0 && authTime.Unix() < row.TokensValidAfterUnix {
		return true, nil
	}
	return false, nil
}

func rowToUser(row userRow) *User {
	return &User{
		ID:                   row.ID,
		Subject:              row.Subject,
		Email:                row.Email,
		DisplayName:          row.DisplayName,
		EmailVerified:        row.EmailVerified,
		Disabled:             row.Disabled,
		Admin:                row.Admin,
		TokensValidAfterUnix: row.TokensValidAfterUnix,
	}
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("directory.parse_url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn := parsed.Opaque
		if dsn == "" {
			dsn = parsed.Host + parsed.Path
		}
		if dsn == "" {
			dsn = parsed.Path
		}
		if parsed.RawQuery != "" {
			dsn += "?" + parsed.RawQuery
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("directory.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}
