package parcels

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrRecordMissing is returned by a Store when the targeted row does not exist.
	ErrRecordMissing = errors.New("store: record missing")
	// ErrRecipientInUse is returned by a Store when packages still reference a recipient.
	ErrRecipientInUse = errors.New("store: recipient referenced by packages")

	errNothingDeleted = errors.New("store: nothing deleted")
)

const (
	columnID            = "id"
	queryID             = columnID + " = ?"
	queryPackageID      = "package_id = ?"
	queryRecipientID    = "recipient_id = ?"
	orderRecipients     = "gender ASC, role ASC, display_name ASC, id ASC"
	orderRecipientNames = "display_name ASC, id ASC"
	orderPackagesNewest = "arrived_at DESC, id DESC"
	likeEscape          = " ESCAPE '\\'"
	unknownActivityName = "Sistem"
)

// Store is the persistence gateway consumed by the package lifecycle service.
// Fetch methods return (nil, nil) when the row does not exist. Mutations that take an
// *ActivityLog write it in the same transaction as the change it describes.
type Store interface {
	FetchRecipient(ctx context.Context, id string) (*Recipient, error)
	ListRecipients(ctx context.Context, filter RecipientFilter) ([]Recipient, error)
	FetchRecipientsByGenderAndRole(ctx context.Context, gender Gender, role Role) ([]Recipient, error)
	SearchRecipientsByNameAndGender(ctx context.Context, nameFragment string, gender Gender) ([]Recipient, error)
	CreateRecipient(ctx context.Context, recipient *Recipient, entry *ActivityLog) error
	UpdateRecipient(ctx context.Context, recipient *Recipient, entry *ActivityLog) error
	DeleteRecipient(ctx context.Context, id string, entry *ActivityLog) error

	InsertPackage(ctx context.Context, pkg *Package, entry *ActivityLog) error
	FetchPackage(ctx context.Context, id string) (*Package, error)
	ListPackages(ctx context.Context, filter PackageFilter) ([]Package, error)
	UpdatePackageStatus(ctx context.Context, id string, status Status, collectedAt *time.Time, entry *ActivityLog) (int64, error)
	UpdatePackageDetails(ctx context.Context, id string, condition Condition, note string, entry *ActivityLog) (int64, error)
	DeletePackageCascade(ctx context.Context, id string, entry *ActivityLog) (int64, error)

	AppendActivityLog(ctx context.Context, entry *ActivityLog) error
	FetchRecentActivityLogs(ctx context.Context, limit int) ([]ActivityView, error)

	Ping(ctx context.Context) error
}

// GormStore implements Store on top of a gorm connection.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an opened and migrated gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FetchRecipient(ctx context.Context, id string) (*Recipient, error) {
	var recipient Recipient
	err := s.db.WithContext(ctx).Where(queryID, id).Take(&recipient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &recipient, nil
}

func (s *GormStore) ListRecipients(ctx context.Context, filter RecipientFilter) ([]Recipient, error) {
	query := s.db.WithContext(ctx).Model(&Recipient{})
	if filter.Gender != "" {
		query = query.Where("gender = ?", filter.Gender)
	}
	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}
	if text := strings.TrimSpace(filter.Query); text != "" {
		pattern := containsPattern(text)
		query = query.Where("(LOWER(display_name) LIKE ?"+likeEscape+" OR LOWER(room_name) LIKE ?"+likeEscape+")", pattern, pattern)
	}

	var recipients []Recipient
	if err := query.Order(orderRecipients).Find(&recipients).Error; err != nil {
		return nil, err
	}
	return recipients, nil
}

func (s *GormStore) FetchRecipientsByGenderAndRole(ctx context.Context, gender Gender, role Role) ([]Recipient, error) {
	var recipients []Recipient
	err := s.db.WithContext(ctx).
		Where("gender = ? AND role = ?", gender, role).
		Order(orderRecipientNames).
		Find(&recipients).Error
	if err != nil {
		return nil, err
	}
	return recipients, nil
}

func (s *GormStore) SearchRecipientsByNameAndGender(ctx context.Context, nameFragment string, gender Gender) ([]Recipient, error) {
	var recipients []Recipient
	err := s.db.WithContext(ctx).
		Where("LOWER(display_name) LIKE ?"+likeEscape+" AND gender = ?", containsPattern(nameFragment), gender).
		Order(orderRecipientNames).
		Find(&recipients).Error
	if err != nil {
		return nil, err
	}
	return recipients, nil
}

func (s *GormStore) CreateRecipient(ctx context.Context, recipient *Recipient, entry *ActivityLog) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(recipient).Error; err != nil {
			return err
		}
		return appendWithin(tx, entry)
	})
}

func (s *GormStore) UpdateRecipient(ctx context.Context, recipient *Recipient, entry *ActivityLog) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Recipient{}).
			Where(queryID, recipient.ID).
			Updates(map[string]any{
				"room_name":    recipient.RoomName,
				"display_name": recipient.DisplayName,
				"phone":        recipient.Phone,
				"gender":       recipient.Gender,
				"role":         recipient.Role,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRecordMissing
		}
		return appendWithin(tx, entry)
	})
}

func (s *GormStore) DeleteRecipient(ctx context.Context, id string, entry *ActivityLog) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var references int64
		if err := tx.Model(&Package{}).Where(queryRecipientID, id).Count(&references).Error; err != nil {
			return err
		}
		if references > 0 {
			return ErrRecipientInUse
		}
		result := tx.Where(queryID, id).Delete(&Recipient{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRecordMissing
		}
		return appendWithin(tx, entry)
	})
	if IsForeignKeyViolation(err) {
		// A package was linked between the reference count and the delete.
		return ErrRecipientInUse
	}
	return err
}

// InsertPackage returns ErrRecordMissing when the linked recipient no longer exists.
func (s *GormStore) InsertPackage(ctx context.Context, pkg *Package, entry *ActivityLog) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Recipient").Create(pkg).Error; err != nil {
			return err
		}
		return appendWithin(tx, entry)
	})
	if pkg.RecipientID != nil && IsForeignKeyViolation(err) {
		return ErrRecordMissing
	}
	return err
}

func (s *GormStore) FetchPackage(ctx context.Context, id string) (*Package, error) {
	var pkg Package
	err := s.db.WithContext(ctx).Preload("Recipient").Where(queryID, id).Take(&pkg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (s *GormStore) ListPackages(ctx context.Context, filter PackageFilter) ([]Package, error) {
	query := s.db.WithContext(ctx).Preload("Recipient")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Gender != "" {
		query = query.Where("gender = ?", filter.Gender)
	}
	if !filter.ArrivedFrom.IsZero() {
		query = query.Where("arrived_at >= ?", filter.ArrivedFrom.UTC())
	}
	if !filter.ArrivedBefore.IsZero() {
		query = query.Where("arrived_at < ?", filter.ArrivedBefore.UTC())
	}

	var packages []Package
	if err := query.Order(orderPackagesNewest).Find(&packages).Error; err != nil {
		return nil, err
	}
	return packages, nil
}

// UpdatePackageStatus only touches rows whose status differs from the target, so two
// concurrent transitions cannot both record an audit entry.
func (s *GormStore) UpdatePackageStatus(ctx context.Context, id string, status Status, collectedAt *time.Time, entry *ActivityLog) (int64, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Package{}).
			Where("id = ? AND status <> ?", id, status).
			Updates(map[string]any{
				"status":       status,
				"collected_at": collectedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		if affected == 0 {
			return nil
		}
		return appendWithin(tx, entry)
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *GormStore) UpdatePackageDetails(ctx context.Context, id string, condition Condition, note string, entry *ActivityLog) (int64, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Package{}).
			Where(queryID, id).
			Updates(map[string]any{
				"item_condition": condition,
				"note":           note,
			})
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		if affected == 0 {
			return nil
		}
		return appendWithin(tx, entry)
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// DeletePackageCascade removes the package's audit entries and then the package in one
// transaction. When the package row does not exist the log deletions are rolled back and
// zero is returned.
func (s *GormStore) DeletePackageCascade(ctx context.Context, id string, entry *ActivityLog) (int64, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(queryPackageID, id).Delete(&ActivityLog{}).Error; err != nil {
			return err
		}
		result := tx.Where(queryID, id).Delete(&Package{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errNothingDeleted
		}
		affected = result.RowsAffected
		return appendWithin(tx, entry)
	})
	if errors.Is(err, errNothingDeleted) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *GormStore) AppendActivityLog(ctx context.Context, entry *ActivityLog) error {
	return appendWithin(s.db.WithContext(ctx), entry)
}

func (s *GormStore) FetchRecentActivityLogs(ctx context.Context, limit int) ([]ActivityView, error) {
	if limit <= 0 || limit > RecentActivityLimit {
		limit = RecentActivityLimit
	}
	var views []ActivityView
	err := s.db.WithContext(ctx).
		Table("activity_logs AS l").
		Select(`l.id, l.package_id, l.action, l.description, l.created_at,
			COALESCE(p.recipient_name, ?) AS recipient_name,
			COALESCE(p.item_description, '') AS item_description,
			COALESCE(r.room_name, '') AS room_name`, unknownActivityName).
		Joins("LEFT JOIN packages p ON l.package_id = p.id").
		Joins("LEFT JOIN recipients r ON p.recipient_id = r.id").
		Order("l.created_at DESC, l.id DESC").
		Limit(limit).
		Scan(&views).Error
	if err != nil {
		return nil, err
	}
	return views, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func appendWithin(tx *gorm.DB, entry *ActivityLog) error {
	if entry == nil {
		return nil
	}
	return tx.Omit("Package").Create(entry).Error
}

func containsPattern(fragment string) string {
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + escaper.Replace(strings.ToLower(strings.TrimSpace(fragment))) + "%"
}
