package parcels

import (
	"fmt"
	"strings"
	"time"
)

// Gender is the dormitory wing a recipient or package belongs to.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Role enumerates the recipient roles that can be stored.
type Role string

const (
	RoleGuardian   Role = "guardian"
	RoleCaretaker  Role = "caretaker"
	RoleSpecialist Role = "specialist"
	RoleStaff      Role = "staff"
)

// roleStudent is only ever assigned per package, never stored on a Recipient.
const roleStudent = "student"

// Condition tags how urgently a package should be picked up.
type Condition string

const (
	ConditionNormal     Condition = "normal"
	ConditionPerishable Condition = "perishable"
)

// Status is the package lifecycle position.
type Status string

const (
	StatusArrived   Status = "arrived"
	StatusCollected Status = "collected"
)

// Activity actions written to the audit trail.
const (
	ActionAdded            = "added"
	ActionUpdated          = "updated"
	ActionCollected        = "collected"
	ActionDeleted          = "deleted"
	ActionNotified         = "notified"
	ActionRecipientAdded   = "recipient_added"
	ActionRecipientUpdated = "recipient_updated"
	ActionRecipientDeleted = "recipient_deleted"
)

const (
	maxIdentifierLength = 190
	maxTextLength       = 255
	// RecentActivityLimit caps how many audit entries are returned for display.
	RecentActivityLimit = 100
)

var genderAliases = map[string]Gender{
	"male":   GenderMale,
	"putra":  GenderMale,
	"female": GenderFemale,
	"putri":  GenderFemale,
}

var roleAliases = map[string]Role{
	"guardian":   RoleGuardian,
	"pembimbing": RoleGuardian,
	"caretaker":  RoleCaretaker,
	"pengasuh":   RoleCaretaker,
	"specialist": RoleSpecialist,
	"takhosus":   RoleSpecialist,
	"staff":      RoleStaff,
	"pegawai":    RoleStaff,
}

var conditionAliases = map[string]Condition{
	"normal":     ConditionNormal,
	"baik":       ConditionNormal,
	"perishable": ConditionPerishable,
	"urgent":     ConditionPerishable,
	"cepat_basi": ConditionPerishable,
}

var statusAliases = map[string]Status{
	"arrived":   StatusArrived,
	"masuk":     StatusArrived,
	"collected": StatusCollected,
	"diambil":   StatusCollected,
}

// ParseGender accepts canonical values and the legacy Indonesian aliases.
func ParseGender(raw string) (Gender, error) {
	if gender, ok := genderAliases[normalizeKey(raw)]; ok {
		return gender, nil
	}
	return "", fmt.Errorf("unknown gender %q", raw)
}

// ParseRole accepts canonical values and the legacy Indonesian aliases.
func ParseRole(raw string) (Role, error) {
	key := normalizeKey(raw)
	if key == roleStudent || key == "santri" {
		return "", fmt.Errorf("role %q is assigned per package and cannot be stored", raw)
	}
	if role, ok := roleAliases[key]; ok {
		return role, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// ParseCondition maps an empty value to ConditionNormal.
func ParseCondition(raw string) (Condition, error) {
	key := normalizeKey(raw)
	if key == "" {
		return ConditionNormal, nil
	}
	if condition, ok := conditionAliases[key]; ok {
		return condition, nil
	}
	return "", fmt.Errorf("unknown condition %q", raw)
}

// ParseStatus accepts canonical values and the legacy Indonesian aliases.
func ParseStatus(raw string) (Status, error) {
	if status, ok := statusAliases[normalizeKey(raw)]; ok {
		return status, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

func normalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Recipient is a person or room able to receive packages.
type Recipient struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	RoomName    string    `gorm:"column:room_name;size:255;not null"`
	DisplayName string    `gorm:"column:display_name;size:255;not null;index:idx_recipients_gender_name,priority:2"`
	Phone       string    `gorm:"column:phone;size:32;not null;default:''"`
	Gender      Gender    `gorm:"column:gender;size:16;not null;index:idx_recipients_gender_name,priority:1"`
	Role        Role      `gorm:"column:role;size:32;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Recipient) TableName() string {
	return "recipients"
}

// Notifiable reports whether the recipient carries a phone number.
func (r *Recipient) Notifiable() bool {
	return r != nil && strings.TrimSpace(r.Phone) != ""
}

// Package is a physical item logged at arrival.
type Package struct {
	ID              string     `gorm:"column:id;primaryKey;size:190;not null"`
	RecipientID     *string    `gorm:"column:recipient_id;size:190;index"`
	Recipient       *Recipient `gorm:"foreignKey:RecipientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	SenderName      string     `gorm:"column:sender_name;size:255;not null"`
	RecipientName   string     `gorm:"column:recipient_name;size:255;not null"`
	ItemDescription string     `gorm:"column:item_description;size:255;not null"`
	Condition       Condition  `gorm:"column:item_condition;size:16;not null;default:'normal'"`
	Note            string     `gorm:"column:note;type:text;not null;default:''"`
	Status          Status     `gorm:"column:status;size:16;not null;default:'arrived';index"`
	Gender          Gender     `gorm:"column:gender;size:16;not null"`
	ArrivedAt       time.Time  `gorm:"column:arrived_at;not null;index"`
	CollectedAt     *time.Time `gorm:"column:collected_at"`
}

// TableName provides the explicit table binding for GORM.
func (Package) TableName() string {
	return "packages"
}

// RoomName returns the linked recipient's room or an empty string.
func (p *Package) RoomName() string {
	if p == nil || p.Recipient == nil {
		return ""
	}
	return p.Recipient.RoomName
}

// ActivityLog is an append-only audit trail entry.
type ActivityLog struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	PackageID   *string   `gorm:"column:package_id;size:190;index"`
	Package     *Package  `gorm:"foreignKey:PackageID;references:ID;constraint:OnDelete:RESTRICT"`
	Action      string    `gorm:"column:action;size:64;not null"`
	Description string    `gorm:"column:description;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (ActivityLog) TableName() string {
	return "activity_logs"
}

// ActivityView is an audit entry joined with the package it references.
type ActivityView struct {
	ID              string
	PackageID       *string
	Action          string
	Description     string
	CreatedAt       time.Time
	RecipientName   string
	ItemDescription string
	RoomName        string
}

// RecipientInput carries the administrative fields for creating or editing a recipient.
type RecipientInput struct {
	RoomName    string
	DisplayName string
	Phone       string
	Gender      string
	Role        string
}

// RecipientFilter narrows recipient listings. Empty fields are ignored.
type RecipientFilter struct {
	Gender Gender
	Role   Role
	Query  string
}

// ArrivalInput carries the fields recorded when a package is logged.
type ArrivalInput struct {
	RecipientID     string
	SenderName      string
	RecipientName   string
	ItemDescription string
	Condition       string
	Note            string
	Gender          string
}

// PackageFilter narrows package listings. Zero values are ignored.
type PackageFilter struct {
	Status        Status
	Gender        Gender
	ArrivedFrom   time.Time
	ArrivedBefore time.Time
}
