package db

import "time"

type ProductModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	TenantID    string `gorm:"type:uuid;index"`
	Code        string `gorm:"uniqueIndex;not null"`
	Name        string `gorm:"not null"`
	Description string
	DefaultTier string
	Features    []byte    `gorm:"type:jsonb"`
	Metadata    []byte    `gorm:"type:jsonb"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (ProductModel) TableName() string {
	return "products"
}

type CustomerModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:uuid;index"`
	Name      string `gorm:"not null"`
	Email     string `gorm:"index"`
	Company   string
	Metadata  []byte    `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"not null"`
}

func (CustomerModel) TableName() string {
	return "customers"
}

type LicenseModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	TenantID      string  `gorm:"type:uuid;index"`
	KeyHash       string  `gorm:"uniqueIndex;not null"`
	Status        string  `gorm:"index;not null"`
	Tier          string  `gorm:"not null"`
	ProductID     string  `gorm:"type:uuid;index;not null"`
	CustomerID    *string `gorm:"type:uuid;index"`
	MachinesLimit int     `gorm:"not null"`
	MachinesUsed  int     `gorm:"not null"`
	ExpiresAt     *time.Time
	Features      []byte     `gorm:"type:jsonb"`
	Entitlements  []byte     `gorm:"type:jsonb"`
	Metadata      []byte     `gorm:"type:jsonb"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
	DeletedAt     *time.Time `gorm:"index"`
}

func (LicenseModel) TableName() string {
	return "licenses"
}

type MachineModel struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	LicenseID     string `gorm:"type:uuid;uniqueIndex:idx_machine_license_fingerprint;not null"`
	Fingerprint   string `gorm:"type:varchar(64);uniqueIndex:idx_machine_license_fingerprint;not null"`
	Hostname      string
	Platform      string
	Version       string
	LastHeartbeat *time.Time
	Metadata      []byte    `gorm:"type:jsonb"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (MachineModel) TableName() string {
	return "machines"
}

type AuditEventModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	LicenseID string    `gorm:"type:uuid;index:idx_audit_license_created;not null"`
	EventType string    `gorm:"index;not null"`
	Actor     string    `gorm:"not null"`
	Detail    []byte    `gorm:"type:jsonb"`
	PrevHash  *string   `gorm:"type:varchar(64)"`
	EventHash string    `gorm:"type:varchar(64);not null"`
	Signature string    `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `gorm:"index:idx_audit_license_created;not null"`
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}
