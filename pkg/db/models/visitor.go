package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
)

// Visitor is one person's visit registration and lifecycle state. Rows are
// never deleted.
type Visitor struct {
	ID                 uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	Name               string                      `gorm:"column:name;not null"`
	Phone              string                      `gorm:"column:phone;not null"`
	Email              string                      `gorm:"column:email;not null"`
	VehicleNumber      string                      `gorm:"column:vehicle_number;not null"`
	PhotoURL           *string                     `gorm:"column:photo_url"`
	Purpose            string                      `gorm:"column:purpose;not null"`
	HostID             string                      `gorm:"column:host_id;not null"`
	CompanyName        string                      `gorm:"column:company_name"`
	CompanyAddress     string                      `gorm:"column:company_address"`
	PhotoIDType        string                      `gorm:"column:photo_id_type"`
	PhotoIDNumber      string                      `gorm:"column:photo_id_number"`
	FromDate           time.Time                   `gorm:"column:from_date;type:date;not null"`
	ToDate             time.Time                   `gorm:"column:to_date;type:date;not null"`
	VisitorType        enums.VisitorType           `gorm:"column:visitor_type;not null"`
	Assets             datatypes.JSONSlice[string] `gorm:"column:assets"`
	SpecialPermissions datatypes.JSONSlice[string] `gorm:"column:special_permissions"`
	Creche             enums.CrecheFlag            `gorm:"column:creche;not null"`
	Remarks            string                      `gorm:"column:remarks"`
	Status             enums.VisitorStatus         `gorm:"column:status;not null"`
	CheckInTime        *time.Time                  `gorm:"column:check_in_time"`
	CheckOutTime       *time.Time                  `gorm:"column:check_out_time"`
	CreatedAt          time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (Visitor) TableName() string { return "visitors" }

func (v *Visitor) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// VisitEvent is an immutable log entry, one per lifecycle transition.
type VisitEvent struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	VisitorID uuid.UUID         `gorm:"column:visitor_id;type:uuid;not null;index"`
	Action    enums.VisitAction `gorm:"column:action;not null"`
	Timestamp time.Time         `gorm:"column:timestamp;not null"`
	Visitor   *Visitor          `gorm:"foreignKey:VisitorID;references:ID"`
}

func (VisitEvent) TableName() string { return "visitor_logs" }

func (e *VisitEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Host is a staff member a visitor can be registered against.
type Host struct {
	ID    string `gorm:"column:id;primaryKey"`
	Name  string `gorm:"column:name;not null"`
	Email string `gorm:"column:email"`
}

func (Host) TableName() string { return "hosts" }
