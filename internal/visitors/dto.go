package visitors

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/visitorpass-backend/internal/hosts"
	"github.com/angelmondragon/visitorpass-backend/internal/qrtoken"
	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	"github.com/angelmondragon/visitorpass-backend/pkg/types"
)

// VisitorDTO is the API view of a visitor record.
type VisitorDTO struct {
	ID                 uuid.UUID           `json:"id"`
	Name               string              `json:"name"`
	Phone              string              `json:"phone"`
	Email              string              `json:"email"`
	VehicleNumber      string              `json:"vehicleNumber"`
	PhotoURL           *string             `json:"photoUrl"`
	Purpose            string              `json:"purpose"`
	HostID             string              `json:"hostId"`
	CompanyName        string              `json:"companyName,omitempty"`
	CompanyAddress     string              `json:"companyAddress,omitempty"`
	PhotoIDType        string              `json:"photoIdType,omitempty"`
	PhotoIDNumber      string              `json:"photoIdNumber,omitempty"`
	FromDate           types.Date          `json:"fromDate"`
	ToDate             types.Date          `json:"toDate"`
	VisitorType        enums.VisitorType   `json:"visitorType"`
	Assets             []string            `json:"assets"`
	SpecialPermissions []string            `json:"specialPermissions"`
	Creche             enums.CrecheFlag    `json:"creche"`
	Remarks            string              `json:"remarks,omitempty"`
	Status             enums.VisitorStatus `json:"status"`
	CheckInTime        *time.Time          `json:"checkInTime"`
	CheckOutTime       *time.Time          `json:"checkOutTime"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

func FromModel(m *models.Visitor) *VisitorDTO {
	if m == nil {
		return nil
	}
	return &VisitorDTO{
		ID:                 m.ID,
		Name:               m.Name,
		Phone:              m.Phone,
		Email:              m.Email,
		VehicleNumber:      m.VehicleNumber,
		PhotoURL:           m.PhotoURL,
		Purpose:            m.Purpose,
		HostID:             m.HostID,
		CompanyName:        m.CompanyName,
		CompanyAddress:     m.CompanyAddress,
		PhotoIDType:        m.PhotoIDType,
		PhotoIDNumber:      m.PhotoIDNumber,
		FromDate:           types.NewDate(m.FromDate.Year(), m.FromDate.Month(), m.FromDate.Day()),
		ToDate:             types.NewDate(m.ToDate.Year(), m.ToDate.Month(), m.ToDate.Day()),
		VisitorType:        m.VisitorType,
		Assets:             nonNil(m.Assets),
		SpecialPermissions: nonNil(m.SpecialPermissions),
		Creche:             m.Creche,
		Remarks:            m.Remarks,
		Status:             m.Status,
		CheckInTime:        m.CheckInTime,
		CheckOutTime:       m.CheckOutTime,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// FromModels maps a list preserving order.
func FromModels(rows []models.Visitor) []VisitorDTO {
	out := make([]VisitorDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out
}

// VisitEventDTO is one log entry joined with the visitor fields shown beside it.
type VisitEventDTO struct {
	ID            uuid.UUID         `json:"id"`
	VisitorID     uuid.UUID         `json:"visitorId"`
	Action        enums.VisitAction `json:"action"`
	Timestamp     time.Time         `json:"timestamp"`
	VisitorName   string            `json:"visitorName"`
	VisitorPhone  string            `json:"visitorPhone"`
	VehicleNumber string            `json:"vehicleNumber"`
}

func EventFromModel(m *models.VisitEvent) VisitEventDTO {
	dto := VisitEventDTO{
		ID:        m.ID,
		VisitorID: m.VisitorID,
		Action:    m.Action,
		Timestamp: m.Timestamp,
	}
	if m.Visitor != nil {
		dto.VisitorName = m.Visitor.Name
		dto.VisitorPhone = m.Visitor.Phone
		dto.VehicleNumber = m.Visitor.VehicleNumber
	}
	return dto
}

func EventsFromModels(rows []models.VisitEvent) []VisitEventDTO {
	out := make([]VisitEventDTO, 0, len(rows))
	for i := range rows {
		out = append(out, EventFromModel(&rows[i]))
	}
	return out
}

// RegisterInput captures a registration submission.
type RegisterInput struct {
	Name               string
	Phone              string
	Email              string
	VehicleNumber      string
	Photo              string
	Purpose            string
	HostID             string
	CompanyName        string
	CompanyAddress     string
	PhotoIDType        string
	PhotoIDNumber      string
	FromDate           types.Date
	ToDate             types.Date
	SingleDay          bool
	VisitorType        string
	Assets             []string
	SpecialPermissions []string
	Creche             string
	Remarks            string
	// CheckIn overrides the configured immediate check-in default when set.
	CheckIn   *bool
	RequestID string
}

// RegistrationResult is returned after a successful registration.
type RegistrationResult struct {
	Visitor           VisitorDTO     `json:"visitor"`
	Host              *hosts.HostDTO `json:"host,omitempty"`
	QR                *qrtoken.Token `json:"qr"`
	PhotoUploadFailed bool           `json:"photoUploadFailed"`
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
