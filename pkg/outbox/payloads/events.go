package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
)

// VisitorRegisteredEvent carries what the registration email needs, including
// the joined host and the QR issuance time so the worker can re-render the
// same token.
type VisitorRegisteredEvent struct {
	VisitorID     uuid.UUID           `json:"visitorId"`
	Name          string              `json:"name"`
	Email         string              `json:"email"`
	Phone         string              `json:"phone"`
	VehicleNumber string              `json:"vehicleNumber"`
	Purpose       string              `json:"purpose"`
	HostID        string              `json:"hostId"`
	HostName      string              `json:"hostName,omitempty"`
	HostEmail     string              `json:"hostEmail,omitempty"`
	VisitorType   enums.VisitorType   `json:"visitorType"`
	Status        enums.VisitorStatus `json:"status"`
	FromDate      string              `json:"fromDate"`
	ToDate        string              `json:"toDate"`
	CheckoutURL   string              `json:"checkoutUrl"`
	IssuedAt      time.Time           `json:"issuedAt"`
}

type VisitorCheckedInEvent struct {
	VisitorID   uuid.UUID `json:"visitorId"`
	CheckInTime time.Time `json:"checkInTime"`
}

type VisitorCheckedOutEvent struct {
	VisitorID    uuid.UUID  `json:"visitorId"`
	CheckInTime  *time.Time `json:"checkInTime,omitempty"`
	CheckOutTime time.Time  `json:"checkOutTime"`
}
