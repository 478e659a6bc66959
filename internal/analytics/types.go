package analytics

import "github.com/google/uuid"

// Occupancy counts visitors per lifecycle status.
// Total always equals Registered + CheckedIn + CheckedOut.
type Occupancy struct {
	Total      int `json:"total"`
	CheckedIn  int `json:"checkedIn"`
	CheckedOut int `json:"checkedOut"`
	Registered int `json:"registered"`
}

// LabelValue is one histogram bucket.
type LabelValue struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// RepeatVisitor is a visitor identity with more than one logged event.
type RepeatVisitor struct {
	VisitorID uuid.UUID `json:"visitorId"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Visits    int       `json:"visits"`
}

// Dashboard bundles every derived metric for one snapshot.
type Dashboard struct {
	Occupancy        Occupancy       `json:"occupancy"`
	WeekdayVolume    []LabelValue    `json:"weekdayVolume"`
	HourlyCheckIns   []LabelValue    `json:"hourlyCheckIns"`
	RepeatVisitors   []RepeatVisitor `json:"repeatVisitors"`
	TypeDistribution []LabelValue    `json:"typeDistribution"`
}
