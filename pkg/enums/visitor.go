package enums

import "strings"

// VisitorStatus is the lifecycle state of a visitor record. The only moves
// are registered -> checked_in -> checked_out.
type VisitorStatus string

const (
	VisitorStatusRegistered VisitorStatus = "registered"
	VisitorStatusCheckedIn  VisitorStatus = "checked_in"
	VisitorStatusCheckedOut VisitorStatus = "checked_out"
)

var visitorStatuses = set[VisitorStatus]{VisitorStatusRegistered, VisitorStatusCheckedIn, VisitorStatusCheckedOut}

func (s VisitorStatus) String() string { return string(s) }

func (s VisitorStatus) IsValid() bool { return visitorStatuses.has(s) }

// IsTerminal reports whether no transition leaves the status.
func (s VisitorStatus) IsTerminal() bool {
	return s == VisitorStatusCheckedOut
}

// Next is the status a visitor moves to from s, or false at the end of the
// lifecycle.
func (s VisitorStatus) Next() (VisitorStatus, bool) {
	switch s {
	case VisitorStatusRegistered:
		return VisitorStatusCheckedIn, true
	case VisitorStatusCheckedIn:
		return VisitorStatusCheckedOut, true
	default:
		return "", false
	}
}

func ParseVisitorStatus(value string) (VisitorStatus, error) {
	return visitorStatuses.parse("visitor status", value)
}

// VisitorStatusValues lists every status in lifecycle order.
func VisitorStatusValues() []string { return visitorStatuses.values() }

// VisitorType is the category captured at registration.
type VisitorType string

const (
	VisitorTypeVisitor  VisitorType = "visitor"
	VisitorTypeEmployee VisitorType = "employee"
)

var visitorTypes = set[VisitorType]{VisitorTypeVisitor, VisitorTypeEmployee}

func (t VisitorType) String() string { return string(t) }

func (t VisitorType) IsValid() bool { return visitorTypes.has(t) }

// ParseVisitorType treats blank input as VisitorTypeVisitor.
func ParseVisitorType(value string) (VisitorType, error) {
	if isBlank(value) {
		return VisitorTypeVisitor, nil
	}
	return visitorTypes.parse("visitor type", value)
}

// CrecheFlag records whether creche facilities were requested.
type CrecheFlag string

const (
	CrecheYes CrecheFlag = "yes"
	CrecheNo  CrecheFlag = "no"
)

var crecheFlags = set[CrecheFlag]{CrecheYes, CrecheNo}

// ParseCrecheFlag treats blank input as CrecheNo.
func ParseCrecheFlag(value string) (CrecheFlag, error) {
	if isBlank(value) {
		return CrecheNo, nil
	}
	return crecheFlags.parse("creche flag", value)
}

// VisitAction labels an entry in the visit event log.
type VisitAction string

const (
	VisitActionCheckIn  VisitAction = "check_in"
	VisitActionCheckOut VisitAction = "check_out"
)

var visitActions = set[VisitAction]{VisitActionCheckIn, VisitActionCheckOut}

func (a VisitAction) String() string { return string(a) }

func (a VisitAction) IsValid() bool { return visitActions.has(a) }

func ParseVisitAction(value string) (VisitAction, error) {
	return visitActions.parse("visit action", value)
}

// ActionFor is the log action recorded when a visitor enters status.
func ActionFor(status VisitorStatus) (VisitAction, bool) {
	switch status {
	case VisitorStatusCheckedIn:
		return VisitActionCheckIn, true
	case VisitorStatusCheckedOut:
		return VisitActionCheckOut, true
	default:
		return "", false
	}
}

func isBlank(value string) bool {
	return strings.TrimSpace(value) == ""
}
