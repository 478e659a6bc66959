package enums

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const AggregateVisitor OutboxAggregateType = "visitor"

var aggregateTypes = set[OutboxAggregateType]{AggregateVisitor}

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return aggregateTypes.parse("aggregate type", value)
}

// OutboxEventType maps to the event_type column of outbox_events and is
// published as the event_type message attribute.
type OutboxEventType string

const (
	EventVisitorRegistered OutboxEventType = "visitor_registered"
	EventVisitorCheckedIn  OutboxEventType = "visitor_checked_in"
	EventVisitorCheckedOut OutboxEventType = "visitor_checked_out"
)

var outboxEventTypes = set[OutboxEventType]{EventVisitorRegistered, EventVisitorCheckedIn, EventVisitorCheckedOut}

func (e OutboxEventType) IsValid() bool { return outboxEventTypes.has(e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return outboxEventTypes.parse("event type", value)
}

// EventForStatus is the event emitted when a visitor enters status.
func EventForStatus(status VisitorStatus) (OutboxEventType, bool) {
	switch status {
	case VisitorStatusRegistered:
		return EventVisitorRegistered, true
	case VisitorStatusCheckedIn:
		return EventVisitorCheckedIn, true
	case VisitorStatusCheckedOut:
		return EventVisitorCheckedOut, true
	default:
		return "", false
	}
}

// OutboxDLQErrorReason explains why the relay gave up on a row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var dlqReasons = set[OutboxDLQErrorReason]{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}

func (r OutboxDLQErrorReason) IsValid() bool { return dlqReasons.has(r) }
