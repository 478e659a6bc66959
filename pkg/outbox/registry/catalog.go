package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox/payloads"
)

// CurrentVersion is the envelope version every producer writes today.
const CurrentVersion = 1

type payloadFactory func() any

func payloadOf[T any]() payloadFactory {
	return func() any { return new(T) }
}

type entry struct {
	aggregate enums.OutboxAggregateType
	versions  map[int]payloadFactory
}

// catalog lists every event the visitor outbox carries, keyed by payload
// version so an old row still decodes after a schema bump.
var catalog = map[enums.OutboxEventType]entry{
	enums.EventVisitorRegistered: {
		aggregate: enums.AggregateVisitor,
		versions:  map[int]payloadFactory{1: payloadOf[payloads.VisitorRegisteredEvent]()},
	},
	enums.EventVisitorCheckedIn: {
		aggregate: enums.AggregateVisitor,
		versions:  map[int]payloadFactory{1: payloadOf[payloads.VisitorCheckedInEvent]()},
	},
	enums.EventVisitorCheckedOut: {
		aggregate: enums.AggregateVisitor,
		versions:  map[int]payloadFactory{1: payloadOf[payloads.VisitorCheckedOutEvent]()},
	},
}

func lookup(eventType enums.OutboxEventType, version int) (entry, payloadFactory, error) {
	e, ok := catalog[eventType]
	if !ok {
		return entry{}, nil, fmt.Errorf("unsupported event type %s", eventType)
	}
	factory, ok := e.versions[version]
	if !ok {
		return entry{}, nil, fmt.Errorf("no payload schema for %s@v%d", eventType, version)
	}
	return e, factory, nil
}

func decodeData(eventType enums.OutboxEventType, factory payloadFactory, data json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("payload missing for %s", eventType)
	}
	target := factory()
	if err := json.Unmarshal(trimmed, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return target, nil
}

// Decoder is the consumer side of the catalog. It only accepts the event
// types it was built with; anything else fails to decode.
type Decoder struct {
	accepts map[enums.OutboxEventType]struct{}
}

func NewDecoder(types ...enums.OutboxEventType) *Decoder {
	d := &Decoder{accepts: make(map[enums.OutboxEventType]struct{}, len(types))}
	for _, t := range types {
		d.accepts[t] = struct{}{}
	}
	return d
}

// Decode returns a pointer to the payload struct registered for the event
// type and version.
func (d *Decoder) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	if _, ok := d.accepts[eventType]; !ok {
		return nil, fmt.Errorf("decoder does not accept %s", eventType)
	}
	_, factory, err := lookup(eventType, version)
	if err != nil {
		return nil, err
	}
	return decodeData(eventType, factory, data)
}

// DecodeAs decodes and asserts the payload type in one step.
func DecodeAs[T any](d *Decoder, eventType enums.OutboxEventType, version int, data json.RawMessage) (*T, error) {
	out, err := d.Decode(eventType, version, data)
	if err != nil {
		return nil, err
	}
	typed, ok := out.(*T)
	if !ok {
		return nil, fmt.Errorf("%s@v%d decodes to %T", eventType, version, out)
	}
	return typed, nil
}
