package obsproto

import (
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the Event message.
const (
	fieldTime                protowire.Number = 1
	fieldGeolocation         protowire.Number = 10
	fieldDistanceMeasurement protowire.Number = 11
	fieldUserInput           protowire.Number = 12
	fieldTextMessage         protowire.Number = 13
	fieldBatteryStatus       protowire.Number = 15

	// Content variants occupy this range of field numbers.
	firstContentField protowire.Number = 10
	lastContentField  protowire.Number = 99
)

var (
	// ErrEmptyEvent is returned for events with neither payload nor
	// timestamps. Such records carry no information and are never written.
	ErrEmptyEvent = errors.New("obsproto: event has no payload and no timestamps")

	// ErrTruncated is returned when the input ends inside a field.
	ErrTruncated = errors.New("obsproto: truncated message")
)

// Marshal encodes the event in protobuf wire format.
func (e *Event) Marshal() ([]byte, error) {
	if e == nil || (e.Payload == nil && len(e.Times) == 0) {
		return nil, ErrEmptyEvent
	}

	var b []byte
	for _, t := range e.Times {
		b = protowire.AppendTag(b, fieldTime, protowire.BytesType)
		b = protowire.AppendBytes(b, t.appendTo(nil))
	}
	if e.Payload != nil {
		b = protowire.AppendTag(b, e.Payload.fieldNumber(), protowire.BytesType)
		b = protowire.AppendBytes(b, e.Payload.appendBody(nil))
	}
	return b, nil
}

// Unmarshal decodes an Event. Unknown fields outside the content range are
// skipped; a repeated content field keeps the last occurrence, matching
// protobuf oneof semantics.
func Unmarshal(b []byte) (*Event, error) {
	e := &Event{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wireError("event tag", n)
		}
		b = b[n:]

		switch {
		case num == fieldTime && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, wireError("time", n)
			}
			t, err := unmarshalTime(v)
			if err != nil {
				return nil, err
			}
			e.Times = append(e.Times, t)
			b = b[n:]

		case num >= firstContentField && num <= lastContentField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, wireError("content", n)
			}
			p, err := unmarshalPayload(num, v)
			if err != nil {
				return nil, err
			}
			e.Payload = p
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, wireError(fmt.Sprintf("field %d", num), n)
			}
			b = b[n:]
		}
	}

	if e.Payload == nil && len(e.Times) == 0 {
		return nil, ErrEmptyEvent
	}
	return e, nil
}

func wireError(what string, n int) error {
	err := protowire.ParseError(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", ErrTruncated, what)
	}
	return fmt.Errorf("obsproto: invalid %s: %w", what, err)
}

func (t Time) appendTo(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(int64(t.SourceID)))
	b = appendVarintField(b, 2, uint64(int64(t.Reference)))
	b = appendVarintField(b, 3, uint64(t.Seconds))
	b = appendVarintField(b, 4, uint64(int64(t.Nanoseconds)))
	return b
}

func unmarshalTime(b []byte) (Time, error) {
	var t Time
	err := walkFields(b, "time", func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.VarintType {
			return skipField
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return n
		}
		switch num {
		case 1:
			t.SourceID = int32(v)
		case 2:
			t.Reference = Reference(int32(v))
		case 3:
			t.Seconds = int64(v)
		case 4:
			t.Nanoseconds = int32(v)
		default:
			return skipField
		}
		return n
	})
	return t, err
}

func unmarshalPayload(num protowire.Number, b []byte) (Payload, error) {
	switch num {
	case fieldDistanceMeasurement:
		d := &DistanceMeasurement{}
		err := walkFields(b, "distance_measurement", func(num protowire.Number, typ protowire.Type, b []byte) int {
			switch {
			case num == 1 && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(b)
				d.SourceID = int32(v)
				return n
			case num == 2 && typ == protowire.Fixed32Type:
				v, n := protowire.ConsumeFixed32(b)
				d.Distance = math.Float32frombits(v)
				return n
			}
			return skipField
		})
		return d, err

	case fieldGeolocation:
		g := &Geolocation{}
		err := walkFields(b, "geolocation", func(num protowire.Number, typ protowire.Type, b []byte) int {
			if num == 4 && typ == protowire.Fixed32Type {
				v, n := protowire.ConsumeFixed32(b)
				g.HDOP = math.Float32frombits(v)
				return n
			}
			if typ != protowire.Fixed64Type {
				return skipField
			}
			v, n := protowire.ConsumeFixed64(b)
			switch num {
			case 1:
				g.Latitude = math.Float64frombits(v)
			case 2:
				g.Longitude = math.Float64frombits(v)
			case 3:
				g.Altitude = math.Float64frombits(v)
			default:
				return skipField
			}
			return n
		})
		return g, err

	case fieldUserInput:
		u := &UserInput{}
		err := walkFields(b, "user_input", func(num protowire.Number, typ protowire.Type, b []byte) int {
			if num == 1 && typ == protowire.VarintType {
				v, n := protowire.ConsumeVarint(b)
				u.Type = int32(v)
				return n
			}
			return skipField
		})
		return u, err

	case fieldTextMessage:
		m := &TextMessage{}
		err := walkFields(b, "text_message", func(num protowire.Number, typ protowire.Type, b []byte) int {
			switch {
			case num == 1 && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(b)
				m.Type = int32(v)
				return n
			case num == 2 && typ == protowire.BytesType:
				v, n := protowire.ConsumeString(b)
				m.Text = v
				return n
			}
			return skipField
		})
		return m, err

	case fieldBatteryStatus:
		s := &BatteryStatus{}
		err := walkFields(b, "battery_status", func(num protowire.Number, typ protowire.Type, b []byte) int {
			if num == 1 && typ == protowire.Fixed32Type {
				v, n := protowire.ConsumeFixed32(b)
				s.Voltage = math.Float32frombits(v)
				return n
			}
			return skipField
		})
		return s, err
	}

	raw := make([]byte, len(b))
	copy(raw, b)
	return &Other{Field: num, Raw: raw}, nil
}

// skipField is returned by walkFields callbacks for fields they do not know.
const skipField = math.MinInt32

// walkFields iterates the fields of a sub-message. fn consumes the value of a
// known field and returns the number of bytes used (negative on a wire
// error), or skipField to have the value skipped generically.
func walkFields(b []byte, what string, fn func(protowire.Number, protowire.Type, []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(what+" tag", n)
		}
		b = b[n:]

		used := fn(num, typ, b)
		if used == skipField {
			used = protowire.ConsumeFieldValue(num, typ, b)
		}
		if used < 0 {
			return wireError(fmt.Sprintf("%s field %d", what, num), used)
		}
		b = b[used:]
	}
	return nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func (d *DistanceMeasurement) fieldNumber() protowire.Number { return fieldDistanceMeasurement }
func (d *DistanceMeasurement) appendBody(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(int64(d.SourceID)))
	if d.Distance != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(d.Distance))
	}
	return b
}

func (g *Geolocation) fieldNumber() protowire.Number { return fieldGeolocation }
func (g *Geolocation) appendBody(b []byte) []byte {
	for i, v := range []float64{g.Latitude, g.Longitude, g.Altitude} {
		if v == 0 {
			continue
		}
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	if g.HDOP != 0 {
		b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(g.HDOP))
	}
	return b
}

func (u *UserInput) fieldNumber() protowire.Number { return fieldUserInput }
func (u *UserInput) appendBody(b []byte) []byte {
	return appendVarintField(b, 1, uint64(int64(u.Type)))
}

func (m *TextMessage) fieldNumber() protowire.Number { return fieldTextMessage }
func (m *TextMessage) appendBody(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(int64(m.Type)))
	if m.Text != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.Text)
	}
	return b
}

func (s *BatteryStatus) fieldNumber() protowire.Number { return fieldBatteryStatus }
func (s *BatteryStatus) appendBody(b []byte) []byte {
	if s.Voltage == 0 {
		return b
	}
	b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(s.Voltage))
}

func (o *Other) fieldNumber() protowire.Number { return o.Field }
func (o *Other) appendBody(b []byte) []byte    { return append(b, o.Raw...) }
