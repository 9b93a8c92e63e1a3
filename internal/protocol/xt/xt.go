// Package xt implements the percent-delimited XT application packet format:
//
//	%xt%[handler_id%]packet_id%correlation_id%arg1%arg2%...%
//
// Client packets carry a handler id; server packets omit the segment.
package xt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Delimiter separates every field on the wire.
const Delimiter = "%"

// Tag is the literal first field of every packet.
const Tag = "xt"

// DefaultCorrelationID is sent on server packets that do not answer a
// specific client request.
const DefaultCorrelationID = -1

// Direction tells the codec which side produced a packet.
type Direction int

const (
	// Client packets flow client to server and carry a handler id.
	Client Direction = iota
	// Server packets flow server to client and carry no handler id.
	Server
)

func (d Direction) String() string {
	if d == Client {
		return "client"
	}
	return "server"
}

// Packet is one decoded XT message.
type Packet struct {
	// HandlerID is empty for server packets.
	HandlerID     string
	PacketID      string
	CorrelationID int
	Args          []string
}

// Field names reported by DecodeError.
const (
	FieldWrapper       = "wrapper"
	FieldTag           = "tag"
	FieldHandlerID     = "handler_id"
	FieldPacketID      = "packet_id"
	FieldCorrelationID = "correlation_id"
	FieldArgs          = "args"
)

// DecodeError reports which field of a raw packet was missing or malformed.
type DecodeError struct {
	Field string
	Raw   string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding xt %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("decoding xt %s: missing or malformed", e.Field)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrDelimiterInField is returned by Encode when a field contains the delimiter.
var ErrDelimiterInField = errors.New("field contains xt delimiter")

// Decode parses raw as a packet travelling in direction dir.
//
// Postcondition: Returns the packet, or a *DecodeError naming the first
// field that failed. A trailing delimiter never produces an extra argument.
func Decode(raw string, dir Direction) (Packet, error) {
	if len(raw) < 2 || !strings.HasPrefix(raw, Delimiter) || !strings.HasSuffix(raw, Delimiter) {
		return Packet{}, &DecodeError{Field: FieldWrapper, Raw: raw}
	}

	fields := strings.Split(raw[1:len(raw)-1], Delimiter)
	next := func() (string, bool) {
		if len(fields) == 0 {
			return "", false
		}
		f := fields[0]
		fields = fields[1:]
		return f, true
	}

	if tag, ok := next(); !ok || tag != Tag {
		return Packet{}, &DecodeError{Field: FieldTag, Raw: raw}
	}

	var p Packet
	if dir == Client {
		hid, ok := next()
		if !ok || hid == "" {
			return Packet{}, &DecodeError{Field: FieldHandlerID, Raw: raw}
		}
		p.HandlerID = hid
	}

	pid, ok := next()
	if !ok || pid == "" {
		return Packet{}, &DecodeError{Field: FieldPacketID, Raw: raw}
	}
	p.PacketID = pid

	cid, ok := next()
	if !ok {
		return Packet{}, &DecodeError{Field: FieldCorrelationID, Raw: raw}
	}
	n, err := strconv.Atoi(cid)
	if err != nil {
		return Packet{}, &DecodeError{Field: FieldCorrelationID, Raw: raw, Err: err}
	}
	p.CorrelationID = n

	if len(fields) > 0 {
		p.Args = append([]string(nil), fields...)
	}
	return p, nil
}

// Encode renders p in wire form. The handler id segment is emitted only
// when p.HandlerID is non-empty.
//
// Postcondition: Decode(Encode(p), dir) == p for the direction matching
// p.HandlerID; returns ErrDelimiterInField or a *DecodeError for packets
// that cannot be represented.
func Encode(p Packet) (string, error) {
	if p.PacketID == "" {
		return "", &DecodeError{Field: FieldPacketID}
	}
	if strings.Contains(p.HandlerID, Delimiter) || strings.Contains(p.PacketID, Delimiter) {
		return "", ErrDelimiterInField
	}
	for _, a := range p.Args {
		if strings.Contains(a, Delimiter) {
			return "", fmt.Errorf("argument %q: %w", a, ErrDelimiterInField)
		}
	}

	var b strings.Builder
	b.Grow(16 + len(p.PacketID) + 8*len(p.Args))
	b.WriteString(Delimiter)
	b.WriteString(Tag)
	b.WriteString(Delimiter)
	if p.HandlerID != "" {
		b.WriteString(p.HandlerID)
		b.WriteString(Delimiter)
	}
	b.WriteString(p.PacketID)
	b.WriteString(Delimiter)
	b.WriteString(strconv.Itoa(p.CorrelationID))
	b.WriteString(Delimiter)
	for _, a := range p.Args {
		b.WriteString(a)
		b.WriteString(Delimiter)
	}
	return b.String(), nil
}

// MustEncode is Encode for packets built from trusted constants.
// It panics if p cannot be encoded.
func MustEncode(p Packet) string {
	s, err := Encode(p)
	if err != nil {
		panic(err)
	}
	return s
}
