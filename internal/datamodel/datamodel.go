// Package datamodel defines identifiers and the serialized player "gist"
// shared by the protocol and game layers.
package datamodel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PlayerID identifies an authenticated player.
type PlayerID int64

// RoomID identifies a room in the world catalogue.
type RoomID int

// ItemID identifies a catalogue item worn by a player.
type ItemID int

// String returns the decimal representation used on the wire.
func (p PlayerID) String() string { return strconv.FormatInt(int64(p), 10) }

// String returns the decimal representation used on the wire.
func (r RoomID) String() string { return strconv.Itoa(int(r)) }

// ErrInvalidNickname is returned by ValidateNickname.
var ErrInvalidNickname = errors.New("invalid nickname")

// nicknameReserved holds the xt delimiter, the gist separator and the
// frame terminator.
const nicknameReserved = "%|\x00"

// ValidateNickname reports whether name can travel inside a player gist.
//
// Postcondition: Returns nil, or an error wrapping ErrInvalidNickname if name
// is empty or contains '%', '|' or NUL.
func ValidateNickname(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidNickname)
	}
	if i := strings.IndexAny(name, nicknameReserved); i >= 0 {
		return fmt.Errorf("%w: %q contains reserved character %q", ErrInvalidNickname, name, name[i])
	}
	return nil
}

// PlayerGist is the public appearance of a player as broadcast to other
// players in the same room.
type PlayerGist struct {
	ID             PlayerID
	Nickname       string
	Approval       bool
	Color          ItemID
	Head           ItemID
	Face           ItemID
	Neck           ItemID
	Body           ItemID
	Hand           ItemID
	Feet           ItemID
	Flag           ItemID
	Photo          ItemID
	X              int
	Y              int
	Frame          int
	Member         bool
	MembershipDays int
	Avatar         ItemID
}

// String renders the gist in the pipe-delimited form clients parse. The
// trailing penguin state, party state and puffle fields are always empty.
//
// Postcondition: The result contains no '%' as long as Nickname contains none.
func (g PlayerGist) String() string {
	fields := []string{
		g.ID.String(),
		g.Nickname,
		boolDigit(g.Approval),
		itoa(g.Color),
		itoa(g.Head),
		itoa(g.Face),
		itoa(g.Neck),
		itoa(g.Body),
		itoa(g.Hand),
		itoa(g.Feet),
		itoa(g.Flag),
		itoa(g.Photo),
		strconv.Itoa(g.X),
		strconv.Itoa(g.Y),
		strconv.Itoa(g.Frame),
		boolDigit(g.Member),
		strconv.Itoa(g.MembershipDays),
		itoa(g.Avatar),
		"0",
		"0",
		"",
		"",
		"",
		"",
		"",
	}
	return strings.Join(fields, "|")
}

func itoa(i ItemID) string { return strconv.Itoa(int(i)) }

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
