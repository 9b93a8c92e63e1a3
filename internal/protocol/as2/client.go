// Package as2 maps the generic XT packet onto the typed application packets
// exchanged with AS2 clients. The XT codec knows nothing about these
// variants; adding a packet kind only touches this package.
package as2

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cory-johannsen/floe/internal/datamodel"
	"github.com/cory-johannsen/floe/internal/protocol/xt"
)

// WorldHandler is the handler id AS2 clients use for world packets.
const WorldHandler = "s"

// ClientPacket is a decoded client-to-server application packet.
type ClientPacket interface {
	// ID returns the XT packet id the variant decodes from.
	ID() string
}

// JoinServer is sent once after login to enter the world.
type JoinServer struct {
	PlayerID datamodel.PlayerID
	LoginKey string
	Language string
}

// JoinRoom asks to move to Room at (X, Y).
type JoinRoom struct {
	Room datamodel.RoomID
	X    int
	Y    int
}

// SetPosition moves the player within the current room.
type SetPosition struct {
	X int
	Y int
}

// SendMessage is a chat line for the current room.
type SendMessage struct {
	PlayerID datamodel.PlayerID
	Message  string
}

// Heartbeat is the client keep-alive.
type Heartbeat struct{}

// GetPlayer requests another player's gist.
type GetPlayer struct {
	PlayerID datamodel.PlayerID
}

// GetInventory requests the player's item list.
type GetInventory struct{}

// GetMailCount requests unread and total postcard counts.
type GetMailCount struct{}

func (JoinServer) ID() string   { return "j#js" }
func (JoinRoom) ID() string     { return "j#jr" }
func (SetPosition) ID() string  { return "u#sp" }
func (SendMessage) ID() string  { return "m#sm" }
func (Heartbeat) ID() string    { return "u#h" }
func (GetPlayer) ID() string    { return "u#gp" }
func (GetInventory) ID() string { return "i#gi" }
func (GetMailCount) ID() string { return "l#mst" }

var (
	// ErrBadArgCount is returned when a known packet carries fewer or more
	// arguments than its variant defines.
	ErrBadArgCount = errors.New("bad argument count")
	// ErrBadDatatype is returned when an integer argument does not parse.
	ErrBadDatatype = errors.New("bad argument datatype")
	// ErrServerPacket is returned when a packet without a handler id is
	// decoded as a client packet.
	ErrServerPacket = errors.New("packet has no handler id")
)

// UnrecognizedError reports a structurally valid XT packet that maps to no
// known variant.
type UnrecognizedError struct {
	HandlerID string
	PacketID  string
}

func (e *UnrecognizedError) Error() string {
	return fmt.Sprintf("unrecognized packet: handler_id=%q packet_id=%q", e.HandlerID, e.PacketID)
}

// FromXT converts a decoded client XT packet into its typed variant.
//
// Postcondition: Returns the variant, ErrServerPacket, ErrBadArgCount,
// ErrBadDatatype (wrapping the strconv error), or *UnrecognizedError.
func FromXT(p xt.Packet) (ClientPacket, error) {
	if p.HandlerID == "" {
		return nil, ErrServerPacket
	}
	if p.HandlerID != WorldHandler {
		return nil, &UnrecognizedError{HandlerID: p.HandlerID, PacketID: p.PacketID}
	}

	args := p.Args
	switch p.PacketID {
	case "j#js":
		if len(args) != 3 {
			return nil, badCount(p)
		}
		id, err := parseInt64(args, 0)
		if err != nil {
			return nil, err
		}
		return JoinServer{PlayerID: datamodel.PlayerID(id), LoginKey: args[1], Language: args[2]}, nil

	case "j#jr":
		if len(args) != 3 {
			return nil, badCount(p)
		}
		ints, err := parseInts(args)
		if err != nil {
			return nil, err
		}
		return JoinRoom{Room: datamodel.RoomID(ints[0]), X: ints[1], Y: ints[2]}, nil

	case "u#sp":
		if len(args) != 2 {
			return nil, badCount(p)
		}
		ints, err := parseInts(args)
		if err != nil {
			return nil, err
		}
		return SetPosition{X: ints[0], Y: ints[1]}, nil

	case "m#sm":
		if len(args) != 2 {
			return nil, badCount(p)
		}
		id, err := parseInt64(args, 0)
		if err != nil {
			return nil, err
		}
		return SendMessage{PlayerID: datamodel.PlayerID(id), Message: args[1]}, nil

	case "u#h":
		if len(args) != 0 {
			return nil, badCount(p)
		}
		return Heartbeat{}, nil

	case "u#gp":
		if len(args) != 1 {
			return nil, badCount(p)
		}
		id, err := parseInt64(args, 0)
		if err != nil {
			return nil, err
		}
		return GetPlayer{PlayerID: datamodel.PlayerID(id)}, nil

	case "i#gi":
		if len(args) != 0 {
			return nil, badCount(p)
		}
		return GetInventory{}, nil

	case "l#mst":
		if len(args) != 0 {
			return nil, badCount(p)
		}
		return GetMailCount{}, nil
	}
	return nil, &UnrecognizedError{HandlerID: p.HandlerID, PacketID: p.PacketID}
}

func badCount(p xt.Packet) error {
	return fmt.Errorf("%s: got %d: %w", p.PacketID, len(p.Args), ErrBadArgCount)
}

func parseInt64(args []string, i int) (int64, error) {
	n, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w: %w", i, ErrBadDatatype, err)
	}
	return n, nil
}

func parseInts(args []string) ([]int, error) {
	out := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w: %w", i, ErrBadDatatype, err)
		}
		out[i] = n
	}
	return out, nil
}
