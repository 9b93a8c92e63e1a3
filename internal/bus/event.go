package bus

import (
	"fmt"
	"time"

	"github.com/cory-johannsen/floe/internal/datamodel"
	"github.com/cory-johannsen/floe/internal/protocol/as2"
)

// Event is anything that crosses the bus. The set of implementations is
// closed: only this package's event types satisfy it.
//
// Events are values and must not be mutated after publishing.
type Event interface {
	fmt.Stringer
	isEvent()
}

// PlayerConnected is published once a connection has authenticated and been
// registered.
type PlayerConnected struct {
	PlayerID datamodel.PlayerID
	Nickname string
}

// PlayerDisconnected is published exactly once per registered connection.
type PlayerDisconnected struct {
	PlayerID datamodel.PlayerID
}

// PacketReceived carries one decoded client packet.
type PacketReceived struct {
	PlayerID datamodel.PlayerID
	Packet   as2.ClientPacket
}

// PacketSent asks the socket system to deliver Packet to PlayerID.
type PacketSent struct {
	PlayerID datamodel.PlayerID
	Packet   as2.ServerPacket
}

// PlayerTransferRoomRequest asks the server system to move a player.
type PlayerTransferRoomRequest struct {
	PlayerID datamodel.PlayerID
	Room     datamodel.RoomID
	X        int
	Y        int
}

// PlayerJoinedRoom is published after a transfer has been committed to state.
type PlayerJoinedRoom struct {
	PlayerID datamodel.PlayerID
	Room     datamodel.RoomID
}

// Heartbeat is published periodically by the heartbeat system.
type Heartbeat struct {
	At time.Time
}

// Error reports a non-fatal fault. PlayerID is zero when the fault is not
// tied to a player.
type Error struct {
	PlayerID datamodel.PlayerID
	Err      error
}

func (PlayerConnected) isEvent()           {}
func (PlayerDisconnected) isEvent()        {}
func (PacketReceived) isEvent()            {}
func (PacketSent) isEvent()                {}
func (PlayerTransferRoomRequest) isEvent() {}
func (PlayerJoinedRoom) isEvent()          {}
func (Heartbeat) isEvent()                 {}
func (Error) isEvent()                     {}

func (e PlayerConnected) String() string {
	return fmt.Sprintf("player_connected(%d)", e.PlayerID)
}

func (e PlayerDisconnected) String() string {
	return fmt.Sprintf("player_disconnected(%d)", e.PlayerID)
}

func (e PacketReceived) String() string {
	return fmt.Sprintf("packet_received(%d, %T)", e.PlayerID, e.Packet)
}

func (e PacketSent) String() string {
	return fmt.Sprintf("packet_sent(%d, %T)", e.PlayerID, e.Packet)
}

func (e PlayerTransferRoomRequest) String() string {
	return fmt.Sprintf("player_transfer_room_request(%d, %d)", e.PlayerID, e.Room)
}

func (e PlayerJoinedRoom) String() string {
	return fmt.Sprintf("player_joined_room(%d, %d)", e.PlayerID, e.Room)
}

func (Heartbeat) String() string { return "heartbeat" }

func (e Error) String() string {
	return fmt.Sprintf("error(%d, %v)", e.PlayerID, e.Err)
}
