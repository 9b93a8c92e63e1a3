package as2

import (
	"strconv"

	"github.com/cory-johannsen/floe/internal/datamodel"
	"github.com/cory-johannsen/floe/internal/protocol/xt"
)

// ErrorCode is the numeric argument of the server "e" packet.
type ErrorCode int

const (
	ErrMultiConnections ErrorCode = 3
	ErrNameNotFound     ErrorCode = 100
	ErrPasswordWrong    ErrorCode = 101
	ErrRoomFull         ErrorCode = 210
	ErrRoomNotFound     ErrorCode = 213
)

func (c ErrorCode) String() string {
	switch c {
	case ErrMultiConnections:
		return "multi_connections"
	case ErrNameNotFound:
		return "name_not_found"
	case ErrPasswordWrong:
		return "password_wrong"
	case ErrRoomFull:
		return "room_full"
	case ErrRoomNotFound:
		return "room_not_found"
	default:
		return "error_" + strconv.Itoa(int(c))
	}
}

// ServerPacket is a server-to-client application packet.
type ServerPacket interface {
	// ToXT returns the generic packet. Server packets never carry a
	// handler id.
	ToXT() xt.Packet
}

// Error reports a protocol-level failure to the client.
type Error struct {
	Code ErrorCode
}

// LoginResponse acknowledges a successful login.
type LoginResponse struct{}

// ActiveFeatures precedes JoinedServer.
type ActiveFeatures struct{}

// JoinedServer confirms JoinServer.
type JoinedServer struct {
	AgentStatus     bool
	ModeratorStatus int
	BookModified    bool
}

// LoadPlayer carries the joining player's own profile.
type LoadPlayer struct {
	Player               datamodel.PlayerGist
	Coins                int
	SafeChat             bool
	EggTimerMinutes      int
	StandardTimeMillis   int64
	Age                  int
	MinutesPlayed        int
	MembershipDaysRemain int
	ServerTimeOffset     int
	OpenedPlayerCard     bool
	MapCategory          int
	StatusField          int
}

// JoinedRoom is the room roster sent to a player entering Room.
type JoinedRoom struct {
	Room    datamodel.RoomID
	Players []datamodel.PlayerGist
}

// AddPlayer announces a new room member to existing members.
type AddPlayer struct {
	Player datamodel.PlayerGist
}

// RemovePlayer announces that a player left the room.
type RemovePlayer struct {
	PlayerID datamodel.PlayerID
}

// PlayerMoved broadcasts a position change.
type PlayerMoved struct {
	PlayerID datamodel.PlayerID
	X        int
	Y        int
}

// Message broadcasts a chat line.
type Message struct {
	PlayerID datamodel.PlayerID
	Message  string
}

// HeartbeatReply answers the client keep-alive.
type HeartbeatReply struct{}

// PlayerInfo answers GetPlayer.
type PlayerInfo struct {
	Player datamodel.PlayerGist
}

// Inventory answers GetInventory.
type Inventory struct {
	Items []datamodel.ItemID
}

// MailCount answers GetMailCount.
type MailCount struct {
	Unread int
	Total  int
}

func server(id string, args ...string) xt.Packet {
	return xt.Packet{PacketID: id, CorrelationID: xt.DefaultCorrelationID, Args: args}
}

func (p Error) ToXT() xt.Packet { return server("e", strconv.Itoa(int(p.Code))) }

// ToXT returns a single empty argument, which clients expect.
func (LoginResponse) ToXT() xt.Packet { return server("l", "") }

func (ActiveFeatures) ToXT() xt.Packet { return server("activefeatures") }

func (p JoinedServer) ToXT() xt.Packet {
	return server("js", digit(p.AgentStatus), "0", strconv.Itoa(p.ModeratorStatus), digit(p.BookModified))
}

func (p LoadPlayer) ToXT() xt.Packet {
	return server("lp",
		p.Player.String(),
		strconv.Itoa(p.Coins),
		digit(p.SafeChat),
		strconv.Itoa(p.EggTimerMinutes),
		strconv.FormatInt(p.StandardTimeMillis, 10),
		strconv.Itoa(p.Age),
		"0",
		strconv.Itoa(p.MinutesPlayed),
		strconv.Itoa(p.MembershipDaysRemain),
		strconv.Itoa(p.ServerTimeOffset),
		digit(p.OpenedPlayerCard),
		strconv.Itoa(p.MapCategory),
		strconv.Itoa(p.StatusField),
	)
}

func (p JoinedRoom) ToXT() xt.Packet {
	args := make([]string, 0, len(p.Players)+1)
	args = append(args, p.Room.String())
	for _, g := range p.Players {
		args = append(args, g.String())
	}
	return server("jr", args...)
}

func (p AddPlayer) ToXT() xt.Packet { return server("ap", p.Player.String()) }

func (p RemovePlayer) ToXT() xt.Packet { return server("rp", p.PlayerID.String()) }

func (p PlayerMoved) ToXT() xt.Packet {
	return server("sp", p.PlayerID.String(), strconv.Itoa(p.X), strconv.Itoa(p.Y))
}

func (p Message) ToXT() xt.Packet { return server("sm", p.PlayerID.String(), p.Message) }

func (HeartbeatReply) ToXT() xt.Packet { return server("h") }

func (p PlayerInfo) ToXT() xt.Packet { return server("gp", p.Player.String()) }

func (p Inventory) ToXT() xt.Packet {
	args := make([]string, len(p.Items))
	for i, it := range p.Items {
		args[i] = strconv.Itoa(int(it))
	}
	return server("gi", args...)
}

func (p MailCount) ToXT() xt.Packet {
	return server("mst", strconv.Itoa(p.Unread), strconv.Itoa(p.Total))
}

// Encode renders a server packet in XT wire form.
func Encode(p ServerPacket) (string, error) {
	return xt.Encode(p.ToXT())
}

func digit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
