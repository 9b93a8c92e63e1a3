// Package logic implements the server system: the single consumer that
// mutates the world state in response to bus events.
package logic

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/floe/internal/bus"
	"github.com/cory-johannsen/floe/internal/datamodel"
	"github.com/cory-johannsen/floe/internal/game/state"
	"github.com/cory-johannsen/floe/internal/game/world"
	"github.com/cory-johannsen/floe/internal/protocol/as2"
)

// Connectivity reports whether a player still has a live connection.
type Connectivity interface {
	Connected(id datamodel.PlayerID) bool
}

// DefaultColor is the item id of the colour given to new players.
const DefaultColor datamodel.ItemID = 1

// ServerSystem handles client packets and lifecycle events. Every event is
// handled on one goroutine, and each handler performs at most one state
// mutation before publishing its follow-up events.
type ServerSystem struct {
	rooms  *world.Catalogue
	conns  Connectivity
	logger *zap.Logger

	// Now and PickSpawn are replaceable for tests.
	Now       func() time.Time
	PickSpawn func() world.Room

	// nicknames holds identities between PlayerConnected and JoinServer.
	// Only the event loop goroutine touches it.
	nicknames map[datamodel.PlayerID]string
}

// NewServerSystem creates the server system.
//
// Precondition: rooms, conns, and logger must be non-nil.
func NewServerSystem(rooms *world.Catalogue, conns Connectivity, logger *zap.Logger) *ServerSystem {
	return &ServerSystem{
		rooms:     rooms,
		conns:     conns,
		logger:    logger,
		Now:       time.Now,
		PickSpawn: rooms.RandomSpawn,
		nicknames: make(map[datamodel.PlayerID]string),
	}
}

// Name implements system.System.
func (s *ServerSystem) Name() string { return "server" }

// Instantiate implements system.System.
func (s *ServerSystem) Instantiate(ctx context.Context, st *state.ServerState, pub bus.Publisher, sub *bus.Subscription) error {
	go func() {
		defer sub.Close()
		for {
			e, ok := sub.Poll(ctx)
			if !ok {
				s.logger.Debug("server system stopped")
				return
			}
			s.handle(st, pub, e)
		}
	}()
	return nil
}

func (s *ServerSystem) handle(st *state.ServerState, pub bus.Publisher, e bus.Event) {
	switch ev := e.(type) {
	case bus.PlayerConnected:
		s.logger.Info("player connected", zap.Int64("player_id", int64(ev.PlayerID)))
		s.nicknames[ev.PlayerID] = ev.Nickname
	case bus.PlayerDisconnected:
		s.removePlayer(st, pub, ev.PlayerID)
	case bus.PacketReceived:
		s.handlePacket(st, pub, ev.PlayerID, ev.Packet)
	case bus.PlayerTransferRoomRequest:
		s.transfer(st, pub, ev)
	case bus.PlayerJoinedRoom:
		s.joined(st, pub, ev)
	case bus.Heartbeat:
		s.reconcile(st, pub)
	case bus.Error:
		s.logger.Debug("error event", zap.Int64("player_id", int64(ev.PlayerID)), zap.Error(ev.Err))
	}
}

func (s *ServerSystem) handlePacket(st *state.ServerState, pub bus.Publisher, id datamodel.PlayerID, pkt as2.ClientPacket) {
	switch p := pkt.(type) {
	case as2.JoinServer:
		s.joinServer(st, pub, id, p)
	case as2.JoinRoom:
		s.joinRoom(st, pub, id, p)
	case as2.SetPosition:
		moved, err := st.SetPosition(id, p.X, p.Y)
		if err != nil {
			s.fault(pub, id, err)
			return
		}
		if moved.InRoom {
			s.broadcast(st, pub, moved.Room, 0, as2.PlayerMoved{PlayerID: id, X: p.X, Y: p.Y})
		}
	case as2.SendMessage:
		if p.PlayerID != id {
			s.logger.Warn("message sender mismatch",
				zap.Int64("player_id", int64(id)),
				zap.Int64("claimed", int64(p.PlayerID)),
			)
		}
		sender, ok := st.Player(id)
		if !ok || !sender.InRoom {
			return
		}
		s.broadcast(st, pub, sender.Room, 0, as2.Message{PlayerID: id, Message: p.Message})
	case as2.Heartbeat:
		send(pub, id, as2.HeartbeatReply{})
	case as2.GetPlayer:
		target, ok := st.Player(p.PlayerID)
		if !ok {
			s.logger.Debug("get player: not in world", zap.Int64("target", int64(p.PlayerID)))
			return
		}
		send(pub, id, as2.PlayerInfo{Player: target.Gist()})
	case as2.GetInventory:
		send(pub, id, as2.Inventory{})
	case as2.GetMailCount:
		send(pub, id, as2.MailCount{})
	default:
		s.logger.Debug("unhandled packet", zap.String("packet_id", pkt.ID()))
	}
}

func (s *ServerSystem) joinServer(st *state.ServerState, pub bus.Publisher, id datamodel.PlayerID, p as2.JoinServer) {
	if p.PlayerID != id {
		s.logger.Warn("join server id mismatch",
			zap.Int64("player_id", int64(id)),
			zap.Int64("claimed", int64(p.PlayerID)),
		)
	}
	nickname, ok := s.nicknames[id]
	if !ok {
		nickname = id.String()
	}

	player := state.Player{ID: id, Nickname: nickname, Color: DefaultColor}
	if err := st.Insert(player); err != nil {
		s.logger.Error("join server for player already in world", zap.Int64("player_id", int64(id)), zap.Error(err))
		s.fault(pub, id, err)
		return
	}
	delete(s.nicknames, id)

	now := s.Now()
	_, offset := now.Zone()
	send(pub, id, as2.ActiveFeatures{})
	send(pub, id, as2.JoinedServer{})
	send(pub, id, as2.LoadPlayer{
		Player:             player.Gist(),
		EggTimerMinutes:    24 * 60,
		StandardTimeMillis: now.UnixMilli(),
		ServerTimeOffset:   abs(offset / 3600),
	})

	spawn := s.PickSpawn()
	pub.Publish(bus.PlayerTransferRoomRequest{PlayerID: id, Room: spawn.ID, X: spawn.X, Y: spawn.Y})
}

func (s *ServerSystem) joinRoom(st *state.ServerState, pub bus.Publisher, id datamodel.PlayerID, p as2.JoinRoom) {
	player, ok := st.Player(id)
	if !ok {
		s.fault(pub, id, state.ErrPlayerNotFound)
		return
	}
	room, ok := s.rooms.Room(p.Room)
	if !ok {
		s.reject(pub, id, as2.ErrRoomNotFound, errRoomNotFound)
		return
	}
	alreadyHere := player.InRoom && player.Room == room.ID
	if !alreadyHere && st.RoomCount(room.ID) >= room.Capacity {
		s.reject(pub, id, as2.ErrRoomFull, state.ErrRoomFull)
		return
	}
	pub.Publish(bus.PlayerTransferRoomRequest{PlayerID: id, Room: room.ID, X: p.X, Y: p.Y})
}

var errRoomNotFound = errors.New("room not in catalogue")

func (s *ServerSystem) transfer(st *state.ServerState, pub bus.Publisher, ev bus.PlayerTransferRoomRequest) {
	room, ok := s.rooms.Room(ev.Room)
	if !ok {
		s.reject(pub, ev.PlayerID, as2.ErrRoomNotFound, errRoomNotFound)
		return
	}

	prev, hadPrev, err := st.MoveToRoom(ev.PlayerID, room.ID, ev.X, ev.Y, room.Capacity)
	switch {
	case errors.Is(err, state.ErrRoomFull):
		s.reject(pub, ev.PlayerID, as2.ErrRoomFull, err)
		return
	case err != nil:
		s.fault(pub, ev.PlayerID, err)
		return
	}

	if hadPrev && prev == room.ID {
		s.rejoined(st, pub, ev)
		return
	}
	if hadPrev {
		s.broadcast(st, pub, prev, ev.PlayerID, as2.RemovePlayer{PlayerID: ev.PlayerID})
	}
	pub.Publish(bus.PlayerJoinedRoom{PlayerID: ev.PlayerID, Room: room.ID})
}

// rejoined answers a join for the room the player already occupies. The
// other members already know the player, so they only see it move.
func (s *ServerSystem) rejoined(st *state.ServerState, pub bus.Publisher, ev bus.PlayerTransferRoomRequest) {
	members := st.RoomMembers(ev.Room)
	roster := make([]datamodel.PlayerGist, 0, len(members))
	for _, m := range members {
		roster = append(roster, m.Gist())
	}
	send(pub, ev.PlayerID, as2.JoinedRoom{Room: ev.Room, Players: roster})

	moved := as2.PlayerMoved{PlayerID: ev.PlayerID, X: ev.X, Y: ev.Y}
	for _, m := range members {
		if m.ID != ev.PlayerID {
			send(pub, m.ID, moved)
		}
	}
}

// joined runs after the transfer has committed, so the snapshot already
// contains the new member.
func (s *ServerSystem) joined(st *state.ServerState, pub bus.Publisher, ev bus.PlayerJoinedRoom) {
	members := st.RoomMembers(ev.Room)

	var self *state.Player
	roster := make([]datamodel.PlayerGist, 0, len(members))
	for i := range members {
		roster = append(roster, members[i].Gist())
		if members[i].ID == ev.PlayerID {
			self = &members[i]
		}
	}
	if self == nil {
		// Moved on or left before this event was handled.
		return
	}

	send(pub, ev.PlayerID, as2.JoinedRoom{Room: ev.Room, Players: roster})
	added := as2.AddPlayer{Player: self.Gist()}
	for _, m := range members {
		if m.ID != ev.PlayerID {
			send(pub, m.ID, added)
		}
	}
}

func (s *ServerSystem) removePlayer(st *state.ServerState, pub bus.Publisher, id datamodel.PlayerID) {
	delete(s.nicknames, id)
	removed, err := st.Remove(id)
	if err != nil {
		// Never joined, or already reconciled.
		s.logger.Debug("disconnect for player not in world", zap.Int64("player_id", int64(id)))
		return
	}
	s.logger.Info("player left world", zap.Int64("player_id", int64(id)))
	if removed.InRoom {
		s.broadcast(st, pub, removed.Room, id, as2.RemovePlayer{PlayerID: id})
	}
}

// reconcile evicts players whose connection is gone. It covers
// PlayerDisconnected events lost to bus lag. The state and registry locks
// are taken one after the other, never together.
func (s *ServerSystem) reconcile(st *state.ServerState, pub bus.Publisher) {
	for _, id := range st.PlayerIDs() {
		if !s.conns.Connected(id) {
			s.logger.Warn("evicting player without connection", zap.Int64("player_id", int64(id)))
			s.removePlayer(st, pub, id)
		}
	}
	for id := range s.nicknames {
		if !s.conns.Connected(id) {
			delete(s.nicknames, id)
		}
	}
}

// broadcast sends pkt to every member of room except the player except.
// Pass 0 to include everyone.
func (s *ServerSystem) broadcast(st *state.ServerState, pub bus.Publisher, room datamodel.RoomID, except datamodel.PlayerID, pkt as2.ServerPacket) {
	for _, m := range st.RoomMembers(room) {
		if m.ID != except {
			send(pub, m.ID, pkt)
		}
	}
}

func (s *ServerSystem) reject(pub bus.Publisher, id datamodel.PlayerID, code as2.ErrorCode, err error) {
	s.logger.Info("request rejected",
		zap.Int64("player_id", int64(id)),
		zap.Stringer("code", code),
		zap.Error(err),
	)
	send(pub, id, as2.Error{Code: code})
	pub.Publish(bus.Error{PlayerID: id, Err: err})
}

func (s *ServerSystem) fault(pub bus.Publisher, id datamodel.PlayerID, err error) {
	s.logger.Warn("request failed", zap.Int64("player_id", int64(id)), zap.Error(err))
	pub.Publish(bus.Error{PlayerID: id, Err: err})
}

func send(pub bus.Publisher, id datamodel.PlayerID, pkt as2.ServerPacket) {
	pub.Publish(bus.PacketSent{PlayerID: id, Packet: pkt})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
