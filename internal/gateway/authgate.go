package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/cory-johannsen/floe/internal/auth"
	"github.com/cory-johannsen/floe/internal/protocol/as2"
	"github.com/cory-johannsen/floe/internal/protocol/frame"
	"github.com/cory-johannsen/floe/internal/protocol/xmlmsg"
)

// ErrHandshakeClosed is returned when the peer closes the connection
// before the gate reaches a verdict.
var ErrHandshakeClosed = errors.New("connection closed during handshake")

// RejectedError is returned when the validator refuses a login. Code is
// the error frame that was sent to the client.
type RejectedError struct {
	Code as2.ErrorCode
	Err  error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("login rejected (%s): %v", e.Code, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// GateConfig holds the fixed handshake replies.
type GateConfig struct {
	// RandomKey is answered to every rndK request.
	RandomKey string
	// PolicyPort is advertised in the cross-domain policy.
	PolicyPort int
}

// Gate drives the XML handshake of one connection at a time. A Gate holds
// no per-connection state and may be shared.
type Gate struct {
	cfg       GateConfig
	validator auth.CredentialValidator
	logger    *zap.Logger
}

// NewGate creates a gate that checks logins against validator.
//
// Precondition: validator and logger must be non-nil.
func NewGate(cfg GateConfig, validator auth.CredentialValidator, logger *zap.Logger) *Gate {
	return &Gate{cfg: cfg, validator: validator, logger: logger}
}

// Run answers handshake messages until a login decides the connection.
// Malformed frames are logged and skipped. Run never touches the registry
// or game state; its only side effect is writing replies to w.
//
// Postcondition: Returns the authenticated identity after writing the login
// response; a *RejectedError after writing an error frame; ErrHandshakeClosed
// on a clean close; or the transport / validator error.
func (g *Gate) Run(ctx context.Context, r *frame.Reader, w *frame.Writer) (auth.Identity, error) {
	for {
		text, err := r.ReadText()
		if err != nil {
			var perr *frame.ParseError
			switch {
			case errors.As(err, &perr):
				g.logger.Warn("discarding malformed handshake frame", zap.Error(err))
				continue
			case errors.Is(err, io.EOF):
				return auth.Identity{}, ErrHandshakeClosed
			default:
				return auth.Identity{}, fmt.Errorf("reading handshake: %w", err)
			}
		}

		msg, err := xmlmsg.Decode(text)
		if err != nil {
			g.logger.Warn("discarding invalid handshake message",
				zap.String("frame", text),
				zap.Error(err),
			)
			continue
		}

		switch msg.Kind {
		case xmlmsg.VersionCheck:
			g.logger.Debug("version check", zap.String("version", msg.Version))
			err = w.WriteText(xmlmsg.APIOK())
		case xmlmsg.RandomKey:
			err = w.WriteText(xmlmsg.RandomKeyReply(g.cfg.RandomKey))
		case xmlmsg.PolicyRequest:
			err = w.WriteText(xmlmsg.Policy(g.cfg.PolicyPort))
		case xmlmsg.Login:
			return g.login(ctx, w, msg)
		}
		if err != nil {
			return auth.Identity{}, fmt.Errorf("writing handshake reply: %w", err)
		}
	}
}

func (g *Gate) login(ctx context.Context, w *frame.Writer, msg xmlmsg.ClientMessage) (auth.Identity, error) {
	id, err := g.validator.Validate(ctx, msg.Username, msg.Password)
	if err != nil {
		var code as2.ErrorCode
		switch {
		case errors.Is(err, auth.ErrUnknownUser):
			code = as2.ErrNameNotFound
		case errors.Is(err, auth.ErrWrongPassword):
			code = as2.ErrPasswordWrong
		default:
			return auth.Identity{}, fmt.Errorf("validating credentials: %w", err)
		}
		if werr := writePacket(w, as2.Error{Code: code}); werr != nil {
			g.logger.Debug("writing rejection", zap.Error(werr))
		}
		return auth.Identity{}, &RejectedError{Code: code, Err: err}
	}

	if err := writePacket(w, as2.LoginResponse{}); err != nil {
		return auth.Identity{}, fmt.Errorf("writing login response: %w", err)
	}
	return id, nil
}

func writePacket(w *frame.Writer, p as2.ServerPacket) error {
	s, err := as2.Encode(p)
	if err != nil {
		return err
	}
	return w.WriteText(s)
}
