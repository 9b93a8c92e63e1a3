// Package xmlmsg encodes and decodes the legacy XML handshake messages that
// precede the XT protocol on every connection.
package xmlmsg

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the client handshake messages.
type Kind int

const (
	// VersionCheck declares the client's protocol version.
	VersionCheck Kind = iota + 1
	// RandomKey requests the key used to hash the password.
	RandomKey
	// Login submits credentials.
	Login
	// PolicyRequest asks for the cross-domain socket policy.
	PolicyRequest
)

func (k Kind) String() string {
	switch k {
	case VersionCheck:
		return "verChk"
	case RandomKey:
		return "rndK"
	case Login:
		return "login"
	case PolicyRequest:
		return "policy-file-request"
	default:
		return "unknown"
	}
}

// ClientMessage is a decoded client handshake message. Only the fields
// relevant to Kind are populated.
type ClientMessage struct {
	Kind     Kind
	Version  string
	Zone     string
	Username string
	Password string
}

// ErrUnknownAction is returned for well-formed messages with an unsupported action.
var ErrUnknownAction = errors.New("unknown handshake action")

type msgXML struct {
	XMLName xml.Name `xml:"msg"`
	T       string   `xml:"t,attr"`
	Body    bodyXML  `xml:"body"`
}

type bodyXML struct {
	Action string    `xml:"action,attr"`
	R      string    `xml:"r,attr"`
	Ver    *verXML   `xml:"ver"`
	Login  *loginXML `xml:"login"`
}

type verXML struct {
	V string `xml:"v,attr"`
}

type loginXML struct {
	Z     string `xml:"z,attr"`
	Nick  string `xml:"nick"`
	Pword string `xml:"pword"`
}

const policyRequest = "<policy-file-request/>"

// Decode parses one handshake frame.
//
// Postcondition: Returns the message, a wrapped xml syntax error, or
// ErrUnknownAction for an unsupported body action.
func Decode(raw string) (ClientMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == policyRequest {
		return ClientMessage{Kind: PolicyRequest}, nil
	}

	var m msgXML
	if err := xml.Unmarshal([]byte(trimmed), &m); err != nil {
		return ClientMessage{}, fmt.Errorf("parsing handshake xml: %w", err)
	}

	switch m.Body.Action {
	case "verChk":
		msg := ClientMessage{Kind: VersionCheck}
		if m.Body.Ver != nil {
			msg.Version = m.Body.Ver.V
		}
		return msg, nil
	case "rndK":
		return ClientMessage{Kind: RandomKey}, nil
	case "login":
		msg := ClientMessage{Kind: Login}
		if m.Body.Login != nil {
			msg.Zone = m.Body.Login.Z
			msg.Username = strings.TrimSpace(m.Body.Login.Nick)
			msg.Password = m.Body.Login.Pword
		}
		return msg, nil
	default:
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownAction, m.Body.Action)
	}
}

// APIOK acknowledges a version check.
func APIOK() string {
	return `<msg t="sys"><body action="apiOK" r="0" /></msg>`
}

// RandomKeyReply answers a rndK request with key.
func RandomKeyReply(key string) string {
	var b strings.Builder
	b.WriteString(`<msg t="sys"><body action="rndK" r="-1"><k>`)
	_ = xml.EscapeText(&b, []byte(key))
	b.WriteString(`</k></body></msg>`)
	return b.String()
}

// Policy is the cross-domain policy answered to policy-file-request.
func Policy(port int) string {
	return fmt.Sprintf(`<cross-domain-policy><allow-access-from domain="*" to-ports="%d" /></cross-domain-policy>`, port)
}
