package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/floe/internal/auth"
	"github.com/cory-johannsen/floe/internal/protocol/frame"
)

type gateResult struct {
	id  auth.Identity
	err error
}

type gatePeer struct {
	conn   net.Conn
	r      *frame.Reader
	w      *frame.Writer
	result chan gateResult
}

func startGate(t *testing.T, v auth.CredentialValidator) *gatePeer {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	g := NewGate(GateConfig{RandomKey: "e4a2dbcca10a7246817a83cd", PolicyPort: 6112}, v, zaptest.NewLogger(t))
	sr, sw := frame.Split(server, 0, time.Second)
	result := make(chan gateResult, 1)
	go func() {
		id, err := g.Run(context.Background(), sr, sw)
		result <- gateResult{id: id, err: err}
	}()

	cr, cw := frame.Split(client, 0, time.Second)
	cr.SetTimeout(2 * time.Second)
	return &gatePeer{conn: client, r: cr, w: cw, result: result}
}

func (p *gatePeer) send(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, p.w.WriteText(text))
}

func (p *gatePeer) read(t *testing.T) string {
	t.Helper()
	text, err := p.r.ReadText()
	require.NoError(t, err)
	return text
}

func (p *gatePeer) wait(t *testing.T) gateResult {
	t.Helper()
	select {
	case res := <-p.result:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not finish")
		return gateResult{}
	}
}

func loginXML(user, pass string) string {
	return `<msg t='sys'><body action='login' r='0'><login z='w1'><nick><![CDATA[` + user +
		`]]></nick><pword><![CDATA[` + pass + `]]></pword></login></body></msg>`
}

func TestGate_Success(t *testing.T) {
	p := startGate(t, testAccounts())

	p.send(t, `<msg t='sys'><body action='verChk' r='0'><ver v='153' /></body></msg>`)
	assert.Equal(t, `<msg t="sys"><body action="apiOK" r="0" /></msg>`, p.read(t))

	p.send(t, `<msg t='sys'><body action='rndK' r='-1'></body></msg>`)
	assert.Equal(t, `<msg t="sys"><body action="rndK" r="-1"><k>e4a2dbcca10a7246817a83cd</k></body></msg>`, p.read(t))

	p.send(t, loginXML("Kirill", "secret"))
	assert.Equal(t, "%xt%l%-1%%", p.read(t))

	res := p.wait(t)
	require.NoError(t, res.err)
	assert.Equal(t, auth.Identity{PlayerID: 101, Username: "kirill", Nickname: "Kirill"}, res.id)
}

func TestGate_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		user  string
		pass  string
		reply string
		code  int
		cause error
	}{
		{"unknown user", "nobody", "x", "%xt%e%-1%100%", 100, auth.ErrUnknownUser},
		{"wrong password", "kirill", "nope", "%xt%e%-1%101%", 101, auth.ErrWrongPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := startGate(t, testAccounts())
			p.send(t, loginXML(tc.user, tc.pass))
			assert.Equal(t, tc.reply, p.read(t))

			res := p.wait(t)
			var rejected *RejectedError
			require.ErrorAs(t, res.err, &rejected)
			assert.Equal(t, tc.code, int(rejected.Code))
			assert.ErrorIs(t, res.err, tc.cause)
		})
	}
}

func TestGate_ValidatorFailure(t *testing.T) {
	p := startGate(t, failingValidator{err: errDatabaseDown})
	p.send(t, loginXML("kirill", "secret"))

	res := p.wait(t)
	assert.ErrorIs(t, res.err, errDatabaseDown)
	var rejected *RejectedError
	assert.NotErrorAs(t, res.err, &rejected)
}

func TestGate_SkipsMalformedFrames(t *testing.T) {
	p := startGate(t, testAccounts())

	p.send(t, `<msg t='sys'><body action='verChk'`)
	p.send(t, `<msg t='sys'><body action='bogus' r='0'></body></msg>`)
	_, err := p.conn.Write([]byte{0xff, 0xfe, 0x00})
	require.NoError(t, err)

	p.send(t, `<policy-file-request/>`)
	assert.Equal(t, `<cross-domain-policy><allow-access-from domain="*" to-ports="6112" /></cross-domain-policy>`, p.read(t))

	p.send(t, loginXML("sam", "anything"))
	assert.Equal(t, "%xt%l%-1%%", p.read(t))
	res := p.wait(t)
	require.NoError(t, res.err)
	assert.Equal(t, "sam", res.id.Nickname)
}

func TestGate_PeerCloses(t *testing.T) {
	p := startGate(t, testAccounts())
	require.NoError(t, p.conn.Close())

	res := p.wait(t)
	assert.ErrorIs(t, res.err, ErrHandshakeClosed)
}
