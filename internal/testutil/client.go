package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/cory-johannsen/floe/internal/protocol/frame"
)

// XTClient is a NUL-framed test client for integration testing.
type XTClient struct {
	conn   net.Conn
	reader *frame.Reader
	writer *frame.Writer
	t      *testing.T
}

// NewXTClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected XTClient or fails the test.
func NewXTClient(t *testing.T, addr string) *XTClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	r, w := frame.Split(conn, 0, 5*time.Second)
	t.Logf("xt client connected to %s [%s]", addr, time.Since(start))
	return &XTClient{conn: conn, reader: r, writer: w, t: t}
}

// Send writes text as one frame.
//
// Postcondition: text followed by a NUL byte is written to the connection.
func (c *XTClient) Send(text string) {
	c.t.Helper()
	if err := c.writer.WriteText(text); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// SendRaw writes b without adding a terminator.
func (c *XTClient) SendRaw(b []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("sending raw %q: %v", b, err)
	}
}

// Read returns the next frame, failing the test after timeout.
func (c *XTClient) Read(timeout time.Duration) string {
	c.t.Helper()
	text, err := c.TryRead(timeout)
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return text
}

// TryRead returns the next frame or the read error.
func (c *XTClient) TryRead(timeout time.Duration) (string, error) {
	c.reader.SetTimeout(timeout)
	return c.reader.ReadText()
}

// ReadUntil reads frames until one starts with prefix and returns it.
// Frames read before the match are discarded.
//
// Precondition: prefix must be non-empty.
// Postcondition: Returns the matching frame, or fails on timeout.
func (c *XTClient) ReadUntil(prefix string, timeout time.Duration) string {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	var seen []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no frame with prefix %q; saw %q", prefix, seen)
		}
		text, err := c.TryRead(remaining)
		if err != nil {
			c.t.Fatalf("reading until %q: saw %q, error: %v", prefix, seen, err)
		}
		if strings.HasPrefix(text, prefix) {
			return text
		}
		seen = append(seen, text)
	}
}

// Login runs the XML handshake and returns the server's reply to the
// login message.
func (c *XTClient) Login(username, password string) string {
	c.t.Helper()
	c.Send(`<msg t='sys'><body action='verChk' r='0'><ver v='153' /></body></msg>`)
	c.ReadUntil(`<msg t="sys"><body action="apiOK"`, 5*time.Second)
	c.Send(`<msg t='sys'><body action='rndK' r='-1'></body></msg>`)
	c.ReadUntil(`<msg t="sys"><body action="rndK"`, 5*time.Second)
	c.Send(fmt.Sprintf(
		`<msg t='sys'><body action='login' r='0'><login z='w1'><nick><![CDATA[%s]]></nick><pword><![CDATA[%s]]></pword></login></body></msg>`,
		username, password,
	))
	return c.Read(5 * time.Second)
}

// Close closes the underlying connection.
func (c *XTClient) Close() {
	c.conn.Close()
}
