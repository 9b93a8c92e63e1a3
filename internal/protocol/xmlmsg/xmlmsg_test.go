package xmlmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_VersionCheck(t *testing.T) {
	msg, err := Decode(`<msg t='sys'><body action='verChk' r='0'><ver v='153' /></body></msg>`)
	require.NoError(t, err)
	assert.Equal(t, VersionCheck, msg.Kind)
	assert.Equal(t, "153", msg.Version)
}

func TestDecode_RandomKey(t *testing.T) {
	msg, err := Decode(`<msg t='sys'><body action='rndK' r='-1'></body></msg>`)
	require.NoError(t, err)
	assert.Equal(t, RandomKey, msg.Kind)
}

func TestDecode_Login(t *testing.T) {
	msg, err := Decode(`<msg t='sys'><body action='login' r='0'><login z='w1'><nick><![CDATA[kirill]]></nick><pword><![CDATA[foo]]></pword></login></body></msg>`)
	require.NoError(t, err)
	assert.Equal(t, Login, msg.Kind)
	assert.Equal(t, "kirill", msg.Username)
	assert.Equal(t, "foo", msg.Password)
	assert.Equal(t, "w1", msg.Zone)
}

func TestDecode_Policy(t *testing.T) {
	msg, err := Decode("<policy-file-request/>")
	require.NoError(t, err)
	assert.Equal(t, PolicyRequest, msg.Kind)
}

func TestDecode_UnknownAction(t *testing.T) {
	_, err := Decode(`<msg t='sys'><body action='roomList' r='0'></body></msg>`)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{"", "not xml", "<msg><body", "%xt%s%u#h%1%"} {
		_, err := Decode(raw)
		assert.Error(t, err, "input %q", raw)
	}
}

func TestReplies(t *testing.T) {
	assert.Equal(t, `<msg t="sys"><body action="apiOK" r="0" /></msg>`, APIOK())
	assert.Equal(t, `<msg t="sys"><body action="rndK" r="-1"><k>e4a2dbcca10a7246817a83cd</k></body></msg>`, RandomKeyReply("e4a2dbcca10a7246817a83cd"))
	assert.Equal(t, `<msg t="sys"><body action="rndK" r="-1"><k>a&amp;b</k></body></msg>`, RandomKeyReply("a&b"))
	assert.Contains(t, Policy(6112), `to-ports="6112"`)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "verChk", VersionCheck.String())
	assert.Equal(t, "login", Login.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
