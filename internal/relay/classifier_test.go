package relay

import (
	"testing"

	"github.com/pscheid92/keyrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ValidFrame(t *testing.T) {
	raw := []byte(`{"key":"room","message":"hi","master":true,"canAnswer":true,"messageId":"q1","extra":1}`)

	msg, err := Parse(raw)

	require.NoError(t, err)
	assert.Equal(t, "room", msg.Key)
	assert.Equal(t, "hi", msg.Text)
	assert.True(t, msg.IsMaster)
	assert.True(t, msg.CanAnswer)
	assert.Equal(t, "q1", msg.MessageID)
	assert.Empty(t, msg.Answer)
	assert.Equal(t, raw, msg.Payload, "payload is the verbatim frame")
}

func TestParse_FalseAndEmptyValuesArePresent(t *testing.T) {
	msg, err := Parse([]byte(`{"key":"","message":"","master":false,"canAnswer":false}`))

	require.NoError(t, err)
	assert.Equal(t, domain.GroupRef{Namespace: domain.NamespaceBroadcast, Key: ""}, msg.Ref())
	assert.False(t, msg.IsMaster)
}

func TestParse_PayloadIsCopied(t *testing.T) {
	raw := frame("k", "m", true, false, "", "")
	msg := mustParse(t, raw)

	raw[0] = 'X'

	assert.Equal(t, byte('{'), msg.Payload[0])
}

func TestParse_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		missing []string
	}{
		{"missing key", `{"message":"m","master":true,"canAnswer":false}`, []string{"key"}},
		{"missing message", `{"key":"k","master":true,"canAnswer":false}`, []string{"message"}},
		{"missing master", `{"key":"k","message":"m","canAnswer":false}`, []string{"master"}},
		{"missing canAnswer", `{"key":"k","message":"m","master":true}`, []string{"canAnswer"}},
		{"empty object", `{}`, []string{"key", "message", "master", "canAnswer"}},
		{"null field", `{"key":null,"message":"m","master":true,"canAnswer":false}`, []string{"key"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))

			require.ErrorIs(t, err, domain.ErrMalformedMessage)
			var malformed *domain.MalformedMessageError
			require.ErrorAs(t, err, &malformed)
			assert.ElementsMatch(t, tt.missing, malformed.Missing)
		})
	}
}

func TestParse_NotJSON(t *testing.T) {
	for _, raw := range []string{"", "hello", "[1,2]", `{"key":1,"message":"m","master":true,"canAnswer":false}`} {
		_, err := Parse([]byte(raw))
		assert.ErrorIs(t, err, domain.ErrMalformedMessage, "frame %q", raw)
	}
}

func TestParse_InvalidUTF8(t *testing.T) {
	for _, raw := range []string{
		"{\"key\":\"\xff\",\"message\":\"m\",\"master\":true,\"canAnswer\":false}",
		"{\"key\":\"k\",\"message\":\"\xc3\x28\",\"master\":false,\"canAnswer\":false}",
	} {
		_, err := Parse([]byte(raw))
		require.ErrorIs(t, err, domain.ErrMalformedMessage, "frame %q", raw)
		assert.ErrorIs(t, err, errInvalidEncoding)
	}

	msg, err := Parse([]byte(`{"key":"grüße","message":"m","master":true,"canAnswer":false}`))
	require.NoError(t, err)
	assert.Equal(t, "grüße", msg.Key)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		master, canAnswer bool
		want              route
		role              string
	}{
		{true, false, routeBroadcastMaster, "master"},
		{false, false, routeBroadcastSlave, "slave"},
		{true, true, routeArbitratedMaster, "master"},
		{false, true, routeArbitratedSlave, "slave"},
	}

	for _, tt := range tests {
		r := classify(domain.Message{IsMaster: tt.master, CanAnswer: tt.canAnswer})
		assert.Equal(t, tt.want, r)
		assert.Equal(t, tt.role, r.role())
	}
}
