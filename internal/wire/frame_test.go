package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlRoundTrip(t *testing.T) {
	messages := []Message{
		NewBind("abc"),
		NewPing(),
		NewPong(),
		NewReady(),
		NewBindOK(),
		NewError(CodeUnknownSession, false),
		NewError(CodeRateLimited, true),
	}

	for _, msg := range messages {
		frame, err := EncodeControl(msg)
		require.NoError(t, err)
		require.NotEmpty(t, frame)
		assert.Equal(t, TagJSONControl, frame[0])

		decoded, err := DecodeControl(frame)
		require.NoError(t, err, "type %q", msg.Type)
		assert.Equal(t, msg, decoded)
	}
}

func TestDecodeControlFailures(t *testing.T) {
	cases := []struct {
		name   string
		frame  []byte
		reason string
	}{
		{"empty frame", nil, ReasonEmptyFrame},
		{"unknown tag", []byte{0x7f, '{', '}'}, ReasonUnknownTag},
		{"invalid utf8", []byte{TagJSONControl, 0xff, 0xfe}, ReasonBadUTF8},
		{"invalid json", envelope(`{"t":`), ReasonBadJSON},
		{"unknown type", envelope(`{"t":"zz","v":1}`), ReasonBadMessage},
		{"bind without session", envelope(`{"t":"b","v":1}`), ReasonBadMessage},
		{"bind version zero", envelope(`{"t":"b","s":"abc"}`), ReasonBadMessage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeControl(tc.frame)
			require.Error(t, err)
			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tc.reason, decodeErr.Reason)
		})
	}
}

func TestFutureVersionAccepted(t *testing.T) {
	frame := envelope(`{"t":"b","s":"abc","v":7}`)
	msg, err := DecodeControl(frame)
	require.NoError(t, err)
	assert.True(t, msg.FutureVersion())
	assert.Equal(t, "abc", msg.SessionID)
}

func TestValidateErrorMessage(t *testing.T) {
	assert.NoError(t, Message{Type: TypeError, Code: CodeAuth, Fatal: true}.Validate())
	assert.Error(t, Message{Type: TypeError}.Validate())
}

func envelope(body string) []byte {
	return append([]byte{TagJSONControl}, body...)
}
