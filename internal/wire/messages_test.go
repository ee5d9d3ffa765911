package wire

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionMessageRoundTrip(t *testing.T) {
	id := uuid.New()
	m := PositionMessage{
		BaseMessage: BaseMessage{TypeOf: OpenMarket},
		RequestID:   id,
		Collateral:  1_000_000,
		LeverageX10: 50,
		Long:        true,
		Tick:        12345,
	}
	copy(m.Subaccount[:], []byte("some-subaccount-bytes-padded...."))

	frame := m.Serialize()
	parsed, err := parseMessage(frame)
	require.NoError(t, err)

	pm, ok := parsed.(PositionMessage)
	require.True(t, ok)
	assert.Equal(t, m.RequestID, pm.RequestID)
	assert.Equal(t, m.Collateral, pm.Collateral)
	assert.Equal(t, m.LeverageX10, pm.LeverageX10)
	assert.Equal(t, m.Long, pm.Long)
	assert.Equal(t, m.Tick, pm.Tick)
	assert.Equal(t, m.Subaccount, pm.Subaccount)
}

func TestParseMessageRejectsShortFrame(t *testing.T) {
	_, err := parseMessage([]byte{0x00})
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestParseMessageRejectsUnknownType(t *testing.T) {
	frame := []byte{0xff, 0xff}
	_, err := parseMessage(frame)
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestReportSerializeIncludesErrorString(t *testing.T) {
	id := uuid.New()
	payload := errorReport(id, assert.AnError)
	assert.Greater(t, len(payload), reportFixedLen)
}
