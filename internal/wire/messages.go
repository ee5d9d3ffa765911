// Package wire carries the matching core's binary TCP protocol,
// adapted from the teacher's order-placement wire format to the
// position-lifecycle operations this market exposes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short for its header")
)

// MessageType identifies an incoming client request.
type MessageType uint16

const (
	Heartbeat MessageType = iota
	OpenMarket
	OpenLimit
	CloseMarket
	CloseLimit
	Liquidate
	GetBestOffers
	GetAccountPosition
	AdminUpdateState
	AdminStartFunding
	AdminStopFunding
	AdminSuccessNotification
	AdminRetryError
)

// ReportMessageType identifies an outgoing server response.
type ReportMessageType uint16

const (
	PositionReport ReportMessageType = iota
	ErrorReport
	BestOffersReport
)

type Message interface {
	GetType() MessageType
}

type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType { return m.TypeOf }

// Serialize encodes a header-only request (Heartbeat, GetBestOffers).
func (m BaseMessage) Serialize() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf[0:2], uint16(m.TypeOf))
	return buf
}

// header layout shared by every position-mutating request, after the
// leading 2-byte type has already been stripped by parseMessage:
// [16B uuid][32B subaccount][8B collateral][8B leverageX10][1B long][8B tick]
const positionMessageLen = 16 + 32 + 8 + 8 + 1 + 8

// PositionMessage carries the fields common to every open/close/liquidate
// request; unused fields are zero for requests that don't need them
// (e.g. CloseMarket ignores Collateral/LeverageX10).
type PositionMessage struct {
	BaseMessage
	RequestID  uuid.UUID
	Subaccount [32]byte
	Collateral uint64
	LeverageX10 uint64
	Long       bool
	Tick       uint64
}

func parsePositionMessage(typeOf MessageType, msg []byte) (PositionMessage, error) {
	if len(msg) < positionMessageLen {
		return PositionMessage{}, ErrMessageTooShort
	}
	m := PositionMessage{BaseMessage: BaseMessage{TypeOf: typeOf}}
	id, err := uuid.FromBytes(msg[0:16])
	if err != nil {
		return PositionMessage{}, fmt.Errorf("invalid request id: %w", err)
	}
	m.RequestID = id
	copy(m.Subaccount[:], msg[16:48])
	m.Collateral = binary.BigEndian.Uint64(msg[48:56])
	m.LeverageX10 = binary.BigEndian.Uint64(msg[56:64])
	m.Long = msg[64] != 0
	m.Tick = binary.BigEndian.Uint64(msg[65:73])
	return m, nil
}

// Serialize encodes a position request to its wire form, including the
// leading message-type header parseMessage expects.
func (m *PositionMessage) Serialize() []byte {
	buf := make([]byte, 2+positionMessageLen) // type header + body
	binary.BigEndian.PutUint16(buf[0:2], uint16(m.TypeOf))
	copy(buf[2:18], m.RequestID[:])
	copy(buf[18:50], m.Subaccount[:])
	binary.BigEndian.PutUint64(buf[50:58], m.Collateral)
	binary.BigEndian.PutUint64(buf[58:66], m.LeverageX10)
	if m.Long {
		buf[66] = 1
	}
	binary.BigEndian.PutUint64(buf[67:75], m.Tick)
	return buf
}

// adminMessageLen: [1B NotPaused][8B MaxLeverageX10][8B MinCollateral]
// [8B FundingPeriodSeconds][32B Subaccount]. Not every admin op uses
// every field — AdminStopFunding reads none of them, for instance.
const adminMessageLen = 1 + 8 + 8 + 8 + 32

// AdminMessage carries the trusted-caller-only operations:
// state updates, funding timer start/stop, and error-log
// acknowledgement/retry.
type AdminMessage struct {
	BaseMessage
	NotPaused            bool
	MaxLeverageX10       uint64
	MinCollateral        uint64
	FundingPeriodSeconds uint64
	Subaccount           [32]byte
}

// Serialize encodes an admin request to its wire form, including the
// leading message-type header parseMessage expects.
func (m *AdminMessage) Serialize() []byte {
	buf := make([]byte, 2+adminMessageLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(m.TypeOf))
	if m.NotPaused {
		buf[2] = 1
	}
	binary.BigEndian.PutUint64(buf[3:11], m.MaxLeverageX10)
	binary.BigEndian.PutUint64(buf[11:19], m.MinCollateral)
	binary.BigEndian.PutUint64(buf[19:27], m.FundingPeriodSeconds)
	copy(buf[27:59], m.Subaccount[:])
	return buf
}

func parseAdminMessage(typeOf MessageType, msg []byte) (AdminMessage, error) {
	if len(msg) < adminMessageLen {
		return AdminMessage{}, ErrMessageTooShort
	}
	m := AdminMessage{BaseMessage: BaseMessage{TypeOf: typeOf}}
	m.NotPaused = msg[0] != 0
	m.MaxLeverageX10 = binary.BigEndian.Uint64(msg[1:9])
	m.MinCollateral = binary.BigEndian.Uint64(msg[9:17])
	m.FundingPeriodSeconds = binary.BigEndian.Uint64(msg[17:25])
	copy(m.Subaccount[:], msg[25:57])
	return m, nil
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < 2 {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	body := msg[2:]
	switch typeOf {
	case OpenMarket, OpenLimit, CloseMarket, CloseLimit, Liquidate, GetAccountPosition:
		return parsePositionMessage(typeOf, body)
	case AdminUpdateState, AdminStartFunding, AdminStopFunding, AdminSuccessNotification, AdminRetryError:
		return parseAdminMessage(typeOf, body)
	case GetBestOffers:
		return BaseMessage{TypeOf: GetBestOffers}, nil
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	default:
		return nil, ErrInvalidMessageType
	}
}

// Report is a response frame: either a position outcome, a best-offer
// pair, or an error string.
type Report struct {
	MessageType ReportMessageType
	RequestID   uuid.UUID
	Proceeds    uint64
	Status      uint8
	HighestBuy  uint64
	LowestSell  uint64
	ErrStrLen   uint32
	Err         string
}

const reportFixedLen = 2 + 16 + 8 + 1 + 8 + 8 + 4

// Serialize converts a report to its wire form.
func (r *Report) Serialize() []byte {
	buf := make([]byte, reportFixedLen+len(r.Err))
	binary.BigEndian.PutUint16(buf[0:2], uint16(r.MessageType))
	copy(buf[2:18], r.RequestID[:])
	binary.BigEndian.PutUint64(buf[18:26], r.Proceeds)
	buf[26] = r.Status
	binary.BigEndian.PutUint64(buf[27:35], r.HighestBuy)
	binary.BigEndian.PutUint64(buf[35:43], r.LowestSell)
	binary.BigEndian.PutUint32(buf[43:47], r.ErrStrLen)
	copy(buf[reportFixedLen:], r.Err)
	return buf
}

// ParseReport decodes a response frame read off the wire (used by
// cmd/client, which has no access to parseMessage's request-side
// switch).
func ParseReport(buf []byte) (Report, error) {
	if len(buf) < reportFixedLen {
		return Report{}, ErrMessageTooShort
	}
	var r Report
	r.MessageType = ReportMessageType(binary.BigEndian.Uint16(buf[0:2]))
	id, err := uuid.FromBytes(buf[2:18])
	if err != nil {
		return Report{}, fmt.Errorf("invalid request id: %w", err)
	}
	r.RequestID = id
	r.Proceeds = binary.BigEndian.Uint64(buf[18:26])
	r.Status = buf[26]
	r.HighestBuy = binary.BigEndian.Uint64(buf[27:35])
	r.LowestSell = binary.BigEndian.Uint64(buf[35:43])
	r.ErrStrLen = binary.BigEndian.Uint32(buf[43:47])
	if len(buf) < reportFixedLen+int(r.ErrStrLen) {
		return Report{}, ErrMessageTooShort
	}
	r.Err = string(buf[reportFixedLen : reportFixedLen+int(r.ErrStrLen)])
	return r, nil
}

func errorReport(requestID uuid.UUID, err error) []byte {
	errStr := err.Error()
	r := Report{
		MessageType: ErrorReport,
		RequestID:   requestID,
		ErrStrLen:   uint32(len(errStr)),
		Err:         errStr,
	}
	return r.Serialize()
}
