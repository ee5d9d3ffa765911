// Package marketadapter implements market.Vault and market.Oracle as
// thin TCP clients, dialing out to the collateral/debt custodian and
// price-feed collaborators the matching core never embeds directly.
// The wire format mirrors the teacher's client/server split in
// cmd/client/client.go: a fixed binary header, optional variable-length
// tail, read with io.ReadFull rather than a single buffered Read.
package marketadapter

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
)

// requestType identifies an outbound call to a collaborator.
type requestType uint8

const (
	reqCreatePositionValidityCheck requestType = iota
	reqManagePositionUpdate
	reqGetExchangeRate
)

var ErrCollaboratorUnavailable = errors.New("collaborator connection unavailable")

// responseFixedLen: [1B ok][8B tick][4B errLen]
const responseFixedLen = 1 + 8 + 4

type response struct {
	ok   bool
	tick uint64
	err  string
}

func readResponse(conn net.Conn) (response, error) {
	header := make([]byte, responseFixedLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		return response{}, err
	}
	r := response{
		ok:   header[0] != 0,
		tick: binary.BigEndian.Uint64(header[1:9]),
	}
	errLen := binary.BigEndian.Uint32(header[9:13])
	if errLen > 0 {
		buf := make([]byte, errLen)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return response{}, err
		}
		r.err = string(buf)
	}
	return r, nil
}

func writeRequest(conn net.Conn, typeOf requestType, requestID uuid.UUID, body []byte) error {
	buf := make([]byte, 1+16+len(body))
	buf[0] = byte(typeOf)
	copy(buf[1:17], requestID[:])
	copy(buf[17:], body)
	_, err := conn.Write(buf)
	return err
}
