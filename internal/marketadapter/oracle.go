package marketadapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
)

// OracleClient dials a single price-feed collaborator connection.
type OracleClient struct {
	mu   sync.Mutex
	conn net.Conn
}

func DialOracle(address string) (*OracleClient, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial oracle: %w", err)
	}
	return &OracleClient{conn: conn}, nil
}

func (o *OracleClient) Close() error { return o.conn.Close() }

// GetExchangeRate asks the oracle for the current tick quoting quote
// per unit of base.
func (o *OracleClient) GetExchangeRate(ctx context.Context, base, quote string) (uint64, error) {
	if o == nil || o.conn == nil {
		return 0, ErrCollaboratorUnavailable
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	body := make([]byte, 0, len(base)+len(quote)+2)
	body = append(body, byte(len(base)))
	body = append(body, base...)
	body = append(body, byte(len(quote)))
	body = append(body, quote...)

	if err := writeRequest(o.conn, reqGetExchangeRate, uuid.New(), body); err != nil {
		return 0, fmt.Errorf("oracle request: %w", err)
	}
	resp, err := readResponse(o.conn)
	if err != nil {
		return 0, fmt.Errorf("oracle response: %w", err)
	}
	if !resp.ok {
		return 0, errors.New(resp.err)
	}
	return resp.tick, nil
}
