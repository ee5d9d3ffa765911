package marketadapter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"perpmatch/internal/common"
	"perpmatch/internal/position"
)

// VaultClient dials a single collateral/debt custodian connection and
// serializes every call across it, since the underlying net.Conn is
// not safe for concurrent writers.
type VaultClient struct {
	mu   sync.Mutex
	conn net.Conn
}

// DialVault connects to a vault collaborator at address.
func DialVault(address string) (*VaultClient, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial vault: %w", err)
	}
	return &VaultClient{conn: conn}, nil
}

func (v *VaultClient) Close() error { return v.conn.Close() }

// CreatePositionValidityCheck asks the vault whether sub may lock up
// collateral for a new position.
func (v *VaultClient) CreatePositionValidityCheck(ctx context.Context, sub common.Subaccount, collateral uint64) error {
	if v == nil || v.conn == nil {
		return ErrCollaboratorUnavailable
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	body := make([]byte, 32+8)
	copy(body[0:32], sub[:])
	binary.BigEndian.PutUint64(body[32:40], collateral)

	if err := writeRequest(v.conn, reqCreatePositionValidityCheck, uuid.New(), body); err != nil {
		return fmt.Errorf("vault request: %w", err)
	}
	resp, err := readResponse(v.conn)
	if err != nil {
		return fmt.Errorf("vault response: %w", err)
	}
	if !resp.ok {
		return errors.New(resp.err)
	}
	return nil
}

// ManagePositionUpdate tells the vault to settle a position close:
// repay params.AmountRepaid of params.InitialDebt and credit/debit
// profit against sub's collateral.
func (v *VaultClient) ManagePositionUpdate(ctx context.Context, sub common.Subaccount, params position.ManageDebtParams, profit int64) error {
	if v == nil || v.conn == nil {
		return ErrCollaboratorUnavailable
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	body := make([]byte, 32+8+8+8+8)
	copy(body[0:32], sub[:])
	binary.BigEndian.PutUint64(body[32:40], params.InitialDebt)
	binary.BigEndian.PutUint64(body[40:48], params.NetDebt)
	binary.BigEndian.PutUint64(body[48:56], params.AmountRepaid)
	binary.BigEndian.PutUint64(body[56:64], uint64(profit))

	if err := writeRequest(v.conn, reqManagePositionUpdate, uuid.New(), body); err != nil {
		return fmt.Errorf("vault request: %w", err)
	}
	resp, err := readResponse(v.conn)
	if err != nil {
		return fmt.Errorf("vault response: %w", err)
	}
	if !resp.ok {
		return errors.New(resp.err)
	}
	return nil
}
