package marketadapter

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmatch/internal/common"
	"perpmatch/internal/position"
)

// fakeCollaboratorServer answers exactly one request with resp, then
// stops, mirroring a minimal stand-in for an external vault/oracle.
func fakeCollaboratorServer(t *testing.T, conn net.Conn, resp response) {
	t.Helper()
	go func() {
		header := make([]byte, 1+16)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		// Consume the request body so the client's single write completes
		// before it starts reading the response.
		go io.Copy(io.Discard, conn)
		buf := make([]byte, responseFixedLen+len(resp.err))
		if resp.ok {
			buf[0] = 1
		}
		binary.BigEndian.PutUint64(buf[1:9], resp.tick)
		binary.BigEndian.PutUint32(buf[9:13], uint32(len(resp.err)))
		copy(buf[responseFixedLen:], resp.err)
		conn.Write(buf)
	}()
}

func TestVaultClientCreatePositionValidityCheckSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	fakeCollaboratorServer(t, server, response{ok: true})

	v := &VaultClient{conn: client}
	sub := common.DeriveSubaccount("alice", 0)
	err := v.CreatePositionValidityCheck(context.Background(), sub, 1000)
	assert.NoError(t, err)
}

func TestVaultClientManagePositionUpdateFailure(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	fakeCollaboratorServer(t, server, response{ok: false, err: "insufficient reserves"})

	v := &VaultClient{conn: client}
	sub := common.DeriveSubaccount("alice", 0)
	err := v.ManagePositionUpdate(context.Background(), sub, position.ManageDebtParams{InitialDebt: 100}, -50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient reserves")
}

func TestOracleClientGetExchangeRate(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	fakeCollaboratorServer(t, server, response{ok: true, tick: 77777})

	o := &OracleClient{conn: client}
	tick, err := o.GetExchangeRate(context.Background(), "BTC", "USD")
	require.NoError(t, err)
	assert.Equal(t, uint64(77777), tick)
}

func TestVaultClientNilConnReturnsError(t *testing.T) {
	var v *VaultClient
	sub := common.DeriveSubaccount("alice", 0)
	err := v.CreatePositionValidityCheck(context.Background(), sub, 100)
	assert.ErrorIs(t, err, ErrCollaboratorUnavailable)
}
