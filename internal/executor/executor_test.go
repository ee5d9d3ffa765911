package executor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmatch/internal/common"
)

func TestCrossTickDrainsQueuedSubaccounts(t *testing.T) {
	var mu sync.Mutex
	var drained []common.Subaccount

	e := New(10*time.Millisecond, func(s common.Subaccount) {
		mu.Lock()
		defer mu.Unlock()
		drained = append(drained, s)
	})

	a := common.DeriveSubaccount("alice", 0)
	b := common.DeriveSubaccount("bob", 0)
	e.Register(100, a)
	e.Register(100, b)
	require.Equal(t, 0, e.Pending())

	e.CrossTick(100)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(drained) == 2
	}, time.Second, 5*time.Millisecond)

	e.Stop()
}

func TestUnregisterRemovesBeforeCross(t *testing.T) {
	e := New(10*time.Millisecond, func(common.Subaccount) {})
	a := common.DeriveSubaccount("alice", 0)
	e.Register(100, a)
	e.Unregister(100, a)
	e.CrossTick(100)
	assert.Equal(t, 0, e.Pending())
}
