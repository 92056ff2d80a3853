package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanthive/tradegate/internal/logger"
	"github.com/quanthive/tradegate/pkg/types"
)

// attachFake wires a fake adapter connection and worker into a manager
// without going through the credential-consuming Connect path.
func attachFake(t *testing.T, m *Manager, account *Account, adapter *fakeAdapter) *Worker {
	t.Helper()

	breaker := m.breakers[account.ID].GetOrCreate(adapter.name)
	conn := &Connection{
		VenueID:   adapter.name,
		AccountID: account.ID,
		Adapter:   adapter,
		Breaker:   breaker,
	}
	require.NoError(t, account.AddConnection(conn))

	log, err := logger.NewLoggerAt(t.TempDir(), account.ID)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	w := NewWorker(account, conn, m.spacer, m.retrier, m.riskEngine,
		m.tiers, log, m.records, m.settings)
	m.workers[workerKey(account.ID, adapter.name)] = w
	return w
}

func TestAddAccountEnforcesSingleMaster(t *testing.T) {
	m := NewManager(ManagerOptions{})

	_, err := m.AddAccount("prime", RoleMaster)
	require.NoError(t, err)

	_, err = m.AddAccount("usurper", RoleMaster)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "master account already registered")

	_, err = m.AddAccount("prime", RoleUser)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	_, err = m.AddAccount("alice", RoleUser)
	require.NoError(t, err)
	_, err = m.AddAccount("bob", RoleUser)
	require.NoError(t, err)
}

func TestSubmitIntentUnknownTargets(t *testing.T) {
	m := NewManager(ManagerOptions{})
	account, err := m.AddAccount("alice", RoleUser)
	require.NoError(t, err)
	attachFake(t, m, account, newFakeAdapter("fake-1"))

	err = m.SubmitIntent(types.OrderIntent{
		AccountID: "nobody", VenueID: "fake-1",
		Symbol: "BTC-USD", Side: types.SideBuy, RequestedUSD: 100,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown account")

	err = m.SubmitIntent(types.OrderIntent{
		AccountID: "alice", VenueID: "fake-9",
		Symbol: "BTC-USD", Side: types.SideBuy, RequestedUSD: 100,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no connection")
}

func TestBuyFailoverSkipsOpenCircuit(t *testing.T) {
	m := NewManager(ManagerOptions{})
	account, err := m.AddAccount("alice", RoleUser)
	require.NoError(t, err)

	primary := newFakeAdapter("fake-primary")
	alternate := newFakeAdapter("fake-alternate")
	wPrimary := attachFake(t, m, account, primary)
	wAlternate := attachFake(t, m, account, alternate)

	wPrimary.conn.Breaker.ForceOpen()

	require.NoError(t, m.SubmitIntent(types.OrderIntent{
		AccountID: "alice", VenueID: "fake-primary",
		Symbol: "BTC-USD", Side: types.SideBuy, RequestedUSD: 100,
	}))
	assert.Equal(t, 0, len(wPrimary.buys), "buy must not queue on the open venue")
	assert.Equal(t, 1, len(wAlternate.buys), "buy must fail over to the healthy venue")
	queued := <-wAlternate.buys
	assert.Equal(t, "fake-alternate", queued.VenueID)
}

func TestExitNeverFailsOver(t *testing.T) {
	m := NewManager(ManagerOptions{})
	account, err := m.AddAccount("alice", RoleUser)
	require.NoError(t, err)

	primary := newFakeAdapter("fake-primary")
	alternate := newFakeAdapter("fake-alternate")
	wPrimary := attachFake(t, m, account, primary)
	wAlternate := attachFake(t, m, account, alternate)

	wPrimary.conn.Breaker.ForceOpen()

	require.NoError(t, m.SubmitIntent(types.OrderIntent{
		AccountID: "alice", VenueID: "fake-primary",
		Symbol: "BTC-USD", Side: types.SideSell,
	}))
	assert.Equal(t, 1, len(wPrimary.exits), "exit stays on its own venue")
	assert.Equal(t, 0, len(wAlternate.exits))
	assert.Equal(t, 0, len(wAlternate.buys))
}
