package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

type fakeRegistrar struct {
	mu     sync.Mutex
	agents map[int64]domain.AgentRegisterRequest
	fail   int64
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{agents: make(map[int64]domain.AgentRegisterRequest)}
}

func (f *fakeRegistrar) RegisterAgent(_ context.Context, req domain.AgentRegisterRequest) (*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.AgentID == f.fail {
		return nil, errors.New("boom")
	}
	f.agents[req.AgentID] = req
	return &domain.Agent{AgentID: req.AgentID, Name: req.Name}, nil
}

func (f *fakeRegistrar) name(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[id].Name
}

const seed = `
agents:
  - id: 7
    name: Discovery EU
    type: tender_discovery
    endpoint: http://agent-7:9000
    credentials_ref: vault:portal/7
  - id: 8
    name: Rescue
    type: item_rescue
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(seed))
	require.NoError(t, err)
	require.Len(t, f.Agents, 2)
	assert.Equal(t, int64(7), f.Agents[0].AgentID)
	assert.Equal(t, "vault:portal/7", f.Agents[0].CredentialsRef)
	assert.Equal(t, domain.AgentTypeItemRescue, f.Agents[1].Type)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad type":  "agents:\n  - id: 1\n    name: a\n    type: crawler\n",
		"no name":   "agents:\n  - id: 1\n    type: item_rescue\n",
		"duplicate": "agents:\n  - id: 1\n    name: a\n    type: item_rescue\n  - id: 1\n    name: b\n    type: item_rescue\n",
		"not yaml":  "agents: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte(cases["duplicate"]))
	assert.True(t, errors.Is(err, domain.ErrInvalidAgent))
}

func TestApplyContinuesPastFailures(t *testing.T) {
	f, err := Parse([]byte(seed))
	require.NoError(t, err)

	r := newFakeRegistrar()
	r.fail = 7
	n, err := Apply(context.Background(), r, f)
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Rescue", r.name(8))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	r := newFakeRegistrar()
	w := NewWatcher(path, r, nil)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	require.Eventually(t, func() bool { return r.name(7) == "Discovery EU" }, time.Second, 10*time.Millisecond)

	// Give the watcher time to register before editing.
	time.Sleep(50 * time.Millisecond)
	updated := "agents:\n  - id: 7\n    name: Discovery EU (renamed)\n    type: tender_discovery\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool { return r.name(7) == "Discovery EU (renamed)" }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherFailsOnMissingFile(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), newFakeRegistrar(), nil)
	assert.Error(t, w.Run(context.Background()))
}
