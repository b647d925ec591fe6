package scheduler

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

	"github.com/cuemby/terrapool/pkg/labels"
	"github.com/cuemby/terrapool/pkg/naming"
	"github.com/cuemby/terrapool/pkg/provision"
	"github.com/cuemby/terrapool/pkg/registry"
	"github.com/cuemby/terrapool/pkg/types"
)

type installations map[string]*types.Installation

func (i installations) Installation(name string) (*types.Installation, bool) {
	inst, ok := i[name]
	return inst, ok
}

// gatedProvisioner provisions through a real coordinator and a terraform
// stand-in, optionally holding every attempt until gate is closed
type gatedProvisioner struct {
	coord *provision.Coordinator
	gate  chan struct{}
	fail  map[string]bool // template name → fail the attempt

	mu    sync.Mutex
	calls int
}

func (g *gatedProvisioner) ProvisionAttempt(ctx context.Context, pool *types.Pool, tmpl *types.Template, attempt *provision.Attempt) (*provision.Agent, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	if g.gate != nil {
		<-g.gate
	}
	if g.fail[tmpl.Name] {
		return nil, errors.New("boom")
	}
	return g.coord.ProvisionAttempt(ctx, pool, tmpl, attempt)
}

func (g *gatedProvisioner) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type connectorFunc func(ctx context.Context, agent *provision.Agent) error

func (f connectorFunc) Connect(ctx context.Context, agent *provision.Agent) error { return f(ctx, agent) }

func newCoordinator(t *testing.T) *provision.Coordinator {
	t.Helper()
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, types.ExecutableName()), []byte("#!/bin/sh\nexit 0\n"), 0755))
	return provision.NewCoordinator(provision.Config{
		RootDir:       t.TempDir(),
		Installations: installations{"tf": {Name: "tf", Home: home}},
	})
}

func testPool() *types.Pool {
	return &types.Pool{
		Name: "aws",
		Templates: []*types.Template{
			{Name: "small", Labels: "linux small", Installation: "tf", Executors: 1, InstanceCap: 2},
			{Name: "large", Labels: "linux large", Installation: "tf", Executors: 2},
			{Name: "win", Labels: "windows", Installation: "tf", Executors: 1},
		},
	}
}

func newTestScheduler(t *testing.T, prov Provisioner, conn Connector) (*Scheduler, *registry.Registry) {
	t.Helper()
	lock := &sync.Mutex{}
	reg := registry.New(registry.Options{Lock: lock})
	s := NewScheduler(Config{
		Pools:       []*types.Pool{testPool()},
		Provisioner: prov,
		Connector:   conn,
		Registry:    reg,
		Lock:        lock,
	})
	t.Cleanup(s.Shutdown)
	return s, reg
}

func waitAll(t *testing.T, planned []*PlannedAgent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, p := range planned {
		_, _ = p.Wait(ctx)
		require.NoError(t, ctx.Err(), "attempt %s did not finish", p.Name)
	}
}

func TestRequestCapacityUnknownPool(t *testing.T) {
	s, _ := newTestScheduler(t, &gatedProvisioner{coord: newCoordinator(t)}, nil)

	_, err := s.RequestCapacity(context.Background(), "gcp", nil, 1)
	assert.ErrorIs(t, err, ErrUnknownPool)
}

func TestRequestCapacityInstanceCap(t *testing.T) {
	prov := &gatedProvisioner{coord: newCoordinator(t)}
	s, reg := newTestScheduler(t, prov, nil)

	// Two agents of the capped template already exist.
	require.NoError(t, reg.Reserve(naming.Generate("aws", "small"), "aws", "small", 1))
	require.NoError(t, reg.Reserve(naming.Generate("aws", "small"), "aws", "small", 1))

	planned, err := s.RequestCapacity(context.Background(), "aws", labels.MustParse("small"), 3)
	require.NoError(t, err)
	assert.Empty(t, planned, "capped template yields nothing")

	planned, err = s.RequestCapacity(context.Background(), "aws", labels.MustParse("linux"), 1)
	require.NoError(t, err)
	require.Len(t, planned, 1)
	assert.Equal(t, "large", planned[0].Template, "an under-cap template in the same pool still provisions")
	waitAll(t, planned)
}

func TestRequestCapacityExecutors(t *testing.T) {
	prov := &gatedProvisioner{coord: newCoordinator(t)}
	s, reg := newTestScheduler(t, prov, nil)

	tests := []struct {
		name      string
		label     string
		excess    int
		templates []string
	}{
		{"cap stops the first template, the rest goes to the next", "linux", 4, []string{"small", "small", "large"}},
		{"no match", "arm64", 3, nil},
		{"zero excess", "windows", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planned, err := s.RequestCapacity(context.Background(), "aws", labels.MustParse(tt.label), tt.excess)
			require.NoError(t, err)

			var got []string
			for _, p := range planned {
				got = append(got, p.Template)
				assert.True(t, naming.BelongsToTemplate(p.Name, "aws", p.Template))
			}
			assert.Equal(t, tt.templates, got)
			waitAll(t, planned)
		})
	}

	assert.Equal(t, 2, reg.CountTemplate("aws", "small"))
	assert.Equal(t, 1, reg.CountTemplate("aws", "large"))
}

func TestRequestCapacityUnlabeled(t *testing.T) {
	pool := &types.Pool{Name: "p", Templates: []*types.Template{
		{Name: "labeled", Labels: "linux", Installation: "tf", Executors: 1},
		{Name: "any", Labels: "linux", AllowUnlabeled: true, Installation: "tf", Executors: 1},
	}}
	s := NewScheduler(Config{
		Pools:       []*types.Pool{pool},
		Provisioner: &gatedProvisioner{coord: newCoordinator(t)},
		Registry:    registry.New(registry.Options{}),
		Lock:        &sync.Mutex{},
	})
	defer s.Shutdown()

	planned, err := s.RequestCapacity(context.Background(), "p", nil, 1)
	require.NoError(t, err)
	require.Len(t, planned, 1)
	assert.Equal(t, "any", planned[0].Template)
	waitAll(t, planned)
}

func TestConcurrentRequestsRespectCap(t *testing.T) {
	prov := &gatedProvisioner{coord: newCoordinator(t), gate: make(chan struct{})}
	s, reg := newTestScheduler(t, prov, nil)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total []*PlannedAgent
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			planned, err := s.RequestCapacity(context.Background(), "aws", labels.MustParse("small"), 2)
			assert.NoError(t, err)
			mu.Lock()
			total = append(total, planned...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Nothing has been provisioned yet; only reservations stop the others.
	assert.Len(t, total, 2)
	assert.Equal(t, 2, reg.CountTemplate("aws", "small"))

	close(prov.gate)
	waitAll(t, total)
	assert.Equal(t, 2, prov.count())
}

func TestFailedAttemptReleasesName(t *testing.T) {
	prov := &gatedProvisioner{coord: newCoordinator(t), fail: map[string]bool{"small": true}}
	s, reg := newTestScheduler(t, prov, nil)

	planned, err := s.RequestCapacity(context.Background(), "aws", labels.MustParse("linux"), 4)
	require.NoError(t, err)
	require.Len(t, planned, 3)
	waitAll(t, planned)

	for _, p := range planned {
		agent, err := p.Result()
		if p.Template == "small" {
			assert.Error(t, err)
			assert.Nil(t, agent)
			_, gerr := reg.Get(p.Name)
			assert.ErrorIs(t, gerr, registry.ErrNotFound)
		} else {
			assert.NoError(t, err, "other attempts are unaffected")
			require.NotNil(t, agent)
			rec, gerr := reg.Get(p.Name)
			require.NoError(t, gerr)
			assert.Equal(t, types.AgentLaunching, rec.Status)
			assert.Equal(t, types.AttemptSucceeded, p.Status())
		}
	}
	assert.Equal(t, 0, reg.CountTemplate("aws", "small"))
}

func TestHandshakeFailureTerminates(t *testing.T) {
	prov := &gatedProvisioner{coord: newCoordinator(t)}
	conn := connectorFunc(func(ctx context.Context, agent *provision.Agent) error {
		return errors.New("agent never connected")
	})
	s, reg := newTestScheduler(t, prov, conn)

	planned, err := s.RequestCapacity(context.Background(), "aws", labels.MustParse("windows"), 1)
	require.NoError(t, err)
	require.Len(t, planned, 1)

	agent, err := planned[0].Wait(context.Background())
	assert.EqualError(t, err, "agent never connected")
	assert.Nil(t, agent)
	assert.Empty(t, reg.List())
}

func TestHandshakeSuccess(t *testing.T) {
	prov := &gatedProvisioner{coord: newCoordinator(t)}
	var reg *registry.Registry
	conn := connectorFunc(func(ctx context.Context, agent *provision.Agent) error {
		return reg.MarkOnline(agent.Name)
	})
	s, r := newTestScheduler(t, prov, conn)
	reg = r

	planned, err := s.RequestCapacity(context.Background(), "aws", labels.MustParse("windows"), 1)
	require.NoError(t, err)
	require.Len(t, planned, 1)

	agent, err := planned[0].Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, agent)

	rec, err := reg.Get(agent.Name)
	require.NoError(t, err)
	assert.Equal(t, types.AgentOnline, rec.Status)

	s.Wait()
}

// panickingRegistry fails hard the first time an agent is attached
type panickingRegistry struct {
	*registry.Registry
	once sync.Once
}

func (r *panickingRegistry) Attach(agent *provision.Agent) error {
	r.once.Do(func() { panic("attach exploded") })
	return r.Registry.Attach(agent)
}

func TestPanicDuringAttachReleasesLock(t *testing.T) {
	lock := &sync.Mutex{}
	reg := &panickingRegistry{Registry: registry.New(registry.Options{Lock: lock})}
	s := NewScheduler(Config{
		Pools:       []*types.Pool{testPool()},
		Provisioner: &gatedProvisioner{coord: newCoordinator(t)},
		Registry:    reg,
		Lock:        lock,
	})
	t.Cleanup(s.Shutdown)

	planned, err := s.RequestCapacity(context.Background(), "aws", labels.MustParse("windows"), 1)
	require.NoError(t, err)
	require.Len(t, planned, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	agent, err := planned[0].Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attach exploded")
	assert.Nil(t, agent)
	_, gerr := reg.Get(planned[0].Name)
	assert.ErrorIs(t, gerr, registry.ErrNotFound)

	planned, err = s.RequestCapacity(ctx, "aws", labels.MustParse("windows"), 1)
	require.NoError(t, err)
	require.Len(t, planned, 1)
	agent, err = planned[0].Wait(ctx)
	require.NoError(t, err)
	assert.NotNil(t, agent)
}
