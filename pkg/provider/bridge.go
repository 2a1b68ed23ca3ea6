package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/health"
	"github.com/latticehq/hostd/pkg/log"
	"github.com/latticehq/hostd/pkg/types"
)

// startupBlob is written to the provider process's stdin on spawn, per
// spec.md §4.6.
type startupBlob struct {
	LatticePrefix string        `json:"lattice_prefix"`
	HostID        string        `json:"host_id"`
	ProviderID    string        `json:"provider_id"`
	LinkName      string        `json:"link_name"`
	BusAddress    string        `json:"bus_address"`
	InitialLinks  []*types.Link `json:"initial_links"`
	InitialConfig []string      `json:"initial_config"`
	XKeyPublic    string        `json:"xkey_public"`
}

// ackEnvelope is the response shape for link-put/link-delete/shutdown
// acks sent by a provider process, mirroring the control protocol's
// own ack envelope (spec.md §4.9).
type ackEnvelope struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error"`
}

type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type providerStartedData struct {
	ProviderID string `json:"provider_id"`
}

type runningProcess struct {
	cmd          *exec.Cmd
	info         *types.RunningProvider
	linkName     string
	dir          string
	stopping     bool
	done         chan struct{}
	healthCancel context.CancelFunc
}

// Bridge manages provider processes: extraction from an archive,
// spawn with the startup handshake, link propagation, and shutdown
// (spec.md §4.6).
type Bridge struct {
	b                bus.Bus
	lattice          string
	hostID           string
	runDir           string
	handshakeTimeout time.Duration

	healthConfig health.Config

	mu      sync.RWMutex
	running map[string]*runningProcess
}

// New creates a Bridge. runDir holds one private subdirectory per
// spawned provider process, cleaned up on Stop.
func New(b bus.Bus, lattice, hostID, runDir string, handshakeTimeout time.Duration) *Bridge {
	return &Bridge{
		b:                b,
		lattice:          lattice,
		hostID:           hostID,
		runDir:           runDir,
		handshakeTimeout: handshakeTimeout,
		healthConfig:     health.DefaultConfig(),
		running:          make(map[string]*runningProcess),
	}
}

func rpcPrefix(lattice, providerID, linkName string) string {
	return fmt.Sprintf("wasmbus.rpc.%s.%s.%s", lattice, providerID, linkName)
}

// Start extracts the binary matching this host's (arch, os) from
// archive, spawns it with the startup blob on stdin, and waits up to
// the configured handshake deadline for a provider_started event.
func (br *Bridge) Start(ctx context.Context, archive *Archive, linkName, busAddress string, initialLinks []*types.Link, initialConfig []string, xkeyPublic string) (*types.RunningProvider, error) {
	id := archive.Claims.Subject

	bin, err := archive.Binary(goruntime.GOARCH, goruntime.GOOS)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(br.runDir, id+"-")
	if err != nil {
		return nil, errs.Wrap(errs.KindProviderStartup, "create provider run directory", err)
	}
	binPath := filepath.Join(dir, "provider")
	if err := os.WriteFile(binPath, bin, 0o700); err != nil {
		os.RemoveAll(dir)
		return nil, errs.Wrap(errs.KindProviderStartup, "write provider binary", err)
	}

	blob, err := json.Marshal(startupBlob{
		LatticePrefix: br.lattice,
		HostID:        br.hostID,
		ProviderID:    id,
		LinkName:      linkName,
		BusAddress:    busAddress,
		InitialLinks:  initialLinks,
		InitialConfig: initialConfig,
		XKeyPublic:    xkeyPublic,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, errs.Wrap(errs.KindProviderStartup, "marshal startup blob", err)
	}

	cmd := exec.Command(binPath)
	cmd.Stdin = bytes.NewReader(blob)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, errs.Wrap(errs.KindProviderStartup, "spawn provider process", err)
	}

	rp := &runningProcess{cmd: cmd, linkName: linkName, dir: dir, done: make(chan struct{})}

	if err := br.awaitHandshake(ctx, id); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		os.RemoveAll(dir)
		return nil, err
	}

	info := &types.RunningProvider{
		ID:         id,
		LinkName:   linkName,
		Process:    cmd.Process.Pid,
		XKeyPublic: xkeyPublic,
		Health:     types.ProviderHealthHealthy,
		StartedAt:  time.Now(),
	}
	rp.info = info

	br.mu.Lock()
	br.running[id] = rp
	br.mu.Unlock()

	go br.watchExit(id, rp)
	br.startHealthMonitor(id, rp)

	return info, nil
}

// startHealthMonitor polls rp's health subject on br.healthConfig's
// interval, updating rp.info.Health after Retries consecutive
// failures or the first success following them, per spec.md §6.1's
// provider health subject.
func (br *Bridge) startHealthMonitor(id string, rp *runningProcess) {
	healthCtx, cancel := context.WithCancel(context.Background())
	rp.healthCancel = cancel

	subject := rpcPrefix(br.lattice, id, rp.linkName) + ".health"
	checker := health.NewBusChecker(br.b, subject, br.handshakeTimeout)
	status := health.NewStatus()

	go func() {
		ticker := time.NewTicker(br.healthConfig.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-healthCtx.Done():
				return
			case <-rp.done:
				return
			case <-ticker.C:
				result := checker.Check(healthCtx)
				status.Update(result, br.healthConfig)

				br.mu.Lock()
				if status.Healthy {
					rp.info.Health = types.ProviderHealthHealthy
				} else {
					rp.info.Health = types.ProviderHealthUnhealthy
				}
				br.mu.Unlock()
			}
		}
	}()
}

// awaitHandshake waits for the provider's provider_started event,
// reporting ProviderStartupFailed on timeout (spec.md §4.6).
func (br *Bridge) awaitHandshake(ctx context.Context, providerID string) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, br.handshakeTimeout)
	defer cancel()

	matched := make(chan struct{}, 1)
	sub, err := br.b.Subscribe(deadlineCtx, eventsSubject(br.lattice), func(m *bus.Msg) {
		var env eventEnvelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			return
		}
		if env.Type != "com.wasmcloud.lattice.provider_started" {
			return
		}
		var data providerStartedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		if data.ProviderID == providerID {
			select {
			case matched <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return errs.Wrap(errs.KindProviderStartup, "subscribe for handshake event", err)
	}
	defer sub.Unsubscribe()

	select {
	case <-matched:
		return nil
	case <-deadlineCtx.Done():
		return errs.New(errs.KindProviderStartup, "provider "+providerID+" did not complete handshake within deadline")
	}
}

func eventsSubject(lattice string) string {
	return "wasmbus.evt." + lattice
}

// watchExit marks the provider crashed if its process exits without a
// prior Stop call.
func (br *Bridge) watchExit(id string, rp *runningProcess) {
	rp.cmd.Wait()
	close(rp.done)
	if rp.healthCancel != nil {
		rp.healthCancel()
	}

	br.mu.Lock()
	defer br.mu.Unlock()
	if _, ok := br.running[id]; !ok {
		return
	}
	if rp.stopping {
		delete(br.running, id)
		return
	}
	rp.info.Health = types.ProviderHealthCrashed
	log.Logger.Warn().Str("provider_id", id).Msg("provider process exited without a stop request")
}

// LinkPut sends a link-put message to providerID and awaits its ack.
func (br *Bridge) LinkPut(ctx context.Context, providerID string, link *types.Link) error {
	br.mu.RLock()
	rp, ok := br.running[providerID]
	br.mu.RUnlock()
	if !ok {
		return errs.New(errs.KindNotFound, "provider "+providerID+" is not running")
	}

	payload, err := json.Marshal(link)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "marshal link", err)
	}

	subject := rpcPrefix(br.lattice, providerID, rp.linkName) + ".linkdefs.put"
	return br.requestAck(ctx, subject, payload)
}

// LinkDelete sends a link-delete message to providerID and awaits its ack.
func (br *Bridge) LinkDelete(ctx context.Context, providerID string, key types.LinkKey) error {
	br.mu.RLock()
	rp, ok := br.running[providerID]
	br.mu.RUnlock()
	if !ok {
		return errs.New(errs.KindNotFound, "provider "+providerID+" is not running")
	}

	payload, err := json.Marshal(key)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "marshal link key", err)
	}

	subject := rpcPrefix(br.lattice, providerID, rp.linkName) + ".linkdefs.del"
	return br.requestAck(ctx, subject, payload)
}

func (br *Bridge) requestAck(ctx context.Context, subject string, payload []byte) error {
	resp, err := br.b.Request(ctx, subject, payload, 5*time.Second)
	if err != nil {
		return err
	}
	var ack ackEnvelope
	if err := json.Unmarshal(resp, &ack); err != nil {
		return errs.Wrap(errs.KindDataCorruption, "decode provider ack", err)
	}
	if !ack.Accepted {
		return errs.New(errs.KindConflict, ack.Error)
	}
	return nil
}

// Stop notifies providerID to shut down, waits up to grace for the
// process to exit, force-kills it otherwise, and removes its
// temporary run directory.
func (br *Bridge) Stop(ctx context.Context, providerID string, grace time.Duration) error {
	br.mu.Lock()
	rp, ok := br.running[providerID]
	if ok {
		rp.stopping = true
	}
	br.mu.Unlock()
	if !ok {
		return errs.New(errs.KindNotFound, "provider "+providerID+" is not running")
	}

	subject := rpcPrefix(br.lattice, providerID, rp.linkName) + ".shutdown"
	if err := br.b.Publish(ctx, subject, nil); err != nil {
		log.Logger.Warn().Err(err).Str("provider_id", providerID).Msg("failed to publish shutdown notice, proceeding to kill")
	}

	select {
	case <-rp.done:
	case <-time.After(grace):
		rp.cmd.Process.Kill()
		<-rp.done
	}

	os.RemoveAll(rp.dir)

	br.mu.Lock()
	delete(br.running, providerID)
	br.mu.Unlock()

	return nil
}

// Get returns the bookkeeping for a running provider.
func (br *Bridge) Get(providerID string) (*types.RunningProvider, bool) {
	br.mu.RLock()
	defer br.mu.RUnlock()
	rp, ok := br.running[providerID]
	if !ok {
		return nil, false
	}
	return rp.info, true
}

// List returns every running provider's bookkeeping.
func (br *Bridge) List() []*types.RunningProvider {
	br.mu.RLock()
	defer br.mu.RUnlock()
	out := make([]*types.RunningProvider, 0, len(br.running))
	for _, rp := range br.running {
		out = append(out, rp.info)
	}
	return out
}
