// Package manager implements the forward manager: the authoritative
// in-memory registry of forward definitions, owner of their lifecycles,
// persister of configuration, and handler of hot reloads.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"kubeportal/pkg/forward"
	"kubeportal/pkg/forwarder"
	"kubeportal/pkg/k8saccess"
	"kubeportal/pkg/logger"
)

// ErrNotRunning is returned by Stop when the named forward is not active.
var ErrNotRunning = errors.New("not running")

// ActiveStatus is a snapshot of one running forwarder's live counters.
type ActiveStatus struct {
	Name string
	forwarder.Stats
}

// Manager owns the name->definition map and the name->forwarder map.
// Definitions are mutated under a single coarse lock (operations are
// infrequent and correctness dominates throughput); forwarders live in a
// concurrent map so status reads (GetActive) never block behind a slow
// Start/Stop.
type Manager struct {
	mu          sync.Mutex
	definitions map[string]forward.Definition
	forwarders  sync.Map // name -> forwarder.Forwarder

	store       *store
	watcher     *configWatcher
	access      *k8saccess.Access
	gracePeriod time.Duration
	startedAt   time.Time
}

// New constructs a Manager. configFile is the path to the persisted
// forwards document; when watchConfigFile is true, external edits to that
// file trigger ReloadConfig automatically.
func New(
	configFile string,
	persistenceEnabled bool,
	watchConfigFile bool,
	gracePeriod time.Duration,
	access *k8saccess.Access,
) (*Manager, error) {
	m := &Manager{
		definitions: make(map[string]forward.Definition),
		store:       newStore(configFile, persistenceEnabled),
		access:      access,
		gracePeriod: gracePeriod,
		startedAt:   time.Now(),
	}

	if watchConfigFile {
		w, err := newConfigWatcher(configFile, m.handleConfigChanged)
		if err != nil {
			return nil, fmt.Errorf("starting config watcher: %w", err)
		}

		m.watcher = w
	}

	return m, nil
}

// Initialize loads the config file if present and attempts to start every
// definition with enabled=true. Per-forward start failures leave the
// definition present in the registry but marked disabled; they are not
// persisted back to disk at this stage, since Initialize runs before the
// daemon has accepted any client commands.
func (m *Manager) Initialize() error {
	definitions, err := m.store.Load()
	if err != nil {
		logger.Log(logger.LevelError, nil, err, "loading config, starting with empty registry")

		definitions = make(map[string]forward.Definition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.definitions = definitions

	for name, def := range m.definitions {
		if !def.Enabled {
			continue
		}

		if startErr := m.startLocked(&def); startErr != nil {
			logger.Log(logger.LevelWarn, map[string]string{"forward": name}, startErr, "starting forward during initialize")

			def.Enabled = false
		}

		m.definitions[name] = def
	}

	return nil
}

// GetAll returns a snapshot of every definition in the registry.
func (m *Manager) GetAll() []forward.Definition {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]forward.Definition, 0, len(m.definitions))
	for _, def := range m.definitions {
		out = append(out, def)
	}

	return out
}

// GetByName returns the named definition, or ErrNotFound.
func (m *Manager) GetByName(name string) (forward.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.definitions[name]
	if !ok {
		return forward.Definition{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return def, nil
}

// AddOrUpdate validates, stores, persists, and reconciles the running
// state for one definition. A restart is needed only if routing-relevant
// fields changed; enabled and group alone never force a restart of an
// already-running forwarder.
func (m *Manager) AddOrUpdate(def forward.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reconcileErr := m.upsertLocked(def)

	if err := m.persistLocked(); err != nil {
		return err
	}

	return reconcileErr
}

// Delete stops the forward if running, removes it, and persists.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.definitions[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	m.stopLocked(name)
	delete(m.definitions, name)

	return m.persistLocked()
}

// Start enables and starts a forward by name if it isn't already running.
func (m *Manager) Start(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.definitions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if _, running := m.forwarders.Load(name); running {
		return nil
	}

	def.Enabled = true
	m.definitions[name] = def

	if err := m.persistLocked(); err != nil {
		return err
	}

	if err := m.startLocked(&def); err != nil {
		if errors.Is(err, forwarder.ErrAddressInUse) {
			def.Enabled = false
			m.definitions[name] = def
			_ = m.persistLocked()
		}

		return err
	}

	m.definitions[name] = def

	return nil
}

// Stop stops a running forward by name and disables it.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.definitions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if _, running := m.forwarders.Load(name); !running {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	m.stopLocked(name)

	def.Enabled = false
	m.definitions[name] = def

	return m.persistLocked()
}

// EnableGroup enables and attempts to start every member of group.
// Per-member start failures are swallowed; the operation succeeds as long
// as the group has at least one member.
func (m *Manager) EnableGroup(group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.membersLocked(group)
	if len(members) == 0 {
		return fmt.Errorf("%w: group %s", ErrNotFound, group)
	}

	for _, name := range members {
		def := m.definitions[name]
		def.Enabled = true
		m.definitions[name] = def

		if _, running := m.forwarders.Load(name); running {
			continue
		}

		if err := m.startLocked(&def); err != nil {
			logger.Log(logger.LevelWarn, map[string]string{"forward": name}, err, "starting forward during EnableGroup")

			if errors.Is(err, forwarder.ErrAddressInUse) {
				def.Enabled = false
			}

			m.definitions[name] = def
		}
	}

	return m.persistLocked()
}

// DisableGroup stops every running member of group and disables all members.
func (m *Manager) DisableGroup(group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.membersLocked(group)
	if len(members) == 0 {
		return fmt.Errorf("%w: group %s", ErrNotFound, group)
	}

	for _, name := range members {
		m.stopLocked(name)

		def := m.definitions[name]
		def.Enabled = false
		m.definitions[name] = def
	}

	return m.persistLocked()
}

// DeleteGroup deletes every member of group (each as Delete would),
// returning the count deleted.
func (m *Manager) DeleteGroup(group string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.membersLocked(group)

	for _, name := range members {
		m.stopLocked(name)
		delete(m.definitions, name)
	}

	if err := m.persistLocked(); err != nil {
		return 0, err
	}

	return len(members), nil
}

// ApplyConfig merges a config document into the registry: each entry is
// upserted (optionally forced into targetGroup); when removeMissing is
// true, definitions within the target scope absent from data are deleted.
// Malformed entries are logged and skipped rather than aborting the batch.
func (m *Manager) ApplyConfig(data []byte, targetGroup string, removeMissing bool) (added, updated, removed int, err error) {
	// Entries are decoded one by one so a single malformed entry (unknown
	// type, bad field) is logged and skipped instead of aborting the batch.
	var doc struct {
		Forwards map[string]json.RawMessage `json:"forwards"`
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: parsing applied config: %v", ErrConfigIO, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(doc.Forwards))

	for key, raw := range doc.Forwards {
		var def forward.Definition

		if derr := json.Unmarshal(raw, &def); derr != nil {
			logger.Log(logger.LevelWarn, map[string]string{"forward": key}, derr, "skipping malformed entry in ApplyConfig")
			continue
		}

		def.Name = key
		if targetGroup != "" {
			def.Group = targetGroup
		}

		if verr := def.Validate(); verr != nil {
			logger.Log(logger.LevelWarn, map[string]string{"forward": key}, verr, "skipping malformed entry in ApplyConfig")
			continue
		}

		seen[key] = true

		_, existed := m.definitions[key]
		if reconcileErr := m.upsertLocked(def); reconcileErr != nil {
			logger.Log(logger.LevelWarn, map[string]string{"forward": key}, reconcileErr, "reconciling forward in ApplyConfig")
		}

		if existed {
			updated++
		} else {
			added++
		}
	}

	if removeMissing {
		for name, existing := range m.definitions {
			if targetGroup != "" && existing.Group != targetGroup {
				continue
			}

			if seen[name] {
				continue
			}

			m.stopLocked(name)
			delete(m.definitions, name)

			removed++
		}
	}

	if err := m.persistLocked(); err != nil {
		return added, updated, removed, err
	}

	return added, updated, removed, nil
}

// ExportConfig serializes the current registry, filtered by includeDisabled
// and groupFilter, in the same JSON shape used for persistence.
func (m *Manager) ExportConfig(includeDisabled bool, groupFilter string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := configDocument{Forwards: make(map[string]forward.Definition)}

	for name, def := range m.definitions {
		if !includeDisabled && !def.Enabled {
			continue
		}

		if groupFilter != "" && def.Group != groupFilter {
			continue
		}

		doc.Forwards[name] = def
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling exported config: %v", ErrConfigIO, err)
	}

	return data, nil
}

// ReloadConfig stops every forwarder, reloads definitions from disk, and
// starts those enabled -- the config-file-watcher path and the
// ReloadConfig RPC both funnel through this.
func (m *Manager) ReloadConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopAllLocked()

	definitions, err := m.store.Load()
	if err != nil {
		logger.Log(logger.LevelError, nil, err, "reloading config, starting with empty registry")

		definitions = make(map[string]forward.Definition)
	}

	m.definitions = definitions

	for name, def := range m.definitions {
		if !def.Enabled {
			continue
		}

		if startErr := m.startLocked(&def); startErr != nil {
			logger.Log(logger.LevelWarn, map[string]string{"forward": name}, startErr, "starting forward during reload")

			def.Enabled = false
		}

		m.definitions[name] = def
	}

	return nil
}

// StopAll stops every active forwarder, e.g. during daemon shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopAllLocked()
}

// Shutdown stops every forwarder and the config watcher, if any.
func (m *Manager) Shutdown() {
	m.StopAll()

	if m.watcher != nil {
		m.watcher.Stop()
	}

	if m.access != nil {
		m.access.Stop()
	}
}

// GetActive returns a live snapshot of every running forwarder's counters.
// It reads the concurrent forwarders map directly, so it never blocks
// behind a slow Start or Stop holding the registry lock.
func (m *Manager) GetActive() []ActiveStatus {
	var out []ActiveStatus

	m.forwarders.Range(func(key, value any) bool {
		out = append(out, ActiveStatus{Name: key.(string), Stats: value.(forwarder.Forwarder).Stats()})
		return true
	})

	return out
}

// GetGroupStatuses returns, for every group, whether any member is enabled.
func (m *Manager) GetGroupStatuses() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make(map[string]bool)

	for _, def := range m.definitions {
		if def.Enabled {
			statuses[def.Group] = true
			continue
		}

		if _, ok := statuses[def.Group]; !ok {
			statuses[def.Group] = false
		}
	}

	return statuses
}

// StartedAt returns when this Manager was constructed, for uptime reporting.
func (m *Manager) StartedAt() time.Time {
	return m.startedAt
}

// TotalForwardCount returns the number of definitions in the registry.
func (m *Manager) TotalForwardCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.definitions)
}

// ActiveForwardCount returns the number of currently running forwarders.
func (m *Manager) ActiveForwardCount() int {
	count := 0

	m.forwarders.Range(func(_, _ any) bool {
		count++
		return true
	})

	return count
}

// upsertLocked stores def and reconciles the running forwarder. Callers
// must hold mu. On AddressInUse it flips def.Enabled to false in the
// stored copy before returning the error, so persistLocked captures the
// corrected state.
func (m *Manager) upsertLocked(def forward.Definition) error {
	prev, existed := m.definitions[def.Name]

	m.definitions[def.Name] = def

	_, running := m.forwarders.Load(def.Name)

	needsRestart := existed && prev.RoutingKey() != def.RoutingKey()
	if needsRestart && running {
		m.stopLocked(def.Name)
		running = false
	}

	if !def.Enabled || (!needsRestart && running) {
		return nil
	}

	if err := m.startLocked(&def); err != nil {
		if errors.Is(err, forwarder.ErrAddressInUse) {
			def.Enabled = false
			m.definitions[def.Name] = def
		}

		return err
	}

	m.definitions[def.Name] = def

	return nil
}

// startLocked constructs and starts a forwarder for def, registering it in
// the concurrent forwarders map on success. Callers must hold mu.
func (m *Manager) startLocked(def *forward.Definition) error {
	f, err := def.CreateForwarder(forward.ForwarderDeps{
		GracePeriod: m.gracePeriod,
		ClientCache: m.access,
		PodLister:   m.access,
	})
	if err != nil {
		return err
	}

	if err := f.Start(context.Background()); err != nil {
		return err
	}

	m.forwarders.Store(def.Name, f)

	return nil
}

// stopLocked stops and unregisters the named forwarder, if running.
// Callers must hold mu.
func (m *Manager) stopLocked(name string) {
	v, ok := m.forwarders.LoadAndDelete(name)
	if !ok {
		return
	}

	f, _ := v.(forwarder.Forwarder)

	ctx, cancel := context.WithTimeout(context.Background(), m.gracePeriod+time.Second)
	defer cancel()

	if err := f.Stop(ctx); err != nil {
		logger.Log(logger.LevelWarn, map[string]string{"forward": name}, err, "stopping forwarder")
	}
}

// stopAllLocked stops every registered forwarder. Callers must hold mu.
func (m *Manager) stopAllLocked() {
	var names []string

	m.forwarders.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})

	for _, name := range names {
		m.stopLocked(name)
	}
}

// membersLocked returns the names of every definition in group. Callers
// must hold mu.
func (m *Manager) membersLocked(group string) []string {
	var names []string

	for name, def := range m.definitions {
		if def.Group == group {
			names = append(names, name)
		}
	}

	return names
}

// persistLocked writes the registry to disk and tells the config watcher
// to ignore the resulting filesystem event. Callers must hold mu.
func (m *Manager) persistLocked() error {
	data, err := m.store.Save(m.definitions)
	if err != nil {
		return err
	}

	if m.watcher != nil {
		m.watcher.markWritten(data)
	}

	return nil
}

// handleConfigChanged is the config watcher's onChange callback.
func (m *Manager) handleConfigChanged() {
	if err := m.ReloadConfig(); err != nil {
		logger.Log(logger.LevelError, nil, err, "reloading config after external change")
	}
}
