// Package registry tracks the live device channels of every connected user.
//
// Users are spread over a fixed set of shards, each guarded by its own
// RWMutex, so traffic for unrelated users never contends on one lock.
// Pushes are delivered after the shard lock is released.
package registry

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/server/metrics"
)

const shardCount = 64

// Channel is one live device connection. Send must not block: a slow or closed
// channel returns an error and the push is dropped for that device only.
type Channel interface {
	Send(event string, data json.RawMessage) error
}

type shard struct {
	mu    sync.RWMutex
	users map[string]map[string]Channel
}

type Registry struct {
	shards  [shardCount]*shard
	metrics *metrics.Metrics
	log     logging.Logger
}

func New(m *metrics.Metrics, log logging.Logger) *Registry {
	r := &Registry{metrics: m, log: log.With("module", "registry")}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string]map[string]Channel)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Register stores ch for (userID, deviceID) and returns the channel it
// replaced, if any. The registry never closes the replaced channel.
func (r *Registry) Register(userID, deviceID string, ch Channel) Channel {
	s := r.shardFor(userID)

	s.mu.Lock()
	devices, ok := s.users[userID]
	if !ok {
		devices = make(map[string]Channel)
		s.users[userID] = devices
	}
	prev := devices[deviceID]
	devices[deviceID] = ch
	s.mu.Unlock()

	if prev == nil {
		r.metrics.DeviceOnline()
	}
	return prev
}

// Unregister removes (userID, deviceID) only while it still maps to ch, so a
// superseded connection tearing down cannot remove its successor.
func (r *Registry) Unregister(userID, deviceID string, ch Channel) bool {
	s := r.shardFor(userID)

	s.mu.Lock()
	devices := s.users[userID]
	cur, ok := devices[deviceID]
	if !ok || cur != ch {
		s.mu.Unlock()
		return false
	}
	r.deleteLocked(s, userID, deviceID)
	s.mu.Unlock()

	r.metrics.DeviceOffline()
	return true
}

// Remove deletes (userID, deviceID) unconditionally and returns the removed
// channel. Absent entries are a no-op.
func (r *Registry) Remove(userID, deviceID string) Channel {
	s := r.shardFor(userID)

	s.mu.Lock()
	cur, ok := s.users[userID][deviceID]
	if ok {
		r.deleteLocked(s, userID, deviceID)
	}
	s.mu.Unlock()

	if ok {
		r.metrics.DeviceOffline()
	}
	return cur
}

func (r *Registry) deleteLocked(s *shard, userID, deviceID string) {
	devices := s.users[userID]
	delete(devices, deviceID)
	if len(devices) == 0 {
		delete(s.users, userID)
	}
}

// Broadcast pushes payload to every live device of userID. It reports whether
// at least one channel accepted the push.
func (r *Registry) Broadcast(ctx context.Context, userID, event string, payload any) bool {
	targets := r.snapshot(userID)
	if len(targets) == 0 {
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error(ctx, "push encode failed", "event", event, "user_id", userID, "error", err)
		return false
	}

	accepted := false
	for deviceID, ch := range targets {
		if err := ch.Send(event, data); err != nil {
			r.metrics.Push(event, false)
			r.log.Debug(ctx, "push dropped", "event", event, "user_id", userID, "device_id", deviceID, "error", err)
			continue
		}
		r.metrics.Push(event, true)
		accepted = true
	}
	return accepted
}

func (r *Registry) snapshot(userID string) map[string]Channel {
	s := r.shardFor(userID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := s.users[userID]
	if len(devices) == 0 {
		return nil
	}
	out := make(map[string]Channel, len(devices))
	for id, ch := range devices {
		out[id] = ch
	}
	return out
}

// ListDevices returns the sorted ids of userID's live devices.
func (r *Registry) ListDevices(userID string) []string {
	s := r.shardFor(userID)

	s.mu.RLock()
	ids := make([]string, 0, len(s.users[userID]))
	for id := range s.users[userID] {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
