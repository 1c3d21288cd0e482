package service

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/buildnet/build-scheduler/internal/core/domain"
	"github.com/buildnet/build-scheduler/internal/core/port"
)

// memState is an in-memory StateManager standing in for Redis.
type memState struct {
	mu        sync.Mutex
	data      map[string]string
	ttls      map[string]time.Duration
	published []pubMessage

	failSet bool // when true, Set returns an error
}

type pubMessage struct {
	channel string
	message string
}

func newMemState() *memState {
	return &memState{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (m *memState) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	if !ok {
		return "", port.ErrKeyNotFound
	}
	return val, nil
}

func (m *memState) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return context.DeadlineExceeded
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memState) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	delete(m.data, key)
	delete(m.ttls, key)
	return ok, nil
}

func (m *memState) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.data {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memState) Publish(_ context.Context, channel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, pubMessage{channel: channel, message: message})
	return nil
}

func (m *memState) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *memState) ttl(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}

func (m *memState) publishedOn(channel string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var messages []string
	for _, p := range m.published {
		if p.channel == channel {
			messages = append(messages, p.message)
		}
	}
	return messages
}

// memArchive records outcomes in memory.
type memArchive struct {
	mu       sync.Mutex
	outcomes []*domain.TaskOutcome
}

func (a *memArchive) RecordOutcome(_ context.Context, outcome *domain.TaskOutcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, outcome)
	return nil
}

func (a *memArchive) byStatus(status domain.OutcomeStatus) []*domain.TaskOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	var matched []*domain.TaskOutcome
	for _, o := range a.outcomes {
		if o.Status == status {
			matched = append(matched, o)
		}
	}
	return matched
}
