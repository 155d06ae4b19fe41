package platform

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"enginehost/internal/grant"
)

// NotificationManager is the host's channel table and posted notifications.
// Channels outlive worker incarnations.
type NotificationManager struct {
	mu        sync.Mutex
	channels  map[string]grant.Channel
	posted    map[int]grant.Descriptor
	creations int
}

// NewNotificationManager returns an empty manager.
func NewNotificationManager() *NotificationManager {
	return &NotificationManager{
		channels: make(map[string]grant.Channel),
		posted:   make(map[int]grant.Descriptor),
	}
}

func (m *NotificationManager) NotificationChannel(id string) (grant.Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	return ch, ok
}

func (m *NotificationManager) CreateNotificationChannel(ch grant.Channel) error {
	if strings.TrimSpace(ch.ID) == "" {
		return errors.New("notification channel id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch
	m.creations++
	return nil
}

// Channels lists registered channels sorted by id.
func (m *NotificationManager) Channels() []grant.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]grant.Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Creations counts CreateNotificationChannel calls.
func (m *NotificationManager) Creations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creations
}

func (m *NotificationManager) post(d grant.Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[d.ChannelID]; !ok {
		return fmt.Errorf("notification channel %q not registered", d.ChannelID)
	}
	m.posted[d.ID] = d
	return nil
}

func (m *NotificationManager) cancel(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posted, id)
}

// Posted returns the notification currently posted under id.
func (m *NotificationManager) Posted(id int) (grant.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.posted[id]
	return d, ok
}
