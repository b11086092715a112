package store

import (
	"sync"

	"streamping/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps all state in process memory. It backs tests and runs
// without a database DSN; nothing survives a restart.
type InMemoryStore struct {
	mu          sync.Mutex
	subscribers map[string]map[string]models.Subscriber // subject -> guild -> record
	active      map[string]models.ActiveSubscription    // subject -> record
	lastStream  map[string]string                       // subject -> last relayed stream id
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		subscribers: make(map[string]map[string]models.Subscriber),
		active:      make(map[string]models.ActiveSubscription),
		lastStream:  make(map[string]string),
	}
}

func (s *InMemoryStore) GetSubscribersFor(subjectID string) ([]models.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var subs []models.Subscriber
	for _, sub := range s.subscribers[subjectID] {
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *InMemoryStore) ListSubscribersForGuild(guildID string) ([]models.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var subs []models.Subscriber
	for _, guilds := range s.subscribers {
		if sub, ok := guilds[guildID]; ok {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (s *InMemoryStore) ListSubjectsWithSubscribers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var subjects []string
	for subject, guilds := range s.subscribers {
		if len(guilds) > 0 {
			subjects = append(subjects, subject)
		}
	}
	return subjects, nil
}

func (s *InMemoryStore) AddSubscriber(sub models.Subscriber) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	guilds, ok := s.subscribers[sub.SubjectID]
	if !ok {
		guilds = make(map[string]models.Subscriber)
		s.subscribers[sub.SubjectID] = guilds
	}
	guilds[sub.GuildID] = sub
	return nil
}

func (s *InMemoryStore) RemoveSubscriber(subjectID, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if guilds, ok := s.subscribers[subjectID]; ok {
		delete(guilds, guildID)
		if len(guilds) == 0 {
			delete(s.subscribers, subjectID)
		}
	}
	return nil
}

func (s *InMemoryStore) GetActiveSubscription(subjectID string) (*models.ActiveSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.active[subjectID]; ok {
		return &sub, nil
	}
	return nil, nil
}

func (s *InMemoryStore) UpsertActiveSubscription(sub models.ActiveSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[sub.SubjectID] = sub
	return nil
}

func (s *InMemoryStore) UpdateSubscriptionStatus(subscriptionID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for subject, sub := range s.active {
		if sub.SubscriptionID == subscriptionID {
			sub.Status = status
			s.active[subject] = sub
		}
	}
	return nil
}

func (s *InMemoryStore) CompareAndSwapStream(subjectID, streamID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastStream[subjectID]; ok && last == streamID {
		return false, nil
	}
	s.lastStream[subjectID] = streamID
	return true, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
