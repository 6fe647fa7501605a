package core

import (
	"context"
	"fmt"
	"sync"
)

// Transport is the chat gateway the engine talks to.
type Transport interface {
	Subscribe(ctx context.Context, events chan<- Event) (Subscription, error)

	Send(ctx context.Context, chatID, text string) error

	// GroupSize returns the current member count of a group.
	GroupSize(ctx context.Context, scopeID string) (int, error)

	DisplayName(ctx context.Context, userID string) (string, error)
}

type Subscription interface {
	Unsubscribe() error
}

var _ Transport = (*MockTransport)(nil)

// Reply is a message captured by MockTransport.
type Reply struct {
	ChatID string
	Text   string
}

type MockTransport struct {
	mu sync.Mutex

	Sizes   map[string]int
	Names   map[string]string
	SizeErr error
	SendErr error

	replies []Reply
	events  chan<- Event
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		Sizes: make(map[string]int),
		Names: make(map[string]string),
	}
}

func (mt *MockTransport) Subscribe(ctx context.Context, events chan<- Event) (Subscription, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.events = events
	return &MockSubscription{mt: mt}, nil
}

// Push delivers an event as if it came from the gateway.
func (mt *MockTransport) Push(ev Event) {
	mt.mu.Lock()
	ch := mt.events
	mt.mu.Unlock()
	if ch != nil {
		ch <- ev
	}
}

func (mt *MockTransport) Send(ctx context.Context, chatID, text string) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.SendErr != nil {
		return mt.SendErr
	}
	mt.replies = append(mt.replies, Reply{ChatID: chatID, Text: text})
	return nil
}

func (mt *MockTransport) GroupSize(ctx context.Context, scopeID string) (int, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.SizeErr != nil {
		return 0, mt.SizeErr
	}
	size, ok := mt.Sizes[scopeID]
	if !ok {
		return 0, fmt.Errorf("unknown group %s", scopeID)
	}
	return size, nil
}

func (mt *MockTransport) DisplayName(ctx context.Context, userID string) (string, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.Names[userID], nil
}

// Replies returns and clears the captured messages.
func (mt *MockTransport) Replies() []Reply {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	out := mt.replies
	mt.replies = nil
	return out
}

type MockSubscription struct {
	mt *MockTransport
}

func (ms *MockSubscription) Unsubscribe() error {
	ms.mt.mu.Lock()
	defer ms.mt.mu.Unlock()
	ms.mt.events = nil
	return nil
}
