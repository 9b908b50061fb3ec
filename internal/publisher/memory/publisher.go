// Package memory records scan payload publications in memory.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
)

// Publisher keeps every published payload for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

var _ scan.Publisher = (*Publisher)(nil)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// Payloads returns the scan payloads published so far.
func (p *Publisher) Payloads() []scan.Payload {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []scan.Payload
	for _, m := range p.messages {
		if payload, ok := m.Payload.(scan.Payload); ok {
			out = append(out, payload)
		}
	}
	return out
}
