package testutil

import (
	"github.com/hupe1980/classmesh/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder("t1").To("s1").Topic(core.TopicLecture).Text("fractions").Tick(3).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	id         string
	sender     string
	receiver   string
	topic      core.Topic
	content    string
	tick       int64
	visibility core.Visibility
}

// NewMessageBuilder creates a builder for a note from sender.
func NewMessageBuilder(sender string) *MessageBuilder {
	return &MessageBuilder{sender: sender, topic: core.TopicNote}
}

// ID overrides the generated message id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// To sets the receiver; leave it empty for a group broadcast (chainable).
func (b *MessageBuilder) To(id string) *MessageBuilder { b.receiver = id; return b }

// Topic sets the message topic (chainable).
func (b *MessageBuilder) Topic(t core.Topic) *MessageBuilder { b.topic = t; return b }

// Text sets the content (chainable).
func (b *MessageBuilder) Text(s string) *MessageBuilder { b.content = s; return b }

// Tick sets the tick (chainable).
func (b *MessageBuilder) Tick(t int64) *MessageBuilder { b.tick = t; return b }

// Visibility overrides the TRUE default (chainable).
func (b *MessageBuilder) Visibility(v core.Visibility) *MessageBuilder { b.visibility = v; return b }

// Build constructs the core.Message value.
func (b *MessageBuilder) Build() core.Message {
	msg := core.NewMessage(b.sender, b.receiver, b.topic, b.content, b.tick)
	if b.id != "" {
		msg.ID = b.id
	}
	if b.visibility != "" {
		msg.Visibility = b.visibility
	}
	return msg
}
