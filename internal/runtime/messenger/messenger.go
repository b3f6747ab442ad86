// Package messenger routes message events to named resolvers. Messages are
// JSON objects; one field names the resolver and the rest is its input.
package messenger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/l0p7/swkit/internal/runtime/pipeline"
)

// DefaultIDKey is the message field naming the resolver.
const DefaultIDKey = "id"

// Transform reshapes the message data before it is stored in the context.
type Transform func(data map[string]any, e *pipeline.Event, c *pipeline.Context) any

// ContextOptions configure MessageContext.
type ContextOptions struct {
	IDKey     string
	Transform Transform
}

type messageContext struct {
	idKey     string
	transform Transform
}

// MessageContext decodes the message and, when it carries an id, stores the
// id and the remaining fields under the id and data context keys.
func MessageContext(opts ContextOptions) pipeline.Handler {
	idKey := opts.IDKey
	if idKey == "" {
		idKey = DefaultIDKey
	}
	return &messageContext{idKey: idKey, transform: opts.Transform}
}

func (m *messageContext) Name() string { return "message-context" }

func (m *messageContext) Handle(e *pipeline.Event, c *pipeline.Context) pipeline.Outcome {
	if len(e.Data) == 0 {
		return pipeline.Continue
	}
	data := map[string]any{}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return pipeline.Continue
	}
	id, ok := data[m.idKey]
	delete(data, m.idKey)
	if !ok || id == nil || id == "" {
		return pipeline.Continue
	}
	c.Set(pipeline.KeyID, fmt.Sprint(id))
	if m.transform != nil {
		c.Set(pipeline.KeyData, m.transform(data, e, c))
	} else {
		c.Set(pipeline.KeyData, data)
	}
	return pipeline.Continue
}

// Resolver handles one kind of message in the background.
type Resolver func(ctx context.Context, data any, e *pipeline.Event, c *pipeline.Context) error

type messenger struct {
	resolvers map[string]Resolver
}

// Messenger runs the resolver registered for the context id, if any.
func Messenger(resolvers map[string]Resolver) pipeline.Handler {
	copied := make(map[string]Resolver, len(resolvers))
	for id, r := range resolvers {
		if r != nil {
			copied[id] = r
		}
	}
	return &messenger{resolvers: copied}
}

func (m *messenger) Name() string { return "messenger" }

func (m *messenger) Handle(e *pipeline.Event, c *pipeline.Context) pipeline.Outcome {
	id, _ := c.Get(pipeline.KeyID).(string)
	resolver, ok := m.resolvers[id]
	if !ok {
		return pipeline.Continue
	}
	data := c.Get(pipeline.KeyData)
	e.WaitUntil(func(ctx context.Context) error {
		return resolver(ctx, data, e, c)
	})
	return pipeline.Continue
}
