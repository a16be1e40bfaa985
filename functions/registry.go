// Package functions declares the tools the Live voice model may call and
// dispatches its calls to Go handlers.
package functions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/genai"
)

// Handler runs one tool call. The returned map becomes the function
// response seen by the model.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry holds tool declarations and their handlers.
type Registry struct {
	mu       sync.RWMutex
	decls    []*genai.FunctionDeclaration
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a tool. Registering a name twice replaces the handler and
// declaration.
func (r *Registry) Register(decl *genai.FunctionDeclaration, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[decl.Name]; ok {
		for i, d := range r.decls {
			if d.Name == decl.Name {
				r.decls[i] = decl
			}
		}
	} else {
		r.decls = append(r.decls, decl)
	}
	r.handlers[decl.Name] = h
}

// Tools returns the declarations as a Live tool list, or nil when empty.
func (r *Registry) Tools() []*genai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.decls) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(r.decls))
	copy(decls, r.decls)
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Call runs every call and returns one response per call, in order. Unknown
// tools and handler failures are reported to the model as an "error" field.
func (r *Registry) Call(ctx context.Context, calls []*genai.FunctionCall) []*genai.FunctionResponse {
	responses := make([]*genai.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		if call == nil {
			continue
		}
		r.mu.RLock()
		h, ok := r.handlers[call.Name]
		r.mu.RUnlock()

		var out map[string]any
		if !ok {
			out = map[string]any{"error": fmt.Sprintf("unknown function %q", call.Name)}
			slog.Warn("⚠️ unknown function call", "name", call.Name)
		} else if res, err := h(ctx, call.Args); err != nil {
			out = map[string]any{"error": err.Error()}
			slog.Warn("⚠️ function call failed", "name", call.Name, "err", err)
		} else {
			out = res
		}

		responses = append(responses, &genai.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: out,
		})
	}
	return responses
}
