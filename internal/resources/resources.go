// Package resources implements MCP resource handlers for the engine state.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (kenning://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kenning/internal/engine"
)

// Resource URIs.
const (
	SessionURI   = "kenning://session/hot"
	MemoryURI    = "kenning://memory/cold"
	RulesURI     = "kenning://strategy/rules"
	KnowledgeURI = "kenning://knowledge/graph"
)

// Handler manages the engine resource endpoints.
type Handler struct {
	engine *engine.Engine
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

// SessionResource returns the MCP resource definition for the hot state.
func (h *Handler) SessionResource() mcp.Resource {
	return mcp.NewResource(
		SessionURI,
		"Working Session",
		mcp.WithResourceDescription("Active task, working memory, checklist, waiting list and quick refs"),
		mcp.WithMIMEType("application/yaml"),
	)
}

// HandleSession returns the hot state as YAML.
func (h *Handler) HandleSession(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return yamlResource(req.Params.URI, h.engine.State().Hot())
}

// MemoryResource returns the MCP resource definition for cold memory.
func (h *Handler) MemoryResource() mcp.Resource {
	return mcp.NewResource(
		MemoryURI,
		"Long-Term Memory",
		mcp.WithResourceDescription("Project understanding, key decisions, learned patterns and gotchas, blockers and session history"),
		mcp.WithMIMEType("application/yaml"),
	)
}

// HandleMemory returns cold memory as YAML.
func (h *Handler) HandleMemory(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return yamlResource(req.Params.URI, h.engine.State().Cold())
}

// RulesResource returns the MCP resource definition for the strategy rules.
func (h *Handler) RulesResource() mcp.Resource {
	return mcp.NewResource(
		RulesURI,
		"Strategy Rules",
		mcp.WithResourceDescription("Learned and manual strategy rules with confidence and evidence"),
		mcp.WithMIMEType("text/markdown"),
	)
}

// HandleRules returns the rules table.
func (h *Handler) HandleRules(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     h.engine.Strategy().RulesTable(),
		},
	}, nil
}

// KnowledgeResource returns the MCP resource definition for the graph export.
func (h *Handler) KnowledgeResource() mcp.Resource {
	return mcp.NewResource(
		KnowledgeURI,
		"Knowledge Graph",
		mcp.WithResourceDescription("Every knowledge node and the tag index, in the graph file format"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleKnowledge returns the knowledge graph as JSON.
func (h *Handler) HandleKnowledge(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(h.engine.Knowledge().Export(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling knowledge graph: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
