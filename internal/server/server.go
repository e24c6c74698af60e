// Package server wires the MCP components and creates the server instance.
//
// This is the composition root: tools, prompts and resources receive the
// engine they depend on here. No business logic lives here, only wiring.
package server

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/enginetools"
	"github.com/HendryAvila/kenning/internal/prompts"
	"github.com/HendryAvila/kenning/internal/resources"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with every tool, prompt and resource
// registered against e. The caller owns e and closes it on shutdown.
func New(e *engine.Engine) *server.MCPServer {
	s := server.NewMCPServer(
		"kenning",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registerTools(s, e)

	// --- Register prompts ---

	taskPrompt := prompts.NewTaskPrompt()
	s.AddPrompt(taskPrompt.Definition(), taskPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	h := resources.NewHandler(e)
	s.AddResource(h.SessionResource(), h.HandleSession)
	s.AddResource(h.MemoryResource(), h.HandleMemory)
	s.AddResource(h.RulesResource(), h.HandleRules)
	s.AddResource(h.KnowledgeResource(), h.HandleKnowledge)

	return s
}

// registerTools registers the engine MCP tools with the server.
func registerTools(s *server.MCPServer, e *engine.Engine) {
	// --- Context & prompt ---
	compute := enginetools.NewComputeTool(e)
	s.AddTool(compute.Definition(), compute.Handle)

	assemble := enginetools.NewAssemblePromptTool(e)
	s.AddTool(assemble.Definition(), assemble.Handle)

	// --- Handoffs & feedback ---
	ingest := enginetools.NewIngestHandoffTool(e)
	s.AddTool(ingest.Definition(), ingest.Handle)

	feedback := enginetools.NewRecordFeedbackTool(e)
	s.AddTool(feedback.Definition(), feedback.Handle)

	rules := enginetools.NewRulesTool(e)
	s.AddTool(rules.Definition(), rules.Handle)

	// --- Knowledge graph ---
	query := enginetools.NewQueryKnowledgeTool(e)
	s.AddTool(query.Definition(), query.Handle)

	connected := enginetools.NewConnectedTool(e)
	s.AddTool(connected.Definition(), connected.Handle)

	// --- Working session ---
	sessionStart := enginetools.NewSessionStartTool(e)
	s.AddTool(sessionStart.Definition(), sessionStart.Handle)

	sessionNote := enginetools.NewSessionNoteTool(e)
	s.AddTool(sessionNote.Definition(), sessionNote.Handle)

	sessionTrack := enginetools.NewSessionTrackTool(e)
	s.AddTool(sessionTrack.Definition(), sessionTrack.Handle)

	sessionComplete := enginetools.NewSessionCompleteTool(e)
	s.AddTool(sessionComplete.Definition(), sessionComplete.Handle)

	sessionShow := enginetools.NewSessionShowTool(e)
	s.AddTool(sessionShow.Definition(), sessionShow.Handle)

	// --- Long-term memory ---
	remember := enginetools.NewRememberTool(e)
	s.AddTool(remember.Definition(), remember.Handle)

	blocker := enginetools.NewBlockerTool(e)
	s.AddTool(blocker.Definition(), blocker.Handle)

	consolidate := enginetools.NewConsolidateTool(e)
	s.AddTool(consolidate.Definition(), consolidate.Handle)
}

// serverInstructions returns the system instructions that tell the AI
// how to use the engine.
func serverInstructions() string {
	return `You have access to Kenning, a context and knowledge engine for multi-agent work.

## WHAT IT DOES

Kenning remembers what earlier tasks learned and hands each new task only the
slice of that knowledge it needs. It does not run agents or write code.

## THE TASK LOOP

1. ctx_session_start: make the task active
2. ctx_compute: get patterns to follow, warnings, decisions, prior work,
   code references and blocking questions for the task. Respect the warnings.
3. Work. Record approaches with ctx_session_note; flag reusable patterns,
   gotchas and decisions with discovery_kind.
4. ctx_ingest_handoff: submit the handoff YAML block. Rejected handoffs name
   the offending field; nothing is stored until the handoff is valid.
5. ctx_record_feedback: report the outcome and signals
   (context_insufficient, model_inadequate, beneficial_pairing, ...).
6. ctx_session_complete, then ctx_consolidate.

## HANDOFF FORMAT

outcome: completed | partial | failed | blocked
summary: one line
files_created / files_modified: [{path, purpose, change_type, lines}]
patterns_discovered: [{pattern, location, applies_to}]
gotchas: [{issue, mitigation, severity: high|medium|low, applies_to}]
dependencies_for_next: [{file, reason}]
open_questions: [{question, recommendation, blocking}]
suggested_next_steps: [...]
blockers: [{description, resolution, affected_tasks}]   # required unless completed

## OTHER TOOLS

- ctx_query_knowledge / ctx_connected: browse the knowledge graph
- ctx_remember: decisions, project understanding, preferences
- ctx_blocker: report or resolve blockers shared across tasks
- ctx_rules: learned strategy rules; mark a rule applied with 'apply'
- ctx_assemble_prompt: build a cache-friendly prompt for a sub-agent`
}
