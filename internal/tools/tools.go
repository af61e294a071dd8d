// Package tools exposes the memory system over the Model Context
// Protocol. Each tool decodes its arguments into a typed struct,
// validates it, calls the owning service, and renders either a JSON
// result or a structured error document.
package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"mnemo/internal/config"
	"mnemo/internal/curation"
	"mnemo/internal/embedding"
	"mnemo/internal/search"
	"mnemo/internal/types"
)

// Searcher is the slice of the search orchestrator the tools need.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
}

// Curator is the slice of the curation service the tools need.
type Curator interface {
	UpdateInsight(ctx context.Context, req curation.UpdateRequest) (*curation.Outcome, error)
	DeleteInsight(ctx context.Context, req curation.DeleteRequest) (*curation.Outcome, error)
	InsightHistory(ctx context.Context, insightID int64) ([]types.InsightRevision, error)
	ReviewProposal(ctx context.Context, req curation.ReviewRequest) (*types.Proposal, error)
	ListProposals(ctx context.Context, status types.ProposalStatus) ([]types.Proposal, error)
}

// Storage is the slice of the storage adapter the tools call directly:
// ingestion, feedback, working memory, session project, stats.
type Storage interface {
	Project() string
	SetProject(projectID string)
	GetProject(ctx context.Context, id string) (*types.Project, error)

	InsertInsight(ctx context.Context, in *types.Insight) (*types.Insight, error)
	InsertEpisode(ctx context.Context, ep *types.Episode) (*types.Episode, error)
	InsertRaw(ctx context.Context, r *types.RawEntry) (*types.RawEntry, error)
	AddNode(ctx context.Context, n *types.Node) (*types.Node, error)
	AddEdge(ctx context.Context, sourceName, targetName, relation, sector string, properties map[string]interface{}) (*types.Edge, error)
	AddFeedback(ctx context.Context, fb *types.Feedback) (*types.Feedback, error)

	PutWorking(ctx context.Context, slot, content string, capacity int) (*types.WorkingEntry, error)
	GetWorking(ctx context.Context, slot string) (*types.WorkingEntry, error)
	ListWorking(ctx context.Context) ([]types.WorkingEntry, error)

	Stats(ctx context.Context) (*types.Stats, error)
}

// Deps collects everything the tool surface needs.
type Deps struct {
	Store    Storage
	Search   Searcher
	Curation Curator
	Engine   embedding.Engine
	Config   *config.Config
	Logger   *zap.Logger
}

// NewServer builds the MCP server with every memory tool registered.
func NewServer(deps Deps) *server.MCPServer {
	srv := server.NewMCPServer(
		deps.Config.Name,
		deps.Config.Version,
		server.WithToolCapabilities(true),
		server.WithInstructions(serverInstructions),
	)
	registerTools(srv, deps)
	return srv
}

const serverInstructions = `mnemo is a project-scoped cognitive memory over Postgres. ` +
	`Call mem_set_project once per session, then use mem_search to recall, ` +
	`mem_store_insight / mem_store_episode to remember, mem_feedback to rate ` +
	`retrieved insights, and mem_update_insight / mem_delete_insight to curate. ` +
	`Destructive changes by the ethr actor become proposals that wait for ` +
	`mem_review_proposal.`

func registerTools(srv *server.MCPServer, deps Deps) {
	srv.AddTool(
		mcp.NewTool("mem_search",
			mcp.WithDescription("Hybrid search across insights, episodes, raw entries and the knowledge graph. Fuses vector and lexical rankings across query variants and re-scores by feedback."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithString("query", mcp.Required(),
				mcp.Description("Query text, natural language or keywords")),
			mcp.WithArray("variants",
				mcp.Description("Up to 3 additional phrasings of the query, fused by reciprocal rank")),
			mcp.WithNumber("top_k",
				mcp.Description("Max fused results (default 10)")),
			mcp.WithArray("tags",
				mcp.Description("Insights must carry at least one of these tags")),
			mcp.WithString("date_from",
				mcp.Description("Inclusive lower bound, RFC 3339 or YYYY-MM-DD")),
			mcp.WithString("date_to",
				mcp.Description("Inclusive upper bound, RFC 3339 or YYYY-MM-DD")),
			mcp.WithArray("source_types",
				mcp.Description("Subset of insight, episode, raw, graph; omit for all")),
			mcp.WithString("sector",
				mcp.Description("Restrict graph expansion to one memory sector")),
			mcp.WithNumber("graph_depth",
				mcp.Description("Graph neighbour walk depth, 1-3 (default 1)")),
		),
		handleSearch(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_store_insight",
			mcp.WithDescription("Store a curated insight. The content is embedded and becomes searchable immediately."),
			mcp.WithString("content", mcp.Required(),
				mcp.Description("The insight text")),
			mcp.WithArray("tags",
				mcp.Description("Tags for filtered retrieval")),
			mcp.WithArray("source_ids",
				mcp.Description("IDs of the episodes this insight was distilled from")),
			mcp.WithObject("metadata",
				mcp.Description("Arbitrary JSON metadata")),
			mcp.WithNumber("memory_strength",
				mcp.Description("Initial retrieval bias in [0,1] (default 0.5)")),
		),
		handleStoreInsight(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_store_episode",
			mcp.WithDescription("Store one turn of episodic memory."),
			mcp.WithString("content", mcp.Required(),
				mcp.Description("The dialogue turn or event text")),
			mcp.WithString("role",
				mcp.Description("Speaker role, e.g. user or assistant")),
			mcp.WithString("session_id",
				mcp.Description("Conversation/session identifier")),
			mcp.WithObject("metadata",
				mcp.Description("Arbitrary JSON metadata")),
		),
		handleStoreEpisode(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_store_raw",
			mcp.WithDescription("Store unprocessed input for later distillation. Raw entries are searchable with source_types=[\"raw\"]."),
			mcp.WithString("content", mcp.Required(),
				mcp.Description("The raw text")),
			mcp.WithString("source",
				mcp.Description("Origin label, e.g. clipboard, transcript")),
			mcp.WithObject("metadata",
				mcp.Description("Arbitrary JSON metadata")),
		),
		handleStoreRaw(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_add_node",
			mcp.WithDescription("Add or refresh a knowledge graph node. Upserts by name within the current project."),
			mcp.WithString("name", mcp.Required(),
				mcp.Description("Unique node name within the project")),
			mcp.WithString("node_type",
				mcp.Description("Node classification, e.g. person, concept, file")),
			mcp.WithString("sector",
				mcp.Description("Memory sector for sector-filtered expansion")),
			mcp.WithObject("properties",
				mcp.Description("Arbitrary JSON properties")),
		),
		handleAddNode(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_add_edge",
			mcp.WithDescription("Add a typed, directed edge between two named nodes of the current project."),
			mcp.WithString("source", mcp.Required(),
				mcp.Description("Source node name")),
			mcp.WithString("target", mcp.Required(),
				mcp.Description("Target node name")),
			mcp.WithString("relation", mcp.Required(),
				mcp.Description("Edge relation, e.g. depends_on, authored")),
			mcp.WithString("sector",
				mcp.Description("Memory sector for sector-filtered expansion")),
			mcp.WithObject("properties",
				mcp.Description("Arbitrary JSON properties")),
		),
		handleAddEdge(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_update_insight",
			mcp.WithDescription("Update an insight's content and/or memory strength. The I/O actor applies immediately; ethr records a pending proposal."),
			mcp.WithNumber("insight_id", mcp.Required(),
				mcp.Description("Insight to update")),
			mcp.WithString("content",
				mcp.Description("Replacement content (re-embedded)")),
			mcp.WithNumber("memory_strength",
				mcp.Description("New strength in [0,1]")),
			mcp.WithString("actor", mcp.Required(),
				mcp.Description("I/O or ethr")),
			mcp.WithString("reason", mcp.Required(),
				mcp.Description("Why the insight changes; recorded in the revision history")),
		),
		handleUpdateInsight(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_delete_insight",
			mcp.WithDescription("Soft-delete an insight, keeping its revision history. The I/O actor applies immediately; ethr records a pending proposal."),
			mcp.WithDestructiveHintAnnotation(true),
			mcp.WithNumber("insight_id", mcp.Required(),
				mcp.Description("Insight to delete")),
			mcp.WithString("actor", mcp.Required(),
				mcp.Description("I/O or ethr")),
			mcp.WithString("reason", mcp.Required(),
				mcp.Description("Why the insight is removed; recorded in the revision history")),
		),
		handleDeleteInsight(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_insight_history",
			mcp.WithDescription("Revision history of an insight, oldest first. Works for soft-deleted insights too."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithNumber("insight_id", mcp.Required(),
				mcp.Description("Insight to inspect")),
		),
		handleInsightHistory(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_feedback",
			mcp.WithDescription("Record feedback on a retrieved insight. helpful and not_relevant shift future rankings; not_now is recorded without effect."),
			mcp.WithNumber("insight_id", mcp.Required(),
				mcp.Description("Insight the feedback is about")),
			mcp.WithString("feedback_type", mcp.Required(),
				mcp.Description("helpful, not_relevant, or not_now")),
			mcp.WithString("context",
				mcp.Description("Optional note about the retrieval context")),
		),
		handleFeedback(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_review_proposal",
			mcp.WithDescription("Settle a pending curation proposal. Approval executes the deferred mutation exactly once; rejection leaves the target intact."),
			mcp.WithString("proposal_id", mcp.Required(),
				mcp.Description("UUID of the proposal")),
			mcp.WithString("decision", mcp.Required(),
				mcp.Description("approve or reject")),
			mcp.WithString("notes",
				mcp.Description("Reviewer notes, recorded with the decision")),
		),
		handleReviewProposal(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_list_proposals",
			mcp.WithDescription("List curation proposals by status (default pending)."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithString("status",
				mcp.Description("pending, approved, or rejected")),
		),
		handleListProposals(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_working_set",
			mcp.WithDescription("Put a value into a bounded working-memory slot. The least recently accessed slots are evicted past capacity."),
			mcp.WithString("slot", mcp.Required(),
				mcp.Description("Slot name, upserted per project")),
			mcp.WithString("content", mcp.Required(),
				mcp.Description("Slot content")),
		),
		handleWorkingSet(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_working_get",
			mcp.WithDescription("Read one working-memory slot, or list all slots when no name is given. Reading refreshes recency."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithString("slot",
				mcp.Description("Slot name; omit to list all")),
		),
		handleWorkingGet(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_stats",
			mcp.WithDescription("Counts of every memory class visible to the current session."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithIdempotentHintAnnotation(true),
		),
		handleStats(deps),
	)

	srv.AddTool(
		mcp.NewTool("mem_set_project",
			mcp.WithDescription("Bind this session to a project. All reads and writes are scoped to it until changed."),
			mcp.WithString("project_id", mcp.Required(),
				mcp.Description("Project to scope the session to; must exist")),
		),
		handleSetProject(deps),
	)
}
