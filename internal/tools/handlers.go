package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"mnemo/internal/access"
	"mnemo/internal/curation"
	"mnemo/internal/search"
	"mnemo/internal/types"
)

const defaultMemoryStrength = 0.5

func handleSearch(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args searchArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}

		res, err := deps.Search.Search(ctx, search.Request{
			Query:    args.Query,
			Variants: args.Variants,
			TopK:     args.TopK,
			Filters: search.FilterOptions{
				Tags:        args.Tags,
				DateFrom:    args.DateFrom,
				DateTo:      args.DateTo,
				SourceTypes: args.SourceTypes,
				Sector:      args.Sector,
				GraphDepth:  args.GraphDepth,
			},
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(res), nil
	}
}

func handleStoreInsight(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args storeInsightArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}
		if err := access.RequireProject(deps.Store.Project()); err != nil {
			return errorResult(err), nil
		}

		vec, err := deps.Engine.Embed(ctx, args.Content)
		if err != nil {
			return errorResult(err), nil
		}

		strength := defaultMemoryStrength
		if args.MemoryStrength != nil {
			strength = *args.MemoryStrength
		}

		stored, err := deps.Store.InsertInsight(ctx, &types.Insight{
			Content:        args.Content,
			Embedding:      vec,
			Tags:           args.Tags,
			SourceIDs:      args.SourceIDs,
			Metadata:       args.Metadata,
			MemoryStrength: strength,
		})
		if err != nil {
			return errorResult(err), nil
		}
		deps.Logger.Info("insight stored", zap.Int64("insight_id", stored.ID))
		return jsonResult(stored), nil
	}
}

func handleStoreEpisode(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args storeEpisodeArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}
		if err := access.RequireProject(deps.Store.Project()); err != nil {
			return errorResult(err), nil
		}

		vec, err := deps.Engine.Embed(ctx, args.Content)
		if err != nil {
			return errorResult(err), nil
		}

		stored, err := deps.Store.InsertEpisode(ctx, &types.Episode{
			Content:   args.Content,
			Embedding: vec,
			Role:      args.Role,
			SessionID: args.SessionID,
			Metadata:  args.Metadata,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(stored), nil
	}
}

func handleStoreRaw(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args storeRawArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}
		if err := access.RequireProject(deps.Store.Project()); err != nil {
			return errorResult(err), nil
		}

		vec, err := deps.Engine.Embed(ctx, args.Content)
		if err != nil {
			return errorResult(err), nil
		}

		stored, err := deps.Store.InsertRaw(ctx, &types.RawEntry{
			Content:   args.Content,
			Embedding: vec,
			Source:    args.Source,
			Metadata:  args.Metadata,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(stored), nil
	}
}

func handleAddNode(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args addNodeArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}
		if err := access.RequireProject(deps.Store.Project()); err != nil {
			return errorResult(err), nil
		}

		// Node matching for graph seeding works on the name's embedding.
		vec, err := deps.Engine.Embed(ctx, args.Name)
		if err != nil {
			return errorResult(err), nil
		}

		stored, err := deps.Store.AddNode(ctx, &types.Node{
			Name:         args.Name,
			NodeType:     args.NodeType,
			MemorySector: args.Sector,
			Properties:   args.Properties,
			Embedding:    vec,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(stored), nil
	}
}

func handleAddEdge(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args addEdgeArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}
		if err := access.RequireProject(deps.Store.Project()); err != nil {
			return errorResult(err), nil
		}

		stored, err := deps.Store.AddEdge(ctx,
			args.Source, args.Target, args.Relation, args.Sector, args.Properties)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(stored), nil
	}
}

func handleUpdateInsight(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args updateInsightArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}

		out, err := deps.Curation.UpdateInsight(ctx, curation.UpdateRequest{
			InsightID:   args.InsightID,
			NewContent:  args.Content,
			NewStrength: args.MemoryStrength,
			Actor:       types.Actor(args.Actor),
			Reason:      args.Reason,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(out), nil
	}
}

func handleDeleteInsight(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args deleteInsightArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}

		out, err := deps.Curation.DeleteInsight(ctx, curation.DeleteRequest{
			InsightID: args.InsightID,
			Actor:     types.Actor(args.Actor),
			Reason:    args.Reason,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(out), nil
	}
}

func handleInsightHistory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args insightHistoryArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}

		revisions, err := deps.Curation.InsightHistory(ctx, args.InsightID)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{
			"insight_id": args.InsightID,
			"revisions":  revisions,
		}), nil
	}
}

func handleFeedback(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args feedbackArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}
		if err := access.RequireProject(deps.Store.Project()); err != nil {
			return errorResult(err), nil
		}

		stored, err := deps.Store.AddFeedback(ctx, &types.Feedback{
			InsightID: args.InsightID,
			Type:      types.FeedbackType(args.FeedbackType),
			Context:   args.Context,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(stored), nil
	}
}

func handleReviewProposal(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args reviewProposalArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}

		// The review surface belongs to the operator: proposals exist
		// precisely because ethr cannot settle its own mutations.
		settled, err := deps.Curation.ReviewProposal(ctx, curation.ReviewRequest{
			ProposalID: args.ProposalID,
			Decision:   curation.ReviewDecision(args.Decision),
			Reviewer:   types.ActorIO,
			Notes:      args.Notes,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(settled), nil
	}
}

func handleListProposals(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args listProposalsArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}

		proposals, err := deps.Curation.ListProposals(ctx, types.ProposalStatus(args.Status))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"proposals": proposals}), nil
	}
}

func handleWorkingSet(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args workingSetArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}
		if err := access.RequireProject(deps.Store.Project()); err != nil {
			return errorResult(err), nil
		}

		entry, err := deps.Store.PutWorking(ctx, args.Slot, args.Content,
			deps.Config.WorkingMemory.Capacity)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(entry), nil
	}
}

func handleWorkingGet(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args workingGetArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}

		if args.Slot == "" {
			entries, err := deps.Store.ListWorking(ctx)
			if err != nil {
				return errorResult(err), nil
			}
			return jsonResult(map[string]any{"entries": entries}), nil
		}

		entry, err := deps.Store.GetWorking(ctx, args.Slot)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(entry), nil
	}
}

func handleStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Store.Stats(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(stats), nil
	}
}

func handleSetProject(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args setProjectArgs
		if err := decodeArgs(req, &args); err != nil {
			return errorResult(err), nil
		}

		project, err := deps.Store.GetProject(ctx, args.ProjectID)
		if err != nil {
			return errorResult(err), nil
		}

		deps.Store.SetProject(project.ID)
		deps.Logger.Info("session project set", zap.String("project_id", project.ID))
		return jsonResult(map[string]any{
			"message": fmt.Sprintf("session scoped to project %q", project.ID),
			"project": project,
		}), nil
	}
}
