package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/idolboard/internal/library"
	"github.com/kalambet/idolboard/internal/profile"
	"github.com/kalambet/idolboard/internal/recognize"
	"github.com/kalambet/idolboard/internal/storage"
)

const profileURIPrefix = "user://profile/"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Library     *library.Library
	Profiles    *profile.Manager
	Recognizer  *recognize.Service
	Store       *storage.Store // optional; nil disables history://recent
	DefaultUser string
	Version     string
}

func (d MCPDeps) userID(req mcp.CallToolRequest) (string, error) {
	id := strings.TrimSpace(req.GetString("user_id", ""))
	if id == "" {
		id = d.DefaultUser
	}
	if id == "" {
		id = "default"
	}
	if err := library.ValidateUserID(id); err != nil {
		return "", err
	}
	return id, nil
}

// NewMCPServer creates an MCP server exposing the clip library, the matcher
// and user profiles.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"idolboard",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("idolboard plays recorded voice clips in response to spoken or typed commands."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_commands",
			mcp.WithDescription("List the voice clip commands recorded for a user."),
			mcp.WithString("user_id", mcp.Description("User id (defaults to the configured default user)")),
		),
		mcpListCommands(deps),
	)

	s.AddTool(
		mcp.NewTool("match_command",
			mcp.WithDescription("Resolve a phrase to the closest recorded command, as the /recognize endpoint does."),
			mcp.WithString("query", mcp.Description("Spoken or typed phrase"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User id (defaults to the configured default user)")),
		),
		mcpMatchCommand(deps),
	)

	s.AddTool(
		mcp.NewTool("set_profile_field",
			mcp.WithDescription("Update one field of a user's profile."),
			mcp.WithString("key", mcp.Description("Field key: "+strings.Join(profile.Fields(), ", ")), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User id (defaults to the configured default user)")),
		),
		mcpSetProfileField(deps),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			profileURIPrefix+"{user_id}",
			"User Profile",
			mcp.WithTemplateDescription("A user's display profile as JSON"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	if deps.Store != nil {
		s.AddResource(
			mcp.NewResource(
				"history://recent",
				"Recent Recognitions",
				mcp.WithResourceDescription("Last 20 recognitions across all users"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpListCommands(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := deps.userID(req)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid user_id: %v", err)), nil
		}

		commands, err := deps.Library.ListCommands(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing commands failed: %v", err)), nil
		}
		if commands == nil {
			commands = []string{}
		}

		b, err := json.Marshal(commands)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal commands: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMatchCommand(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		userID, err := deps.userID(req)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid user_id: %v", err)), nil
		}

		out, err := deps.Recognizer.Recognize(ctx, userID, query, recognize.SourceText)
		if err != nil {
			return mcpError(fmt.Sprintf("match failed: %v", err)), nil
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetProfileField(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		userID, err := deps.userID(req)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid user_id: %v", err)), nil
		}

		if _, err := deps.Profiles.SetField(userID, key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set field: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		userID := strings.TrimPrefix(req.Params.URI, profileURIPrefix)
		if err := library.ValidateUserID(userID); err != nil {
			return nil, fmt.Errorf("invalid user id in %q: %w", req.Params.URI, err)
		}

		p, err := deps.Profiles.Get(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recs, err := deps.Store.GetRecentRecognitions(20)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent recognitions: %w", err)
		}

		type recognitionSummary struct {
			ID        string  `json:"id"`
			UserID    string  `json:"user_id"`
			CreatedAt string  `json:"created_at"`
			Query     string  `json:"query"`
			Action    string  `json:"action"`
			Matched   string  `json:"matched,omitempty"`
			Score     float64 `json:"score,omitempty"`
		}

		summaries := make([]recognitionSummary, len(recs))
		for i, rec := range recs {
			summaries[i] = recognitionSummary{
				ID:        rec.ID,
				UserID:    rec.UserID,
				CreatedAt: rec.CreatedAt.Format(time.RFC3339),
				Query:     rec.Query,
				Action:    rec.Action,
				Matched:   rec.Matched,
				Score:     rec.Score,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal recognitions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
