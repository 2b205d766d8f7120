// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/traq/internal/adapters/server/common"
	"github.com/hylla/traq/internal/app"
	"github.com/hylla/traq/internal/domain"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the tracker tools.
func NewHandler(cfg Config, svc common.TrackerService) (*Handler, error) {
	if svc == nil {
		return nil, fmt.Errorf("tracker service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerProjectTools(mcpSrv, svc)
	registerItemTools(mcpSrv, svc)
	registerActivityTools(mcpSrv, svc)
	registerNotificationTools(mcpSrv, svc)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "traq"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerProjectTools registers `traq.create_project` and `traq.list_projects`.
func registerProjectTools(srv *mcpserver.MCPServer, svc common.TrackerService) {
	srv.AddTool(
		mcp.NewTool(
			"traq.create_project",
			mcp.WithDescription("Create a project with an issue-key prefix."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
			mcp.WithString("description", mcp.Description("Project description")),
			mcp.WithString("key_prefix", mcp.Description("Issue key prefix (derived from the name when omitted)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, err := req.RequireString("tenant_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			name, err := req.RequireString("name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			project, err := svc.CreateProject(ctx, app.CreateProjectInput{
				TenantID:    tenantID,
				Name:        name,
				Description: req.GetString("description", ""),
				KeyPrefix:   req.GetString("key_prefix", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(project)
			if err != nil {
				return nil, fmt.Errorf("encode create_project result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"traq.list_projects",
			mcp.WithDescription("List projects for a tenant."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithBoolean("include_archived", mcp.Description("Include archived projects")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, err := req.RequireString("tenant_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			projects, err := svc.ListProjects(ctx, tenantID, req.GetBool("include_archived", false))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"projects": projects})
			if err != nil {
				return nil, fmt.Errorf("encode list_projects result: %w", err)
			}
			return result, nil
		},
	)
}

// registerItemTools registers the work-item create/update/get/list/archive/comment tools.
func registerItemTools(srv *mcpserver.MCPServer, svc common.TrackerService) {
	srv.AddTool(
		mcp.NewTool(
			"traq.create_item",
			mcp.WithDescription("Create a work item; its sequential key is minted atomically with the write."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Acting party identifier")),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Item title")),
			mcp.WithString("description", mcp.Description("Item description")),
			mcp.WithString("status", mcp.Description("Item status"), mcp.Enum("todo", "progress", "done")),
			mcp.WithString("priority", mcp.Description("Item priority"), mcp.Enum("low", "medium", "high")),
			mcp.WithString("assignee_id", mcp.Description("Assignee identifier")),
			mcp.WithString("secondary_assignee_id", mcp.Description("Secondary assignee identifier")),
			mcp.WithString("start_date", mcp.Description("Start date, YYYY-MM-DD")),
			mcp.WithString("due_date", mcp.Description("Due date, YYYY-MM-DD")),
			mcp.WithArray("labels", mcp.Description("Optional labels"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, actorID, errResult := requireIdentity(req)
			if errResult != nil {
				return errResult, nil
			}
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			title, err := req.RequireString("title")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := svc.CreateWorkItem(ctx, app.CreateWorkItemInput{
				TenantID:            tenantID,
				ActorID:             actorID,
				ProjectID:           projectID,
				Title:               title,
				Description:         req.GetString("description", ""),
				Status:              domain.Status(req.GetString("status", "")),
				Priority:            domain.Priority(req.GetString("priority", "")),
				AssigneeID:          req.GetString("assignee_id", ""),
				SecondaryAssigneeID: req.GetString("secondary_assignee_id", ""),
				StartDate:           req.GetString("start_date", ""),
				DueDate:             req.GetString("due_date", ""),
				Labels:              req.GetStringSlice("labels", nil),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(item)
			if err != nil {
				return nil, fmt.Errorf("encode create_item result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"traq.update_item",
			mcp.WithDescription("Replace a work item's mutable fields with a full next snapshot."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Acting party identifier")),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Work item identifier")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Item title")),
			mcp.WithString("description", mcp.Description("Item description")),
			mcp.WithString("status", mcp.Description("Item status"), mcp.Enum("todo", "progress", "done")),
			mcp.WithString("priority", mcp.Description("Item priority"), mcp.Enum("low", "medium", "high")),
			mcp.WithString("assignee_id", mcp.Description("Assignee identifier")),
			mcp.WithString("secondary_assignee_id", mcp.Description("Secondary assignee identifier")),
			mcp.WithString("start_date", mcp.Description("Start date, YYYY-MM-DD")),
			mcp.WithString("due_date", mcp.Description("Due date, YYYY-MM-DD")),
			mcp.WithArray("labels", mcp.Description("Optional labels"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, actorID, errResult := requireIdentity(req)
			if errResult != nil {
				return errResult, nil
			}
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			title, err := req.RequireString("title")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := svc.UpdateWorkItem(ctx, app.UpdateWorkItemInput{
				TenantID:            tenantID,
				ActorID:             actorID,
				WorkItemID:          itemID,
				Title:               title,
				Description:         req.GetString("description", ""),
				Status:              domain.Status(req.GetString("status", "")),
				Priority:            domain.Priority(req.GetString("priority", "")),
				AssigneeID:          req.GetString("assignee_id", ""),
				SecondaryAssigneeID: req.GetString("secondary_assignee_id", ""),
				StartDate:           req.GetString("start_date", ""),
				DueDate:             req.GetString("due_date", ""),
				Labels:              req.GetStringSlice("labels", nil),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(item)
			if err != nil {
				return nil, fmt.Errorf("encode update_item result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"traq.get_item",
			mcp.WithDescription("Fetch one work item by id."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Work item identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, err := req.RequireString("tenant_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := svc.GetWorkItem(ctx, tenantID, itemID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(item)
			if err != nil {
				return nil, fmt.Errorf("encode get_item result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"traq.list_items",
			mcp.WithDescription("Search work items with conjunctive filters."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("project_id", mcp.Description("Filter by project")),
			mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("todo", "progress", "done")),
			mcp.WithString("not_status", mcp.Description("Exclude one status"), mcp.Enum("todo", "progress", "done")),
			mcp.WithString("assignee_id", mcp.Description("Filter by assignee")),
			mcp.WithString("label", mcp.Description("Filter by label membership")),
			mcp.WithBoolean("include_archived", mcp.Description("Include archived items")),
			mcp.WithString("sort", mcp.Description("Sort field (defaults to created_at)")),
			mcp.WithBoolean("desc", mcp.Description("Sort descending")),
			mcp.WithNumber("offset", mcp.Description("Rows to skip")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, err := req.RequireString("tenant_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			items, err := svc.SearchWorkItems(ctx, app.SearchWorkItemsInput{
				TenantID:        tenantID,
				ProjectID:       req.GetString("project_id", ""),
				Status:          domain.Status(req.GetString("status", "")),
				NotStatus:       domain.Status(req.GetString("not_status", "")),
				AssigneeID:      req.GetString("assignee_id", ""),
				Label:           req.GetString("label", ""),
				IncludeArchived: req.GetBool("include_archived", false),
				SortField:       req.GetString("sort", ""),
				Descending:      req.GetBool("desc", false),
				Offset:          req.GetInt("offset", 0),
				Limit:           req.GetInt("limit", 0),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"items": items})
			if err != nil {
				return nil, fmt.Errorf("encode list_items result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"traq.archive_item",
			mcp.WithDescription("Archive or restore one work item."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Acting party identifier")),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Work item identifier")),
			mcp.WithBoolean("restore", mcp.Description("Restore instead of archive")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, actorID, errResult := requireIdentity(req)
			if errResult != nil {
				return errResult, nil
			}
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			var item domain.WorkItem
			if req.GetBool("restore", false) {
				item, err = svc.RestoreWorkItem(ctx, tenantID, actorID, itemID)
			} else {
				item, err = svc.ArchiveWorkItem(ctx, tenantID, actorID, itemID)
			}
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(item)
			if err != nil {
				return nil, fmt.Errorf("encode archive_item result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"traq.comment_item",
			mcp.WithDescription("Record a comment against one work item."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Acting party identifier")),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Work item identifier")),
			mcp.WithString("body", mcp.Required(), mcp.Description("Comment body")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, actorID, errResult := requireIdentity(req)
			if errResult != nil {
				return errResult, nil
			}
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			body, err := req.RequireString("body")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err := svc.CommentWorkItem(ctx, tenantID, actorID, itemID, body); err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"status": "ok"})
			if err != nil {
				return nil, fmt.Errorf("encode comment_item result: %w", err)
			}
			return result, nil
		},
	)
}

// registerActivityTools registers `traq.list_activity`.
func registerActivityTools(srv *mcpserver.MCPServer, svc common.TrackerService) {
	srv.AddTool(
		mcp.NewTool(
			"traq.list_activity",
			mcp.WithDescription("List audit records for a project or item, newest first."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("project_id", mcp.Description("Filter by project")),
			mcp.WithString("item_id", mcp.Description("Filter by work item")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, err := req.RequireString("tenant_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			records, err := svc.ListActivity(ctx, tenantID, req.GetString("project_id", ""), req.GetString("item_id", ""), req.GetInt("limit", 0))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"activity": records})
			if err != nil {
				return nil, fmt.Errorf("encode list_activity result: %w", err)
			}
			return result, nil
		},
	)
}

// registerNotificationTools registers the inbox tools.
func registerNotificationTools(srv *mcpserver.MCPServer, svc common.TrackerService) {
	srv.AddTool(
		mcp.NewTool(
			"traq.list_notifications",
			mcp.WithDescription("List the acting party's notification inbox, newest first."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Acting party identifier")),
			mcp.WithBoolean("unread", mcp.Description("Unread notifications only")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, actorID, errResult := requireIdentity(req)
			if errResult != nil {
				return errResult, nil
			}
			records, err := svc.ListNotifications(ctx, tenantID, actorID, req.GetBool("unread", false))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"notifications": records})
			if err != nil {
				return nil, fmt.Errorf("encode list_notifications result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"traq.mark_notification_read",
			mcp.WithDescription("Mark one of the acting party's notifications read."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Acting party identifier")),
			mcp.WithString("notification_id", mcp.Required(), mcp.Description("Notification identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, actorID, errResult := requireIdentity(req)
			if errResult != nil {
				return errResult, nil
			}
			notificationID, err := req.RequireString("notification_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err := svc.MarkNotificationRead(ctx, tenantID, actorID, notificationID); err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"status": "ok"})
			if err != nil {
				return nil, fmt.Errorf("encode mark_notification_read result: %w", err)
			}
			return result, nil
		},
	)
}

// requireIdentity extracts the tenant and actor arguments shared by mutating tools.
func requireIdentity(req mcp.CallToolRequest) (string, string, *mcp.CallToolResult) {
	tenantID, err := req.RequireString("tenant_id")
	if err != nil {
		return "", "", mcp.NewToolResultError(err.Error())
	}
	actorID, err := req.RequireString("actor_id")
	if err != nil {
		return "", "", mcp.NewToolResultError(err.Error())
	}
	return tenantID, actorID, nil
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("unknown error")
	}
	return mcp.NewToolResultError(common.ErrorCode(err) + ": " + err.Error())
}
