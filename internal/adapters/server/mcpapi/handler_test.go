package mcpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hylla/traq/internal/app"
	"github.com/hylla/traq/internal/domain"
)

// stubService provides deterministic tracker responses for MCP tool tests.
type stubService struct {
	projects   []domain.Project
	createItem func(context.Context, app.CreateWorkItemInput) (domain.WorkItem, error)
	getErr     error
}

func (s *stubService) CreateProject(context.Context, app.CreateProjectInput) (domain.Project, error) {
	return domain.Project{}, nil
}

func (s *stubService) GetProject(context.Context, string, string) (domain.Project, error) {
	return domain.Project{}, nil
}

func (s *stubService) ListProjects(context.Context, string, bool) ([]domain.Project, error) {
	return s.projects, nil
}

func (s *stubService) CreateWorkItem(ctx context.Context, in app.CreateWorkItemInput) (domain.WorkItem, error) {
	if s.createItem != nil {
		return s.createItem(ctx, in)
	}
	return domain.WorkItem{}, nil
}

func (s *stubService) UpdateWorkItem(context.Context, app.UpdateWorkItemInput) (domain.WorkItem, error) {
	return domain.WorkItem{}, nil
}

func (s *stubService) ArchiveWorkItem(context.Context, string, string, string) (domain.WorkItem, error) {
	return domain.WorkItem{}, nil
}

func (s *stubService) RestoreWorkItem(context.Context, string, string, string) (domain.WorkItem, error) {
	return domain.WorkItem{}, nil
}

func (s *stubService) CommentWorkItem(context.Context, string, string, string, string) error {
	return nil
}

func (s *stubService) GetWorkItem(context.Context, string, string) (domain.WorkItem, error) {
	if s.getErr != nil {
		return domain.WorkItem{}, s.getErr
	}
	return domain.WorkItem{}, nil
}

func (s *stubService) SearchWorkItems(context.Context, app.SearchWorkItemsInput) ([]domain.WorkItem, error) {
	return []domain.WorkItem{}, nil
}

func (s *stubService) ListActivity(context.Context, string, string, string, int) ([]domain.ActivityRecord, error) {
	return []domain.ActivityRecord{}, nil
}

func (s *stubService) ListNotifications(context.Context, string, string, bool) ([]domain.NotificationRecord, error) {
	return []domain.NotificationRecord{}, nil
}

func (s *stubService) MarkNotificationRead(context.Context, string, string, string) error {
	return nil
}

// jsonRPCResponse models minimal JSON-RPC response fields used in MCP adapter tests.
type jsonRPCResponse struct {
	ID     float64        `json:"id"`
	Result map[string]any `json:"result"`
}

// postJSONRPC sends one JSON-RPC payload and decodes the response body.
func postJSONRPC(t *testing.T, client *http.Client, url string, payload any) (*http.Response, jsonRPCResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return resp, decoded
}

// initializeRequest builds a deterministic MCP initialize request payload.
func initializeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo": map[string]any{
				"name":    "traq-test",
				"version": "1.0.0",
			},
		},
	}
}

// TestNewHandlerRequiresService verifies constructor preconditions.
func TestNewHandlerRequiresService(t *testing.T) {
	if _, err := NewHandler(Config{}, nil); err == nil {
		t.Fatal("NewHandler(nil service) succeeded, want error")
	}
}

// TestHandlerUsesStatelessTransport verifies MCP transport does not issue session ids.
func TestHandlerUsesStatelessTransport(t *testing.T) {
	handler, err := NewHandler(Config{}, &stubService{})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	server := httptest.NewServer(handler)
	defer server.Close()

	resp, decoded := postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if session := resp.Header.Get("Mcp-Session-Id"); session != "" {
		t.Fatalf("stateless transport issued session id %q", session)
	}
	if decoded.Result == nil {
		t.Fatalf("initialize result missing: %#v", decoded)
	}
}

// TestHandlerRegistersTrackerTools verifies every tracker tool is listed.
func TestHandlerRegistersTrackerTools(t *testing.T) {
	handler, err := NewHandler(Config{}, &stubService{})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	server := httptest.NewServer(handler)
	defer server.Close()

	resp, decoded := postJSONRPC(t, server.Client(), server.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	toolsRaw, ok := decoded.Result["tools"].([]any)
	if !ok {
		t.Fatalf("tools missing in result: %#v", decoded.Result)
	}
	listed := map[string]bool{}
	for _, raw := range toolsRaw {
		tool, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := tool["name"].(string); ok {
			listed[name] = true
		}
	}
	want := []string{
		"traq.create_project",
		"traq.list_projects",
		"traq.create_item",
		"traq.update_item",
		"traq.get_item",
		"traq.list_items",
		"traq.archive_item",
		"traq.comment_item",
		"traq.list_activity",
		"traq.list_notifications",
		"traq.mark_notification_read",
	}
	for _, name := range want {
		if !listed[name] {
			t.Errorf("tool %q not registered", name)
		}
	}
}

// TestNormalizeConfigDefaults verifies config fallback behavior.
func TestNormalizeConfigDefaults(t *testing.T) {
	cfg := normalizeConfig(Config{})
	if cfg.ServerName != "traq" || cfg.ServerVersion != "dev" || cfg.EndpointPath != "/mcp" {
		t.Fatalf("normalizeConfig(zero) = %+v", cfg)
	}
	cfg = normalizeConfig(Config{EndpointPath: "rpc/"})
	if cfg.EndpointPath != "/rpc" {
		t.Fatalf("EndpointPath = %q, want /rpc", cfg.EndpointPath)
	}
}

// TestToolResultFromError verifies error code prefixes surface in tool errors.
func TestToolResultFromError(t *testing.T) {
	result := toolResultFromError(app.ErrNotFound)
	if result == nil || len(result.Content) == 0 {
		t.Fatal("toolResultFromError() returned empty result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] has unexpected type %T", result.Content[0])
	}
	if !strings.HasPrefix(text.Text, "not_found:") {
		t.Fatalf("error text = %q, want not_found prefix", text.Text)
	}
}
