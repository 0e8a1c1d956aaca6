package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/schoolbus-tracker/tracker/directory"
	"github.com/wricardo/schoolbus-tracker/tracker/service"
	"github.com/wricardo/schoolbus-tracker/tracker/store"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL, version string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer(version)
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer(version string) {
	c.mcpServer = server.NewMCPServer(
		"School Bus Tracker",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`School Bus Tracker - MCP Interface

This is a thin client that proxies all requests to the tracker REST API.

The tracker relays bus positions, chat messages, student check-in/out and
emergency alerts between guardians, bus operators and administrators. These
tools inspect the running tracker and its stored history; they do not send
events.

AVAILABLE TOOLS:
- system_status: Connection counts per role, fan-out mode and store driver
- list_connections: Live connections, optionally filtered by role
- bus_locations: Recent location samples for a bus
- latest_bus_location: The newest location sample for a bus
- user_messages: Chat messages sent or received by a user
- mark_message_read: Mark a message read on behalf of its recipient
- disconnect_user: Close a user's live connection`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "system_status",
		Description: "Get the tracker's runtime status",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleSystemStatus)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_connections",
		Description: "List live connections",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"role": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"guardian", "operator", "administrator"},
					"description": "Only list connections with this role (optional)",
				},
			},
		},
	}, c.handleListConnections)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "bus_locations",
		Description: "Get recent location samples for a bus, oldest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"bus_id": map[string]interface{}{
					"type":        "integer",
					"description": "Bus ID",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of samples (default 50, max 500)",
				},
			},
			Required: []string{"bus_id"},
		},
	}, c.handleBusLocations)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "latest_bus_location",
		Description: "Get the newest location sample for a bus",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"bus_id": map[string]interface{}{
					"type":        "integer",
					"description": "Bus ID",
				},
			},
			Required: []string{"bus_id"},
		},
	}, c.handleLatestBusLocation)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "user_messages",
		Description: "Get chat messages sent or received by a user, oldest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User ID",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of messages (default 50, max 500)",
				},
			},
			Required: []string{"user_id"},
		},
	}, c.handleUserMessages)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "mark_message_read",
		Description: "Mark a chat message as read by its recipient",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"message_id": map[string]interface{}{
					"type":        "integer",
					"description": "Message ID",
				},
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Recipient user ID",
				},
			},
			Required: []string{"message_id", "user_id"},
		},
	}, c.handleMarkMessageRead)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "disconnect_user",
		Description: "Close a user's live connection. The user may reconnect.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User ID",
				},
			},
			Required: []string{"user_id"},
		},
	}, c.handleDisconnectUser)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// HTTPHandler serves single JSON-RPC messages over POST.
func (c *Client) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := c.mcpServer.HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		return args
	}
	return map[string]interface{}{}
}

// intArg accepts JSON numbers and numeric strings.
func intArg(args map[string]interface{}, key string) (int64, bool) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), v == float64(int64(v))
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func limitQuery(args map[string]interface{}) string {
	if n, ok := intArg(args, "limit"); ok && n > 0 {
		return "?limit=" + strconv.FormatInt(n, 10)
	}
	return ""
}

// Tool handlers

func (c *Client) handleSystemStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status service.Status
	if err := c.apiCall(ctx, "GET", "/api/status", nil, &status); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatStatus(&status)), nil
}

func (c *Client) handleListConnections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	role, _ := arguments(request)["role"].(string)

	path := "/api/connections"
	if role != "" {
		path += "?role=" + url.QueryEscape(role)
	}

	var response struct {
		Count       int                       `json:"count"`
		Connections []*service.ConnectionInfo `json:"connections"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatConnections(response.Connections)), nil
}

func (c *Client) handleBusLocations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	busID, ok := intArg(args, "bus_id")
	if !ok || busID <= 0 {
		return mcp.NewToolResultError("bus_id must be a positive integer"), nil
	}

	var response struct {
		Count     int                    `json:"count"`
		Locations []store.LocationSample `json:"locations"`
	}
	path := fmt.Sprintf("/api/buses/%d/locations%s", busID, limitQuery(args))
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatLocations(busID, response.Locations)), nil
}

func (c *Client) handleLatestBusLocation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	busID, ok := intArg(arguments(request), "bus_id")
	if !ok || busID <= 0 {
		return mcp.NewToolResultError("bus_id must be a positive integer"), nil
	}

	var sample store.LocationSample
	if err := c.apiCall(ctx, "GET", fmt.Sprintf("/api/buses/%d/location", busID), nil, &sample); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Bus %d latest position:\n%s", busID, formatSample(sample))), nil
}

func (c *Client) handleUserMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	userID, _ := args["user_id"].(string)
	if strings.TrimSpace(userID) == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	var response struct {
		Count    int             `json:"count"`
		Messages []store.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/users/%s/messages%s", url.PathEscape(userID), limitQuery(args))
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatMessages(userID, response.Messages)), nil
}

func (c *Client) handleMarkMessageRead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	id, ok := intArg(args, "message_id")
	userID, _ := args["user_id"].(string)
	if !ok || id <= 0 || strings.TrimSpace(userID) == "" {
		return mcp.NewToolResultError("message_id and user_id are required"), nil
	}

	var response map[string]string
	body := map[string]string{"userId": userID}
	if err := c.apiCall(ctx, "POST", fmt.Sprintf("/api/messages/%d/read", id), body, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(response["message"]), nil
}

func (c *Client) handleDisconnectUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, _ := arguments(request)["user_id"].(string)
	if strings.TrimSpace(userID) == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	var response map[string]string
	if err := c.apiCall(ctx, "DELETE", "/api/connections/"+url.PathEscape(userID), nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(response["message"]), nil
}

// Formatting

func formatStatus(s *service.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Connections: %d\n", s.Connections)
	for _, role := range directory.Roles {
		fmt.Fprintf(&b, "  %s: %d\n", role, s.ByRole[role])
	}
	if s.Online != nil {
		b.WriteString("Online (all instances):\n")
		for _, role := range directory.Roles {
			fmt.Fprintf(&b, "  %s: %d\n", role, s.Online[role])
		}
	}
	fmt.Fprintf(&b, "Fan-out: %s\n", s.Fanout)
	fmt.Fprintf(&b, "Store: %s\n", s.Store)
	fmt.Fprintf(&b, "Uptime: %s\n", s.Uptime)
	return b.String()
}

func formatConnections(conns []*service.ConnectionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Live Connections (%d):\n\n", len(conns))
	for _, c := range conns {
		fmt.Fprintf(&b, "- %s (%s, connected %s, last seen %s)",
			c.UserID, c.Role, c.ConnectedAt.Format("15:04:05"), c.LastSeen.Format("15:04:05"))
		if len(c.BusIDs) > 0 {
			ids := make([]string, len(c.BusIDs))
			for i, id := range c.BusIDs {
				ids[i] = strconv.FormatInt(id, 10)
			}
			fmt.Fprintf(&b, " buses: %s", strings.Join(ids, ","))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatSample(s store.LocationSample) string {
	line := fmt.Sprintf("  %s  (%.6f, %.6f) %s", s.RecordedAt.Format(time.RFC3339), s.Latitude, s.Longitude, s.Status)
	if s.Speed != nil {
		line += fmt.Sprintf(" speed=%.1f", *s.Speed)
	}
	if s.Bearing != nil {
		line += fmt.Sprintf(" bearing=%.0f", *s.Bearing)
	}
	if s.TripID != nil {
		line += fmt.Sprintf(" trip=%d", *s.TripID)
	}
	return line
}

func formatLocations(busID int64, samples []store.LocationSample) string {
	if len(samples) == 0 {
		return fmt.Sprintf("No location samples for bus %d", busID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Bus %d - %d samples (oldest first):\n", busID, len(samples))
	for _, s := range samples {
		b.WriteString(formatSample(s))
		b.WriteString("\n")
	}
	return b.String()
}

func formatMessages(userID string, msgs []store.Message) string {
	if len(msgs) == 0 {
		return fmt.Sprintf("No messages for %s", userID)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })

	var b strings.Builder
	unread := 0
	for _, m := range msgs {
		if m.RecipientID == userID && !m.Read {
			unread++
		}
	}
	fmt.Fprintf(&b, "Messages for %s (%d, %d unread):\n", userID, len(msgs), unread)
	for _, m := range msgs {
		mark := " "
		if m.RecipientID == userID && !m.Read {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s #%d %s %s -> %s: %s\n",
			mark, m.ID, m.CreatedAt.Format("15:04:05"), m.SenderID, m.RecipientID, m.Body)
	}
	return b.String()
}
