// Package mcptools discovers context tools from the internal MCP server and
// caches them per user with single-flight refresh.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"oreai/backend/internal/config"
)

// ToolNamePrefix filters discovery to the context tools this backend is
// allowed to expose to the model.
const ToolNamePrefix = "ore.context."

const (
	headerInternalSecret = "x-ore-internal-secret"
	headerUserID         = "x-ore-user-id"
	headerRequestID      = "x-ore-request-id"
)

// Tool is one callable context tool bound to the session it was discovered
// over.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage

	client *mcpclient.Client
}

// ToolSet is the tool catalog for one user, keyed by tool name.
type ToolSet map[string]Tool

// Names returns the tool names in unspecified order, for logging.
func (s ToolSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}

// Call invokes the tool and flattens the result's text content. A result the
// server marks as an error comes back as an error value so the agent can
// surface it to the model.
func (t Tool) Call(ctx context.Context, arguments map[string]any) (string, error) {
	if t.client == nil {
		return "", fmt.Errorf("tool %s has no live session", t.Name)
	}

	result, err := t.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      t.Name,
			Arguments: arguments,
		},
	})
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", t.Name, err)
	}

	texts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	joined := strings.TrimSpace(strings.Join(texts, "\n"))

	if result.IsError {
		if joined == "" {
			joined = "tool call failed"
		}
		return "", fmt.Errorf("tool %s: %s", t.Name, joined)
	}
	return joined, nil
}

// discovery is one completed tool listing plus the session that backs its
// tools. The session stays open for the cache entry's lifetime so tool calls
// reuse it.
type discovery struct {
	tools   ToolSet
	closeFn func() error
}

func (d discovery) close() error {
	if d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

type discoverFunc func(ctx context.Context, userID, requestID string) (discovery, error)

// newDiscoverer builds the discovery function the cache refreshes through.
// Requests to a loopback MCP server go direct; anything else is forced
// through the egress proxy so the internal secret never travels an
// unmediated path.
func newDiscoverer(cfg config.Config) (discoverFunc, error) {
	serverURL, err := url.Parse(cfg.MCPServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse mcp server url: %w", err)
	}

	var httpClient *http.Client
	if !isLoopbackHost(serverURL.Hostname()) {
		if strings.TrimSpace(cfg.MCPProxyURL) == "" {
			return nil, errors.New("MCP_PROXY_URL is required for a non-loopback MCP server")
		}
		proxyURL, err := url.Parse(cfg.MCPProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse mcp proxy url: %w", err)
		}
		httpClient = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	}

	return func(ctx context.Context, userID, requestID string) (discovery, error) {
		options := []transport.StreamableHTTPCOption{
			transport.WithHTTPHeaders(map[string]string{
				headerInternalSecret: cfg.MCPInternalSecret,
				headerUserID:         userID,
				headerRequestID:      requestID,
			}),
		}
		if httpClient != nil {
			options = append(options, transport.WithHTTPBasicClient(httpClient))
		}

		client, err := mcpclient.NewStreamableHttpClient(cfg.MCPServerURL, options...)
		if err != nil {
			return discovery{}, fmt.Errorf("create mcp client: %w", err)
		}

		tools, err := listContextTools(ctx, client, userID)
		if err != nil {
			client.Close()
			return discovery{}, err
		}

		return discovery{tools: tools, closeFn: client.Close}, nil
	}, nil
}

func listContextTools(ctx context.Context, client *mcpclient.Client, userID string) (ToolSet, error) {
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp client: %w", err)
	}

	_, err := client.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "ore-backend",
				Version: "1.0.0",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize mcp session for user %s: %w", userID, err)
	}

	listed, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}

	tools := make(ToolSet, len(listed.Tools))
	for _, tool := range listed.Tools {
		if !strings.HasPrefix(tool.Name, ToolNamePrefix) {
			continue
		}
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal input schema for %s: %w", tool.Name, err)
		}
		tools[tool.Name] = Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
			client:      client,
		}
	}
	return tools, nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
