// Package mcp exposes the dependency graph over the Model Context
// Protocol so coding agents can query indexed projects.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/atlas-dev/atlas-go/internal/query"
	"github.com/atlas-dev/atlas-go/internal/registry"
)

// Server serves graph queries over MCP stdio transport.
type Server struct {
	registry *registry.Registry
	executor *query.Executor
	server   *mcp.Server
}

// Tool describes one MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource describes one MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates an MCP server over the given project registry.
func NewServer(reg *registry.Registry) *Server {
	s := &Server{
		registry: reg,
		executor: query.NewExecutor(reg),
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "atlas-go",
		Version: "0.1.0",
	}, nil)

	return s
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "atlas_query",
			Description: "Run a colon-delimited graph query, e.g. 'shop:OrdersService:methods' or 'shop:endpoints'. Supports +logic, +dependencies, +dependents, +methods includes and ?method checks.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string", Description: "Query string starting with the project name"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "atlas_endpoints",
			Description: "List all HTTP endpoints of a project with their handler classes.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"project": {Type: "string", Description: "Name of an indexed project"},
				},
				Required: []string{"project"},
			},
		},
		{
			Name:        "atlas_resolve",
			Description: "Resolve a class name (exact identifier, simple name, or substring) in a project and return the class with its methods, dependencies and dependents.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"project": {Type: "string", Description: "Name of an indexed project"},
					"name":    {Type: "string", Description: "Class name or identifier fragment"},
				},
				Required: []string{"project", "name"},
			},
		},
		{
			Name:        "atlas_list_projects",
			Description: "List all projects currently loaded in the registry.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "atlas://projects",
			Name:        "Indexed Projects",
			Description: "Names of all projects loaded in the registry",
			MimeType:    "text/plain",
		},
		{
			URI:         "atlas://query-syntax",
			Name:        "Query Syntax",
			Description: "Reference for the colon-delimited query language",
			MimeType:    "text/plain",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "atlas_query":
		raw, _ := args["query"].(string)
		return s.handleQuery(raw)
	case "atlas_endpoints":
		project, _ := args["project"].(string)
		if project == "" {
			return "", fmt.Errorf("project must not be empty")
		}
		return s.handleQuery(project + ":endpoints")
	case "atlas_resolve":
		project, _ := args["project"].(string)
		className, _ := args["name"].(string)
		if project == "" || className == "" {
			return "", fmt.Errorf("project and name must not be empty")
		}
		// Includes pull the 1-hop neighborhood for stack-trace correlation.
		return s.handleQuery(project + ":" + className + ":+dependencies:+dependents")
	case "atlas_list_projects":
		return s.handleListProjects()
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// handleQuery runs one query and renders the result as JSON. Domain
// errors (unknown project, class, or method and malformed queries) are
// reported in the payload rather than as protocol failures so the
// client can read the error code.
func (s *Server) handleQuery(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("query must not be empty")
	}

	result, err := s.executor.Execute(raw)
	if err != nil {
		var qerr *query.Error
		if errors.As(err, &qerr) {
			payload, merr := json.MarshalIndent(map[string]any{"error": qerr}, "", "  ")
			if merr != nil {
				return "", merr
			}
			return string(payload), nil
		}
		return "", err
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (s *Server) handleListProjects() (string, error) {
	projects := s.registry.Projects()
	payload, err := json.MarshalIndent(map[string]any{"projects": projects}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "atlas://projects":
		projects := s.registry.Projects()
		if len(projects) == 0 {
			return "No projects loaded. Run `atlas analyze` to index a repository.\n", nil
		}
		return strings.Join(projects, "\n") + "\n", nil
	case "atlas://query-syntax":
		return querySyntax(), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

func querySyntax() string {
	var sb strings.Builder
	sb.WriteString("# Query Syntax\n\n")
	sb.WriteString("Queries are colon-delimited and start with a project name:\n\n")
	sb.WriteString("  <project>:<token>(:<token>)*\n\n")
	sb.WriteString("## Keywords (first token)\n\n")
	sb.WriteString("- endpoints   all HTTP endpoints of the project\n")
	sb.WriteString("- classes     all classes in analysis order\n")
	sb.WriteString("- entrypoints entry-point classes with their HTTP methods\n")
	sb.WriteString("\n## Navigation from a class\n\n")
	sb.WriteString("- shop:OrdersService                the class and its methods\n")
	sb.WriteString("- shop:OrdersService:methods        methods only\n")
	sb.WriteString("- shop:OrdersService:dependencies   classes it depends on\n")
	sb.WriteString("- shop:OrdersService:dependents     classes depending on it\n")
	sb.WriteString("- shop:OrdersService:method:create  one method by name\n")
	sb.WriteString("\n## Modifiers\n\n")
	sb.WriteString("- +logic / +methods / +dependencies / +dependents  include extra detail\n")
	sb.WriteString("- ?create  check whether the method exists (never errors on a miss)\n")
	return sb.String()
}

// Run starts the MCP server with stdio transport.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if stdin == nil || stdout == nil {
		return fmt.Errorf("stdin and stdout must not be nil")
	}

	reader := bufio.NewReader(stdin)
	encoder := json.NewEncoder(stdout)
	// Note: Do NOT use SetIndent - MCP protocol requires compact JSON (one line per message)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var req map[string]any
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}

		resp := s.handleRequest(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			return err
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req map[string]any) map[string]any {
	method, _ := req["method"].(string)
	id := req["id"]

	switch method {
	case "initialize":
		return s.handleInitialize(id)
	case "tools/list":
		return s.handleToolsList(id)
	case "tools/call":
		return s.handleToolsCall(ctx, id, req)
	case "resources/list":
		return s.handleResourcesList(id)
	case "resources/read":
		return s.handleResourcesRead(ctx, id, req)
	default:
		return errorResponse(id, -32601, "Method not found: "+method)
	}
}

func (s *Server) handleInitialize(id any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]any{
				"name":    "atlas-go",
				"version": "0.1.0",
			},
			"capabilities": map[string]any{
				"tools": map[string]any{
					"listChanged": false,
				},
				"resources": map[string]any{
					"listChanged": false,
				},
			},
		},
	}
}

func (s *Server) handleToolsList(id any) map[string]any {
	tools := s.ListTools()
	toolList := make([]map[string]any, len(tools))
	for i, tool := range tools {
		schema, _ := json.Marshal(tool.InputSchema)
		var schemaMap map[string]any
		json.Unmarshal(schema, &schemaMap)

		toolList[i] = map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": schemaMap,
		}
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"tools": toolList,
		},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, id any, req map[string]any) map[string]any {
	params, _ := req["params"].(map[string]any)
	if params == nil {
		return errorResponse(id, -32602, "Invalid params")
	}

	name, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)

	result, err := s.CallTool(ctx, name, args)
	if err != nil {
		return errorResponse(id, -32000, err.Error())
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"content": []map[string]any{
				{
					"type": "text",
					"text": result,
				},
			},
		},
	}
}

func (s *Server) handleResourcesList(id any) map[string]any {
	resources := s.ListResources()
	resourceList := make([]map[string]any, len(resources))
	for i, res := range resources {
		resourceList[i] = map[string]any{
			"uri":         res.URI,
			"name":        res.Name,
			"description": res.Description,
			"mimeType":    res.MimeType,
		}
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"resources": resourceList,
		},
	}
}

func (s *Server) handleResourcesRead(ctx context.Context, id any, req map[string]any) map[string]any {
	params, _ := req["params"].(map[string]any)
	if params == nil {
		return errorResponse(id, -32602, "Invalid params")
	}

	uri, _ := params["uri"].(string)

	content, err := s.ReadResource(ctx, uri)
	if err != nil {
		return errorResponse(id, -32000, err.Error())
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"contents": []map[string]any{
				{
					"uri":      uri,
					"mimeType": "text/plain",
					"text":     content,
				},
			},
		},
	}
}

func errorResponse(id any, code int, message string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
}
