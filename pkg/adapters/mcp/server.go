// Package mcp exposes an engine as a Model Context Protocol server, so agents
// can queue mutations, drive sync and inspect conflicts as tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/index"
	"github.com/aretw0/lattice/pkg/queue"
)

// StatusURI names the status resource.
const StatusURI = "lattice://status"

// MutationList is the result of list_mutations.
type MutationList struct {
	Mutations []domain.Mutation `json:"mutations" jsonschema_description:"Queued mutations, oldest first"`
}

// ConflictList is the result of detect_conflicts.
type ConflictList struct {
	Conflicts []domain.Conflict `json:"conflicts" jsonschema_description:"Conflicts between queued mutations and server state"`
}

// ResolutionList is the result of resolve_conflicts.
type ResolutionList struct {
	Resolutions []domain.ConflictResolution `json:"resolutions" jsonschema_description:"One resolution per conflict"`
}

// EdgeList is the result of query_edges.
type EdgeList struct {
	Edges []domain.CrossGraphEdge `json:"edges" jsonschema_description:"Matching cross-graph edges"`
}

// InvalidationList is the result of invalidate.
type InvalidationList struct {
	Invalidated []string `json:"invalidated" jsonschema_description:"Dependents that must recompute, nearest first"`
}

// Status is the content of the status resource.
type Status struct {
	Queue queue.Stats `json:"queue"`
	Index index.Stats `json:"index"`
}

// Server wraps an engine and exposes it as an MCP server.
type Server struct {
	engine    *lattice.Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Stdio transports must not log to stdout.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine *lattice.Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("lattice-mcp", strings.TrimSpace(lattice.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on port until ctx ends.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(fmt.Sprintf("http://localhost:%d", port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "addr", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("queue_mutation",
		mcp.WithDescription("Queue a graph mutation. It is applied on the next sync pass."),
		mcp.WithString("type", mcp.Required(), mcp.Description("create, update, delete or a custom type")),
		mcp.WithString("entity_id", mcp.Required(), mcp.Description("Entity the mutation targets")),
		mcp.WithString("entity_type", mcp.Description("Entity type recorded on the mutation")),
		mcp.WithString("payload", mcp.Description("JSON object with the mutation payload")),
		mcp.WithOutputSchema[domain.Mutation](),
	), mcp.NewStructuredToolHandler(s.handleQueueMutation))

	s.mcpServer.AddTool(mcp.NewTool("list_mutations",
		mcp.WithDescription("List queued mutations, optionally filtered by status."),
		mcp.WithString("status", mcp.Description("pending, syncing or failed")),
		mcp.WithOutputSchema[MutationList](),
	), mcp.NewStructuredToolHandler(s.handleListMutations))

	s.mcpServer.AddTool(mcp.NewTool("sync",
		mcp.WithDescription("Run one sync pass against the remote."),
		mcp.WithOutputSchema[queue.SyncResult](),
	), mcp.NewStructuredToolHandler(s.handleSync))

	s.mcpServer.AddTool(mcp.NewTool("detect_conflicts",
		mcp.WithDescription("Compare queued mutations with server state."),
		mcp.WithOutputSchema[ConflictList](),
	), mcp.NewStructuredToolHandler(s.handleDetectConflicts))

	s.mcpServer.AddTool(mcp.NewTool("resolve_conflicts",
		mcp.WithDescription("Resolve every conflict with one strategy and update the queue."),
		mcp.WithString("strategy", mcp.Description("server-wins, client-wins, last-write-wins or merge")),
		mcp.WithOutputSchema[ResolutionList](),
	), mcp.NewStructuredToolHandler(s.handleResolveConflicts))

	s.mcpServer.AddTool(mcp.NewTool("query_edges",
		mcp.WithDescription("List cross-graph edges matching every given criterion."),
		mcp.WithString("source_graph", mcp.Description("domain, intent or component")),
		mcp.WithString("source_node", mcp.Description("Source node id")),
		mcp.WithString("target_graph", mcp.Description("domain, intent or component")),
		mcp.WithString("target_node", mcp.Description("Target node id")),
		mcp.WithString("edge_type", mcp.Description("Edge type")),
		mcp.WithOutputSchema[EdgeList](),
	), mcp.NewStructuredToolHandler(s.handleQueryEdges))

	s.mcpServer.AddTool(mcp.NewTool("invalidate",
		mcp.WithDescription("List the dependents that must recompute when entities change."),
		mcp.WithString("changed", mcp.Required(), mcp.Description("Comma-separated entity ids")),
		mcp.WithOutputSchema[InvalidationList](),
	), mcp.NewStructuredToolHandler(s.handleInvalidate))
}

func (s *Server) handleQueueMutation(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (domain.Mutation, error) {
	m := domain.Mutation{
		Type:       stringArg(args, "type"),
		EntityID:   stringArg(args, "entity_id"),
		EntityType: stringArg(args, "entity_type"),
	}
	if raw := stringArg(args, "payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Payload); err != nil {
			return domain.Mutation{}, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	queued, err := s.engine.Queue.QueueMutation(ctx, m)
	if err != nil {
		return domain.Mutation{}, err
	}
	s.logger.Info("mutation queued via mcp", "id", queued.ID, "entity", queued.EntityID)
	return queued, nil
}

func (s *Server) handleListMutations(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (MutationList, error) {
	status := stringArg(args, "status")
	out := MutationList{Mutations: []domain.Mutation{}}
	for _, m := range s.engine.Queue.All() {
		if status == "" || string(m.Status) == status {
			out.Mutations = append(out.Mutations, m)
		}
	}
	return out, nil
}

func (s *Server) handleSync(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (queue.SyncResult, error) {
	return s.engine.Queue.Sync(ctx)
}

func (s *Server) handleDetectConflicts(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ConflictList, error) {
	found, err := s.engine.DetectConflicts(ctx)
	if err != nil {
		return ConflictList{}, err
	}
	if found == nil {
		found = []domain.Conflict{}
	}
	return ConflictList{Conflicts: found}, nil
}

func (s *Server) handleResolveConflicts(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ResolutionList, error) {
	res, err := s.engine.Reconcile(ctx, stringArg(args, "strategy"))
	if res == nil {
		res = []domain.ConflictResolution{}
	}
	return ResolutionList{Resolutions: res}, err
}

func (s *Server) handleQueryEdges(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (EdgeList, error) {
	edges := s.engine.QueryEdges(domain.EdgeCriteria{
		SourceGraph: domain.GraphType(stringArg(args, "source_graph")),
		SourceNode:  stringArg(args, "source_node"),
		TargetGraph: domain.GraphType(stringArg(args, "target_graph")),
		TargetNode:  stringArg(args, "target_node"),
		EdgeType:    stringArg(args, "edge_type"),
	})
	return EdgeList{Edges: edges}, nil
}

func (s *Server) handleInvalidate(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (InvalidationList, error) {
	var changed []string
	for _, id := range strings.Split(stringArg(args, "changed"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			changed = append(changed, id)
		}
	}
	if len(changed) == 0 {
		return InvalidationList{}, errors.New("changed: at least one entity id is required")
	}
	out := s.engine.Invalidate(changed...)
	if out == nil {
		out = []string{}
	}
	return InvalidationList{Invalidated: out}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(StatusURI, "Queue and index counters",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.status())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      StatusURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func (s *Server) status() Status {
	lock := s.engine.IndexLock()
	lock.Lock()
	defer lock.Unlock()
	return Status{Queue: s.engine.Queue.Stats(), Index: s.engine.Index.Stats()}
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}
