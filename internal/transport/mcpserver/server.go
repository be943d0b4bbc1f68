// Package mcpserver exposes the piggy bank tools to MCP clients for a single
// subscription.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"piggybank/internal/domain"
	"piggybank/internal/tools"
)

const serverName = "piggybank"

// ToolSource is the closed tool registry served over MCP.
type ToolSource interface {
	Definitions() []domain.ToolDefinition
	Dispatch(ctx context.Context, subscriptionID int64, name string, raw []byte) (any, error)
}

type Server struct {
	mcp *mcp.Server
}

// New registers every tool from src, bound to subscriptionID. The
// subscription is fixed by the operator and never read from tool input.
func New(src ToolSource, subscriptionID int64, version string) (*Server, error) {
	if src == nil {
		return nil, errors.New("mcpserver: tool source must not be nil")
	}
	if subscriptionID <= 0 {
		return nil, errors.New("mcpserver: subscription id must be positive")
	}
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil)
	for _, def := range src.Definitions() {
		if err := register(server, src, subscriptionID, def); err != nil {
			return nil, err
		}
	}
	return &Server{mcp: server}, nil
}

// Run serves until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	if err := s.mcp.Run(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: run: %w", err)
	}
	return nil
}

func register(server *mcp.Server, src ToolSource, subscriptionID int64, def domain.ToolDefinition) error {
	tool := &mcp.Tool{Name: def.Name, Description: def.Description}
	if len(def.Parameters) > 0 {
		// Advertise the model-facing schema so both front ends validate alike.
		tool.InputSchema = json.RawMessage(def.Parameters)
	}
	switch def.Name {
	case tools.ListAccounts:
		addTool[tools.NoArgs](server, tool, src, subscriptionID)
	case tools.AddAccount, tools.GetBalance:
		addTool[tools.AccountArgs](server, tool, src, subscriptionID)
	case tools.GetTransactions:
		addTool[tools.HistoryArgs](server, tool, src, subscriptionID)
	case tools.AddMoney, tools.WithdrawMoney:
		addTool[tools.MoneyArgs](server, tool, src, subscriptionID)
	case tools.TransferMoney:
		addTool[tools.TransferArgs](server, tool, src, subscriptionID)
	default:
		return fmt.Errorf("mcpserver: no argument type for tool %q", def.Name)
	}
	return nil
}

func addTool[In any](server *mcp.Server, tool *mcp.Tool, src ToolSource, subscriptionID int64) {
	name := tool.Name
	mcp.AddTool(server, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s arguments: %w", name, err)
		}
		out, err := src.Dispatch(ctx, subscriptionID, name, raw)
		if err != nil {
			slog.Warn("mcp tool call failed", "tool", name, "subscription_id", subscriptionID, "err", err)
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: tools.Explain(err)}},
			}, nil, nil
		}
		return nil, out, nil
	})
}
