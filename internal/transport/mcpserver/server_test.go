package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"piggybank/internal/domain"
	"piggybank/internal/ledger"
	"piggybank/internal/repository/sqlite"
	"piggybank/internal/tools"
)

type fixture struct {
	session *mcp.ClientSession
	ledger  *ledger.Service
	sub     domain.Subscription
}

func connect(t *testing.T) fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	led, err := ledger.NewService(store)
	require.NoError(t, err)
	sub, err := led.CreateSubscription(ctx, "family")
	require.NoError(t, err)
	dispatcher, err := tools.NewDispatcher(led)
	require.NoError(t, err)

	srv, err := New(dispatcher, sub.ID, "test")
	require.NoError(t, err)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Run(ctx, serverTransport) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		select {
		case <-serveErr:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop after cancel")
		}
	})
	return fixture{session: session, ledger: led, sub: sub}
}

func callText(t *testing.T, s *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text, res.IsError
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, 1, "test")
	require.Error(t, err)

	d, err := tools.NewDispatcher(&ledger.Service{})
	require.NoError(t, err)
	_, err = New(d, 0, "test")
	require.Error(t, err)
}

type unknownToolSource struct{}

func (unknownToolSource) Definitions() []domain.ToolDefinition {
	return []domain.ToolDefinition{{Name: "close_bank", Description: "nope"}}
}

func (unknownToolSource) Dispatch(context.Context, int64, string, []byte) (any, error) {
	return nil, nil
}

func TestNew_RejectsToolWithoutArgumentType(t *testing.T) {
	_, err := New(unknownToolSource{}, 1, "test")
	require.ErrorContains(t, err, "close_bank")
}

func TestServer_ListsEveryTool(t *testing.T) {
	f := connect(t)
	res, err := f.session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		require.NotEmpty(t, tool.Description)
	}
	require.ElementsMatch(t, []string{
		tools.AddAccount, tools.ListAccounts, tools.GetBalance, tools.GetTransactions,
		tools.AddMoney, tools.WithdrawMoney, tools.TransferMoney,
	}, names)
}

func TestServer_MovesMoneyForBoundSubscription(t *testing.T) {
	f := connect(t)

	_, isErr := callText(t, f.session, tools.AddAccount, map[string]any{"name": "Savings"})
	require.False(t, isErr)
	_, isErr = callText(t, f.session, tools.AddAccount, map[string]any{"name": "checking"})
	require.False(t, isErr)

	text, isErr := callText(t, f.session, tools.AddMoney, map[string]any{"name": "savings", "amount": 100})
	require.False(t, isErr)
	require.Contains(t, text, `"display":"$100.00"`)

	text, isErr = callText(t, f.session, tools.WithdrawMoney, map[string]any{"name": "savings", "amount": 150})
	require.True(t, isErr)
	require.Equal(t, "There isn't enough money in savings. It has $100.00, but $150.00 was needed.", text)

	_, isErr = callText(t, f.session, tools.TransferMoney, map[string]any{"from_name": "savings", "to_name": "checking", "amount": 50})
	require.False(t, isErr)

	bal, err := f.ledger.GetBalance(context.Background(), f.sub.ID, "checking")
	require.NoError(t, err)
	require.Equal(t, int64(50_00), bal.Balance)

	text, isErr = callText(t, f.session, tools.GetTransactions, map[string]any{"name": "savings"})
	require.False(t, isErr)
	require.Contains(t, text, `"display":"-$50.00"`)
}

func TestServer_ExplainsLedgerErrors(t *testing.T) {
	f := connect(t)
	text, isErr := callText(t, f.session, tools.GetBalance, map[string]any{"name": "college"})
	require.True(t, isErr)
	require.Equal(t, "I couldn't find that account. You can ask me to list your accounts.", text)
}

func TestServer_AdvertisesDispatcherSchemas(t *testing.T) {
	f := connect(t)
	d, err := tools.NewDispatcher(f.ledger)
	require.NoError(t, err)
	want := make(map[string][]byte)
	for _, def := range d.Definitions() {
		want[def.Name] = def.Parameters
	}

	res, err := f.session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	require.Len(t, res.Tools, len(want))
	for _, tool := range res.Tools {
		got, err := json.Marshal(tool.InputSchema)
		require.NoError(t, err)
		require.JSONEq(t, string(want[tool.Name]), string(got), tool.Name)
	}
}

func TestServer_RejectsOutOfRangeAmounts(t *testing.T) {
	f := connect(t)
	_, isErr := callText(t, f.session, tools.AddAccount, map[string]any{"name": "savings"})
	require.False(t, isErr)

	_, err := f.session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      tools.AddMoney,
		Arguments: map[string]any{"name": "savings", "amount": -5},
	})
	require.Error(t, err)

	bal, err := f.ledger.GetBalance(context.Background(), f.sub.ID, "savings")
	require.NoError(t, err)
	require.Zero(t, bal.Balance)
}
