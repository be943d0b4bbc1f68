package tools

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"piggybank/internal/domain"
	"piggybank/internal/ledger"
)

type fakeLedger struct {
	err error

	lastOp     string
	lastSub    int64
	lastName   string
	lastTo     string
	lastAmount int64
	lastReason string
	lastLimit  int

	accounts []domain.AccountBalance
	history  []domain.Transaction
}

func (f *fakeLedger) record(op string, sub int64, name string) {
	f.lastOp, f.lastSub, f.lastName = op, sub, name
}

func (f *fakeLedger) CreateAccount(_ context.Context, sub int64, name string) (domain.Account, error) {
	f.record("create", sub, name)
	return domain.Account{ID: 1, SubscriptionID: sub, Name: name}, f.err
}

func (f *fakeLedger) Deposit(_ context.Context, sub int64, name string, amount int64, reason string) (ledger.Receipt, error) {
	f.record("deposit", sub, name)
	f.lastAmount, f.lastReason = amount, reason
	return ledger.Receipt{Account: name, Balance: amount}, f.err
}

func (f *fakeLedger) Withdraw(_ context.Context, sub int64, name string, amount int64, reason string) (ledger.Receipt, error) {
	f.record("withdraw", sub, name)
	f.lastAmount, f.lastReason = amount, reason
	return ledger.Receipt{Account: name, Balance: 0}, f.err
}

func (f *fakeLedger) Transfer(_ context.Context, sub int64, from, to string, amount int64, reason string) (ledger.TransferReceipt, error) {
	f.record("transfer", sub, from)
	f.lastTo, f.lastAmount, f.lastReason = to, amount, reason
	return ledger.TransferReceipt{
		From: ledger.Receipt{Account: from, Balance: 0},
		To:   ledger.Receipt{Account: to, Balance: amount},
	}, f.err
}

func (f *fakeLedger) GetBalance(_ context.Context, sub int64, name string) (domain.AccountBalance, error) {
	f.record("balance", sub, name)
	return domain.AccountBalance{Account: domain.Account{Name: name}, Balance: 1234}, f.err
}

func (f *fakeLedger) ListAccounts(_ context.Context, sub int64) ([]domain.AccountBalance, error) {
	f.record("list", sub, "")
	return f.accounts, f.err
}

func (f *fakeLedger) GetHistory(_ context.Context, sub int64, name string, limit int) ([]domain.Transaction, error) {
	f.record("history", sub, name)
	f.lastLimit = limit
	return f.history, f.err
}

func mustDispatcher(t *testing.T, l Ledger) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(l)
	require.NoError(t, err)
	return d
}

func TestNewDispatcher_NilLedger(t *testing.T) {
	_, err := NewDispatcher(nil)
	require.Error(t, err)
}

func TestDefinitions_ClosedSetInOrder(t *testing.T) {
	d := mustDispatcher(t, &fakeLedger{})
	var names []string
	for _, def := range d.Definitions() {
		names = append(names, def.Name)
		require.True(t, json.Valid(def.Parameters), def.Name)
		require.NotEmpty(t, def.Description)
	}
	require.Equal(t, []string{AddAccount, ListAccounts, GetBalance, GetTransactions, AddMoney, WithdrawMoney, TransferMoney}, names)
}

func TestDefinitions_SchemasCarryBounds(t *testing.T) {
	d := mustDispatcher(t, &fakeLedger{})
	schemas := make(map[string]map[string]any)
	for _, def := range d.Definitions() {
		var s map[string]any
		require.NoError(t, json.Unmarshal(def.Parameters, &s), def.Name)
		require.Equal(t, "object", s["type"], def.Name)
		require.Equal(t, false, s["additionalProperties"], def.Name)
		schemas[def.Name] = s
	}

	prop := func(tool, name string) map[string]any {
		props, ok := schemas[tool]["properties"].(map[string]any)
		require.True(t, ok, tool)
		p, ok := props[name].(map[string]any)
		require.True(t, ok, "%s.%s", tool, name)
		return p
	}
	for _, tool := range []string{AddMoney, WithdrawMoney, TransferMoney} {
		amount := prop(tool, "amount")
		require.Equal(t, "number", amount["type"], tool)
		require.Equal(t, 0.0, amount["exclusiveMinimum"], tool)
		require.Equal(t, float64(ledger.MaxAmount)/100, amount["maximum"], tool)
		require.Contains(t, schemas[tool]["required"], "amount", tool)
	}
	limit := prop(GetTransactions, "limit")
	require.Equal(t, 1.0, limit["minimum"])
	require.Equal(t, float64(ledger.MaxHistoryLimit), limit["maximum"])
	require.Equal(t, []any{"name"}, schemas[GetTransactions]["required"])
	require.Equal(t, []any{"from_name", "to_name", "amount"}, schemas[TransferMoney]["required"])
}

func TestDispatch_UnknownTool(t *testing.T) {
	l := &fakeLedger{}
	d := mustDispatcher(t, l)
	_, err := d.Dispatch(context.Background(), 1, "delete_account", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownTool)
	require.Empty(t, l.lastOp)
}

func TestDispatch_AddMoneyConvertsToCents(t *testing.T) {
	l := &fakeLedger{}
	d := mustDispatcher(t, l)

	out, err := d.Dispatch(context.Background(), 9, AddMoney, []byte(`{"name":"savings","amount":12.5,"reason":"chores"}`))
	require.NoError(t, err)
	require.Equal(t, "deposit", l.lastOp)
	require.Equal(t, int64(9), l.lastSub)
	require.Equal(t, int64(1250), l.lastAmount)
	require.Equal(t, "chores", l.lastReason)

	res := out.(MovementResult)
	require.Equal(t, "$12.50", res.Account.Display)
	require.Equal(t, 12.5, res.Account.Balance)
}

func TestDispatch_RejectsBadArgumentsBeforeInvoking(t *testing.T) {
	cases := []struct {
		name string
		tool string
		args string
		want error
	}{
		{"malformed json", AddMoney, `{"name":`, ErrInvalidArguments},
		{"unknown field", AddMoney, `{"name":"a","amount":1,"subscription_id":2}`, ErrInvalidArguments},
		{"missing name", GetBalance, `{}`, ErrInvalidArguments},
		{"missing amount", WithdrawMoney, `{"name":"a"}`, ErrInvalidArguments},
		{"wrong type", AddMoney, `{"name":"a","amount":"ten"}`, ErrInvalidArguments},
		{"zero amount", AddMoney, `{"name":"a","amount":0}`, ledger.ErrInvalidAmount},
		{"negative amount", TransferMoney, `{"from_name":"a","to_name":"b","amount":-3}`, ledger.ErrInvalidAmount},
		{"sub-cent amount", AddMoney, `{"name":"a","amount":0.001}`, ledger.ErrInvalidAmount},
		{"missing to_name", TransferMoney, `{"from_name":"a","amount":3}`, ErrInvalidArguments},
		{"negative limit", GetTransactions, `{"name":"a","limit":-1}`, ErrInvalidArguments},
		{"trailing data", ListAccounts, `{} {}`, ErrInvalidArguments},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := &fakeLedger{}
			d := mustDispatcher(t, l)
			_, err := d.Dispatch(context.Background(), 1, tc.tool, []byte(tc.args))
			require.ErrorIs(t, err, tc.want)
			require.Empty(t, l.lastOp, "ledger must not be called")
		})
	}
}

func TestDispatch_ListAccountsAcceptsEmptyArguments(t *testing.T) {
	l := &fakeLedger{accounts: []domain.AccountBalance{
		{Account: domain.Account{Name: "savings"}, Balance: 500},
		{Account: domain.Account{Name: "checking"}, Balance: -25},
	}}
	d := mustDispatcher(t, l)

	out, err := d.Dispatch(context.Background(), 1, ListAccounts, nil)
	require.NoError(t, err)
	res := out.(AccountsResult)
	require.Len(t, res.Accounts, 2)
	require.Equal(t, "$5.00", res.Accounts[0].Display)
	require.Equal(t, "-$0.25", res.Accounts[1].Display)
}

func TestDispatch_GetTransactionsPassesLimit(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := &fakeLedger{history: []domain.Transaction{{Amount: -5000, Reason: "Transfer to checking", CreatedAt: at}}}
	d := mustDispatcher(t, l)

	out, err := d.Dispatch(context.Background(), 1, GetTransactions, []byte(`{"name":"Savings"}`))
	require.NoError(t, err)
	require.Equal(t, 0, l.lastLimit)
	res := out.(HistoryResult)
	require.Equal(t, "savings", res.Account)
	require.Equal(t, "-$50.00", res.Transactions[0].Display)
	require.Equal(t, "2026-03-01T09:00:00Z", res.Transactions[0].Timestamp)

	_, err = d.Dispatch(context.Background(), 1, GetTransactions, []byte(`{"name":"savings","limit":3}`))
	require.NoError(t, err)
	require.Equal(t, 3, l.lastLimit)
}

func TestDispatch_TransferPassesBothNames(t *testing.T) {
	l := &fakeLedger{}
	d := mustDispatcher(t, l)
	out, err := d.Dispatch(context.Background(), 4, TransferMoney, []byte(`{"from_name":"savings","to_name":"checking","amount":50,"reason":"bike"}`))
	require.NoError(t, err)
	require.Equal(t, "savings", l.lastName)
	require.Equal(t, "checking", l.lastTo)
	require.Equal(t, int64(5000), l.lastAmount)
	require.Equal(t, "$50.00", out.(TransferResult).To.Display)
}

func TestCall_RendersResponseAndError(t *testing.T) {
	l := &fakeLedger{}
	d := mustDispatcher(t, l)

	msg := d.Call(context.Background(), 1, domain.ToolCall{
		ID: "call_1", Type: "function",
		Function: domain.FunctionCall{Name: GetBalance, Arguments: `{"name":"savings"}`},
	})
	require.Equal(t, domain.RoleTool, msg.Role)
	require.Equal(t, "call_1", msg.ToolCallID)
	require.Equal(t, GetBalance, msg.Name)
	require.JSONEq(t, `{"response":{"account":{"name":"savings","balance":12.34,"display":"$12.34"}}}`, msg.Content)

	l.err = &ledger.InsufficientFundsError{Account: "savings", Balance: 100, Requested: 500}
	msg = d.Call(context.Background(), 1, domain.ToolCall{
		ID:       "call_2",
		Function: domain.FunctionCall{Name: WithdrawMoney, Arguments: `{"name":"savings","amount":5}`},
	})
	require.JSONEq(t, `{"error":"There isn't enough money in savings. It has $1.00, but $5.00 was needed."}`, msg.Content)
}

func TestExplain(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ledger.ErrNotFound, "I couldn't find that account. You can ask me to list your accounts."},
		{ledger.ErrDuplicateName, "You already have an account with that name."},
		{ledger.ErrInvalidAmount, "The amount has to be more than zero, like 1 or 2.50."},
		{ledger.ErrInsufficientFunds, "There isn't enough money in that account."},
		{ledger.ErrInvalidOperation, "Sorry, that can't be done with your accounts."},
		{ErrUnknownTool, "I don't know how to do that yet."},
		{ErrInvalidArguments, "I didn't get all the details. Could you say that another way?"},
		{errors.New("disk I/O error"), "Something went wrong on my side. Please try again in a moment."},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Explain(tc.err))
	}
}

func TestToCents(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	cents, err := toCents(f(0.1 + 0.2))
	require.NoError(t, err)
	require.Equal(t, int64(30), cents)

	for _, v := range []float64{math.NaN(), math.Inf(1), -1, 0, 0.004} {
		_, err := toCents(f(v))
		require.ErrorIs(t, err, ledger.ErrInvalidAmount, "v=%v", v)
	}
	_, err = toCents(nil)
	require.ErrorIs(t, err, ErrInvalidArguments)
}
