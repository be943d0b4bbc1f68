package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"piggybank/internal/domain"
	"piggybank/internal/ledger"
)

const (
	AddAccount      = "add_account"
	ListAccounts    = "list_accounts"
	GetBalance      = "get_balance"
	GetTransactions = "get_transactions"
	AddMoney        = "add_money"
	WithdrawMoney   = "withdraw_money"
	TransferMoney   = "transfer_money"
)

var (
	ErrUnknownTool      = errors.New("tools: unknown tool")
	ErrInvalidArguments = errors.New("tools: invalid arguments")
)

// Ledger is the set of account operations the tools expose.
type Ledger interface {
	CreateAccount(ctx context.Context, subscriptionID int64, name string) (domain.Account, error)
	Deposit(ctx context.Context, subscriptionID int64, name string, amount int64, reason string) (ledger.Receipt, error)
	Withdraw(ctx context.Context, subscriptionID int64, name string, amount int64, reason string) (ledger.Receipt, error)
	Transfer(ctx context.Context, subscriptionID int64, from, to string, amount int64, reason string) (ledger.TransferReceipt, error)
	GetBalance(ctx context.Context, subscriptionID int64, name string) (domain.AccountBalance, error)
	ListAccounts(ctx context.Context, subscriptionID int64) ([]domain.AccountBalance, error)
	GetHistory(ctx context.Context, subscriptionID int64, name string, limit int) ([]domain.Transaction, error)
}

type runFunc func(ctx context.Context, l Ledger, subscriptionID int64, raw []byte) (any, error)

type tool struct {
	def domain.ToolDefinition
	run runFunc
}

// Dispatcher maps tool names to ledger operations. The set of tools is fixed
// at construction.
type Dispatcher struct {
	ledger Ledger
	tools  map[string]tool
	order  []string
}

func NewDispatcher(l Ledger) (*Dispatcher, error) {
	if l == nil {
		return nil, errors.New("tools: ledger must not be nil")
	}
	d := &Dispatcher{ledger: l, tools: make(map[string]tool)}
	for _, t := range registry() {
		d.tools[t.def.Name] = t
		d.order = append(d.order, t.def.Name)
	}
	return d, nil
}

// Definitions returns every tool in registration order.
func (d *Dispatcher) Definitions() []domain.ToolDefinition {
	out := make([]domain.ToolDefinition, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.tools[name].def)
	}
	return out
}

// Dispatch validates raw arguments for the named tool and runs it against
// the subscription. It never retries.
func (d *Dispatcher) Dispatch(ctx context.Context, subscriptionID int64, name string, raw []byte) (any, error) {
	t, ok := d.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t.run(ctx, d.ledger, subscriptionID, raw)
}

type toolOutput struct {
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Call runs a model-issued tool call and renders the outcome as a tool
// message. Failures become a friendly error the model can relay.
func (d *Dispatcher) Call(ctx context.Context, subscriptionID int64, call domain.ToolCall) domain.ChatMessage {
	var out toolOutput
	result, err := d.Dispatch(ctx, subscriptionID, call.Function.Name, []byte(call.Function.Arguments))
	if err != nil {
		slog.Warn("tool call failed", "tool", call.Function.Name, "subscription", subscriptionID, "err", err)
		out.Error = Explain(err)
	} else {
		out.Response = result
	}
	content, mErr := json.Marshal(out)
	if mErr != nil {
		content = []byte(`{"error":"` + Explain(mErr) + `"}`)
	}
	return domain.ChatMessage{
		Role:       domain.RoleTool,
		Content:    string(content),
		ToolCallID: call.ID,
		Name:       call.Function.Name,
	}
}

// AccountView is the tool-facing shape of an account balance.
type AccountView struct {
	Name    string  `json:"name"`
	Balance float64 `json:"balance"`
	Display string  `json:"display"`
}

type TransactionView struct {
	Amount    float64 `json:"amount"`
	Display   string  `json:"display"`
	Reason    string  `json:"reason"`
	Timestamp string  `json:"timestamp"`
}

type MessageResult struct {
	Message string `json:"message"`
}

type AccountsResult struct {
	Accounts []AccountView `json:"accounts"`
}

type BalanceResult struct {
	Account AccountView `json:"account"`
}

type HistoryResult struct {
	Account      string            `json:"account"`
	Transactions []TransactionView `json:"transactions"`
}

type MovementResult struct {
	Message string      `json:"message"`
	Account AccountView `json:"account"`
}

type TransferResult struct {
	Message string      `json:"message"`
	From    AccountView `json:"from"`
	To      AccountView `json:"to"`
}

func accountView(name string, balance int64) AccountView {
	return AccountView{Name: name, Balance: domain.CentsToMajor(balance), Display: domain.FormatCents(balance)}
}

func registry() []tool {
	return []tool{
		{
			def: domain.ToolDefinition{
				Name:        AddAccount,
				Description: "Creates a new, empty account with the given name.",
				Parameters:  mustParameters[AccountArgs](),
			},
			run: func(ctx context.Context, l Ledger, sub int64, raw []byte) (any, error) {
				var args AccountArgs
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				if err := required("name", args.Name); err != nil {
					return nil, err
				}
				acct, err := l.CreateAccount(ctx, sub, args.Name)
				if err != nil {
					return nil, err
				}
				return MessageResult{Message: fmt.Sprintf("Account %q created with a balance of %s.", acct.Name, domain.FormatCents(0))}, nil
			},
		},
		{
			def: domain.ToolDefinition{
				Name:        ListAccounts,
				Description: "Lists every account with its current balance.",
				Parameters:  mustParameters[NoArgs](),
			},
			run: func(ctx context.Context, l Ledger, sub int64, raw []byte) (any, error) {
				if err := decodeArgs(raw, &NoArgs{}); err != nil {
					return nil, err
				}
				accounts, err := l.ListAccounts(ctx, sub)
				if err != nil {
					return nil, err
				}
				views := make([]AccountView, 0, len(accounts))
				for _, a := range accounts {
					views = append(views, accountView(a.Name, a.Balance))
				}
				return AccountsResult{Accounts: views}, nil
			},
		},
		{
			def: domain.ToolDefinition{
				Name:        GetBalance,
				Description: "Gets the current balance of one account.",
				Parameters:  mustParameters[AccountArgs](),
			},
			run: func(ctx context.Context, l Ledger, sub int64, raw []byte) (any, error) {
				var args AccountArgs
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				if err := required("name", args.Name); err != nil {
					return nil, err
				}
				bal, err := l.GetBalance(ctx, sub, args.Name)
				if err != nil {
					return nil, err
				}
				return BalanceResult{Account: accountView(bal.Name, bal.Balance)}, nil
			},
		},
		{
			def: domain.ToolDefinition{
				Name:        GetTransactions,
				Description: "Gets the most recent transactions of one account, newest first.",
				Parameters:  mustParameters[HistoryArgs](),
			},
			run: func(ctx context.Context, l Ledger, sub int64, raw []byte) (any, error) {
				var args HistoryArgs
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				if err := required("name", args.Name); err != nil {
					return nil, err
				}
				if args.Limit < 0 {
					return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidArguments)
				}
				txns, err := l.GetHistory(ctx, sub, args.Name, args.Limit)
				if err != nil {
					return nil, err
				}
				name, _ := ledger.NormalizeName(args.Name)
				views := make([]TransactionView, 0, len(txns))
				for _, t := range txns {
					views = append(views, TransactionView{
						Amount:    domain.CentsToMajor(t.Amount),
						Display:   domain.FormatCents(t.Amount),
						Reason:    t.Reason,
						Timestamp: t.CreatedAt.UTC().Format(time.RFC3339),
					})
				}
				return HistoryResult{Account: name, Transactions: views}, nil
			},
		},
		{
			def: domain.ToolDefinition{
				Name:        AddMoney,
				Description: "Puts money into an account.",
				Parameters:  mustParameters[MoneyArgs](),
			},
			run: func(ctx context.Context, l Ledger, sub int64, raw []byte) (any, error) {
				name, cents, reason, err := moneyArgs(raw)
				if err != nil {
					return nil, err
				}
				r, err := l.Deposit(ctx, sub, name, cents, reason)
				if err != nil {
					return nil, err
				}
				return MovementResult{
					Message: fmt.Sprintf("Added %s to %q.", domain.FormatCents(cents), r.Account),
					Account: accountView(r.Account, r.Balance),
				}, nil
			},
		},
		{
			def: domain.ToolDefinition{
				Name:        WithdrawMoney,
				Description: "Takes money out of an account. Fails if there is not enough money.",
				Parameters:  mustParameters[MoneyArgs](),
			},
			run: func(ctx context.Context, l Ledger, sub int64, raw []byte) (any, error) {
				name, cents, reason, err := moneyArgs(raw)
				if err != nil {
					return nil, err
				}
				r, err := l.Withdraw(ctx, sub, name, cents, reason)
				if err != nil {
					return nil, err
				}
				return MovementResult{
					Message: fmt.Sprintf("Took %s out of %q.", domain.FormatCents(cents), r.Account),
					Account: accountView(r.Account, r.Balance),
				}, nil
			},
		},
		{
			def: domain.ToolDefinition{
				Name:        TransferMoney,
				Description: "Moves money from one account to another. Both sides happen together or not at all.",
				Parameters:  mustParameters[TransferArgs](),
			},
			run: func(ctx context.Context, l Ledger, sub int64, raw []byte) (any, error) {
				var args TransferArgs
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				if err := required("from_name", args.FromName); err != nil {
					return nil, err
				}
				if err := required("to_name", args.ToName); err != nil {
					return nil, err
				}
				cents, err := toCents(args.Amount)
				if err != nil {
					return nil, err
				}
				r, err := l.Transfer(ctx, sub, args.FromName, args.ToName, cents, args.Reason)
				if err != nil {
					return nil, err
				}
				return TransferResult{
					Message: fmt.Sprintf("Moved %s from %q to %q.", domain.FormatCents(cents), r.From.Account, r.To.Account),
					From:    accountView(r.From.Account, r.From.Balance),
					To:      accountView(r.To.Account, r.To.Balance),
				}, nil
			},
		},
	}
}

func moneyArgs(raw []byte) (string, int64, string, error) {
	var args MoneyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", 0, "", err
	}
	if err := required("name", args.Name); err != nil {
		return "", 0, "", err
	}
	cents, err := toCents(args.Amount)
	if err != nil {
		return "", 0, "", err
	}
	return args.Name, cents, args.Reason, nil
}
