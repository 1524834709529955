package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/groupledger/internal/groups"
	"github.com/mmynk/groupledger/internal/ledger"
	"github.com/mmynk/groupledger/internal/middleware"
	"github.com/mmynk/groupledger/internal/models"
)

const LedgerServiceName = "groupledger.v1.LedgerService"

const (
	CreateTransactionProcedure   = "/" + LedgerServiceName + "/CreateTransaction"
	UpdateTransactionProcedure   = "/" + LedgerServiceName + "/UpdateTransaction"
	DeleteTransactionProcedure   = "/" + LedgerServiceName + "/DeleteTransaction"
	GetTransactionProcedure      = "/" + LedgerServiceName + "/GetTransaction"
	ListTransactionsProcedure    = "/" + LedgerServiceName + "/ListTransactions"
	ComputeDuesProcedure         = "/" + LedgerServiceName + "/ComputeDues"
	ComputeBalancesProcedure     = "/" + LedgerServiceName + "/ComputeBalances"
	RepairDeferredRatesProcedure = "/" + LedgerServiceName + "/RepairDeferredRates"
)

// LedgerService exposes transactions and balances over Connect.
type LedgerService struct {
	ledger    *ledger.Ledger
	directory *groups.Directory
	logger    *slog.Logger
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(l *ledger.Ledger, d *groups.Directory, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{ledger: l, directory: d, logger: logger}
}

// Handler returns the path prefix and handler to mount on a mux.
func (s *LedgerService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON()}, opts...)
	mux := http.NewServeMux()
	mux.Handle(CreateTransactionProcedure, connect.NewUnaryHandler(CreateTransactionProcedure, s.CreateTransaction, opts...))
	mux.Handle(UpdateTransactionProcedure, connect.NewUnaryHandler(UpdateTransactionProcedure, s.UpdateTransaction, opts...))
	mux.Handle(DeleteTransactionProcedure, connect.NewUnaryHandler(DeleteTransactionProcedure, s.DeleteTransaction, opts...))
	mux.Handle(GetTransactionProcedure, connect.NewUnaryHandler(GetTransactionProcedure, s.GetTransaction, opts...))
	mux.Handle(ListTransactionsProcedure, connect.NewUnaryHandler(ListTransactionsProcedure, s.ListTransactions, opts...))
	mux.Handle(ComputeDuesProcedure, connect.NewUnaryHandler(ComputeDuesProcedure, s.ComputeDues, opts...))
	mux.Handle(ComputeBalancesProcedure, connect.NewUnaryHandler(ComputeBalancesProcedure, s.ComputeBalances, opts...))
	mux.Handle(RepairDeferredRatesProcedure, connect.NewUnaryHandler(RepairDeferredRatesProcedure, s.RepairDeferredRates, opts...))
	return "/" + LedgerServiceName + "/", mux
}

func requester(ctx context.Context) (string, error) {
	memberID := middleware.GetMemberID(ctx)
	if memberID == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, errUnauthenticated)
	}
	return memberID, nil
}

// CreateTransaction records a new transaction.
func (s *LedgerService) CreateTransaction(ctx context.Context, req *connect.Request[CreateTransactionRequest]) (*connect.Response[TransactionResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	msg := req.Msg
	total, err := parseAmount("total_amount", msg.TotalAmount)
	if err != nil {
		return nil, invalidArgument(err)
	}
	rate, err := parseRate(msg.ExchangeRate)
	if err != nil {
		return nil, invalidArgument(err)
	}
	splits, err := splitsFromMsg(msg.Splits)
	if err != nil {
		return nil, invalidArgument(err)
	}

	t, err := s.ledger.CreateTransaction(ctx, memberID, ledger.CreateRequest{
		GroupID:      msg.GroupID,
		PayerID:      msg.PayerID,
		Title:        msg.Title,
		Memo:         msg.Memo,
		TotalAmount:  total,
		Currency:     msg.Currency,
		Splits:       splits,
		ExchangeRate: rate,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	s.logger.Info("Transaction created", "group_id", t.GroupID, "transaction_id", t.ID)
	return connect.NewResponse(&TransactionResponse{Transaction: transactionToMsg(t)}), nil
}

// UpdateTransaction applies a partial edit.
func (s *LedgerService) UpdateTransaction(ctx context.Context, req *connect.Request[UpdateTransactionRequest]) (*connect.Response[TransactionResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	msg := req.Msg
	update := ledger.UpdateRequest{
		TransactionID: msg.TransactionID,
		Title:         msg.Title,
		Memo:          msg.Memo,
		PayerID:       msg.PayerID,
		Currency:      msg.Currency,
	}
	if msg.TotalAmount != nil {
		total, err := parseAmount("total_amount", *msg.TotalAmount)
		if err != nil {
			return nil, invalidArgument(err)
		}
		update.TotalAmount = &total
	}
	if update.ExchangeRate, err = parseRate(msg.ExchangeRate); err != nil {
		return nil, invalidArgument(err)
	}
	if msg.Splits != nil {
		update.ReplaceSplits = true
		if update.Splits, err = splitsFromMsg(*msg.Splits); err != nil {
			return nil, invalidArgument(err)
		}
	}

	t, err := s.ledger.UpdateTransaction(ctx, memberID, update)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&TransactionResponse{Transaction: transactionToMsg(t)}), nil
}

// DeleteTransaction removes a transaction and its splits.
func (s *LedgerService) DeleteTransaction(ctx context.Context, req *connect.Request[TransactionIDRequest]) (*connect.Response[Empty], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.DeleteTransaction(ctx, memberID, req.Msg.TransactionID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// GetTransaction returns one transaction with its splits.
func (s *LedgerService) GetTransaction(ctx context.Context, req *connect.Request[TransactionIDRequest]) (*connect.Response[TransactionResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.ledger.GetTransaction(ctx, memberID, req.Msg.TransactionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&TransactionResponse{Transaction: transactionToMsg(t)}), nil
}

// ListTransactions returns a page of a group's transactions, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, req *connect.Request[ListTransactionsRequest]) (*connect.Response[ListTransactionsResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	msg := req.Msg
	filter := models.TransactionFilter{
		PayerID:   msg.PayerID,
		CreatorID: msg.CreatorID,
		Limit:     msg.Limit,
		Offset:    msg.Offset,
	}
	if msg.Since != nil {
		filter.Since = *msg.Since
	}
	if msg.Until != nil {
		filter.Until = *msg.Until
	}

	list, err := s.ledger.ListTransactions(ctx, memberID, msg.GroupID, filter)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &ListTransactionsResponse{Transactions: make([]Transaction, 0, len(list))}
	for i := range list {
		resp.Transactions = append(resp.Transactions, transactionToMsg(&list[i]))
	}
	return connect.NewResponse(resp), nil
}

// ComputeDues returns the caller's balance against every other member.
func (s *LedgerService) ComputeDues(ctx context.Context, req *connect.Request[GroupIDRequest]) (*connect.Response[ComputeDuesResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	dues, err := s.ledger.MemberDues(ctx, req.Msg.GroupID, memberID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ComputeDuesResponse{
		GroupID:      dues.GroupID,
		MemberID:     dues.MemberID,
		BaseCurrency: dues.BaseCurrency,
		Dues:         formatAmounts(dues.Amounts, dues.BaseCurrency),
	}), nil
}

// ComputeBalances returns the group's pairwise balances and suggested transfers.
func (s *LedgerService) ComputeBalances(ctx context.Context, req *connect.Request[GroupIDRequest]) (*connect.Response[ComputeBalancesResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.ledger.ComputeBalances(ctx, req.Msg.GroupID, memberID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(balancesToMsg(b.GroupID, b.BaseCurrency, b.Matrix, b.Net, b.Suggested)), nil
}

// RepairDeferredRates fills in multipliers the group is still missing.
// Repairing every group at once is only available from ledgerctl.
func (s *LedgerService) RepairDeferredRates(ctx context.Context, req *connect.Request[GroupIDRequest]) (*connect.Response[RepairDeferredRatesResponse], error) {
	memberID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	if req.Msg.GroupID == "" {
		return nil, invalidArgument(errors.New("group_id is required"))
	}
	if _, err := s.directory.GetGroup(ctx, memberID, req.Msg.GroupID); err != nil {
		return nil, toConnectError(err)
	}
	res, err := s.ledger.RepairDeferredRates(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RepairDeferredRatesResponse{
		Scanned:  res.Scanned,
		Repaired: res.Repaired,
		Pending:  res.Pending,
	}), nil
}
