package service

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/groupledger/internal/calculator"
	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/money"
)

// Amounts travel as decimal strings so no precision is lost in JSON.

type Split struct {
	MemberID string `json:"member_id"`
	Amount   string `json:"amount"`
	Note     string `json:"note,omitempty"`
}

type Transaction struct {
	ID           string    `json:"id"`
	GroupID      string    `json:"group_id"`
	PayerID      string    `json:"payer_id"`
	CreatorID    string    `json:"creator_id"`
	Title        string    `json:"title"`
	Memo         string    `json:"memo,omitempty"`
	TotalAmount  string    `json:"total_amount"`
	Currency     string    `json:"currency"`
	ExchangeRate *string   `json:"exchange_rate"`
	Splits       []Split   `json:"splits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateTransactionRequest struct {
	GroupID      string  `json:"group_id"`
	PayerID      string  `json:"payer_id,omitempty"`
	Title        string  `json:"title"`
	Memo         string  `json:"memo,omitempty"`
	TotalAmount  string  `json:"total_amount"`
	Currency     string  `json:"currency"`
	ExchangeRate *string `json:"exchange_rate,omitempty"`
	Splits       []Split `json:"splits"`
}

// UpdateTransactionRequest is a partial edit: absent fields are unchanged.
// A present Splits list replaces the stored one.
type UpdateTransactionRequest struct {
	TransactionID string   `json:"transaction_id"`
	Title         *string  `json:"title,omitempty"`
	Memo          *string  `json:"memo,omitempty"`
	PayerID       *string  `json:"payer_id,omitempty"`
	TotalAmount   *string  `json:"total_amount,omitempty"`
	Currency      *string  `json:"currency,omitempty"`
	ExchangeRate  *string  `json:"exchange_rate,omitempty"`
	Splits        *[]Split `json:"splits,omitempty"`
}

type TransactionResponse struct {
	Transaction Transaction `json:"transaction"`
}

type TransactionIDRequest struct {
	TransactionID string `json:"transaction_id"`
}

type Empty struct{}

type ListTransactionsRequest struct {
	GroupID   string     `json:"group_id"`
	PayerID   string     `json:"payer_id,omitempty"`
	CreatorID string     `json:"creator_id,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

type ListTransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

type GroupIDRequest struct {
	GroupID string `json:"group_id"`
}

type ComputeDuesResponse struct {
	GroupID      string            `json:"group_id"`
	MemberID     string            `json:"member_id"`
	BaseCurrency string            `json:"base_currency"`
	Dues         map[string]string `json:"dues"`
}

type MemberBalance struct {
	MemberID   string `json:"member_id"`
	NetBalance string `json:"net_balance"`
}

type DebtEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type ComputeBalancesResponse struct {
	GroupID      string                       `json:"group_id"`
	BaseCurrency string                       `json:"base_currency"`
	Matrix       map[string]map[string]string `json:"matrix"`
	Net          []MemberBalance              `json:"net"`
	Suggested    []DebtEdge                   `json:"suggested"`
}

type RepairDeferredRatesResponse struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
	Pending  int `json:"pending"`
}

type Group struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	BaseCurrency string    `json:"base_currency"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	Archived     bool      `json:"archived"`
}

type Member struct {
	MemberID string     `json:"member_id"`
	IsAdmin  bool       `json:"is_admin"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

type CreateGroupRequest struct {
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
}

type UpdateGroupRequest struct {
	GroupID      string  `json:"group_id"`
	Name         *string `json:"name,omitempty"`
	BaseCurrency *string `json:"base_currency,omitempty"`
}

type GroupResponse struct {
	Group Group `json:"group"`
}

type AddMemberRequest struct {
	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`
	Admin    bool   `json:"admin,omitempty"`
}

type RemoveMemberRequest struct {
	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`
}

type MemberResponse struct {
	Member Member `json:"member"`
}

type SetArchivedRequest struct {
	GroupID  string `json:"group_id"`
	Archived bool   `json:"archived"`
}

type DeleteGroupRequest struct {
	GroupID string `json:"group_id"`
	Hard    bool   `json:"hard,omitempty"`
}

type ListMembersRequest struct {
	GroupID     string `json:"group_id"`
	IncludeLeft bool   `json:"include_left,omitempty"`
}

type ListMembersResponse struct {
	Members []Member `json:"members"`
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	d, err := money.Parse(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func parseRate(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseAmount("exchange_rate", *s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func splitsFromMsg(in []Split) ([]models.Split, error) {
	out := make([]models.Split, 0, len(in))
	for i, s := range in {
		amount, err := parseAmount(fmt.Sprintf("splits[%d].amount", i), s.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Split{MemberID: s.MemberID, Amount: amount, Note: s.Note})
	}
	return out, nil
}

func transactionToMsg(t *models.Transaction) Transaction {
	msg := Transaction{
		ID:          t.ID,
		GroupID:     t.GroupID,
		PayerID:     t.PayerID,
		CreatorID:   t.CreatorID,
		Title:       t.Title,
		Memo:        t.Memo,
		TotalAmount: money.Format(t.TotalAmount, t.Currency),
		Currency:    t.Currency,
		Splits:      make([]Split, 0, len(t.Splits)),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.ExchangeRate.Valid {
		rate := t.ExchangeRate.Decimal.String()
		msg.ExchangeRate = &rate
	}
	for _, s := range t.Splits {
		msg.Splits = append(msg.Splits, Split{
			MemberID: s.MemberID,
			Amount:   money.Format(s.Amount, t.Currency),
			Note:     s.Note,
		})
	}
	return msg
}

func formatAmounts(in map[string]decimal.Decimal, base string) map[string]string {
	out := make(map[string]string, len(in))
	for id, d := range in {
		out[id] = money.Format(d, base)
	}
	return out
}

func balancesToMsg(groupID, base string, matrix calculator.Matrix, net []calculator.MemberBalance, edges []calculator.DebtEdge) *ComputeBalancesResponse {
	resp := &ComputeBalancesResponse{
		GroupID:      groupID,
		BaseCurrency: base,
		Matrix:       make(map[string]map[string]string, len(matrix)),
		Net:          make([]MemberBalance, 0, len(net)),
		Suggested:    make([]DebtEdge, 0, len(edges)),
	}
	for a, row := range matrix {
		resp.Matrix[a] = formatAmounts(row, base)
	}
	for _, b := range net {
		resp.Net = append(resp.Net, MemberBalance{MemberID: b.MemberID, NetBalance: money.Format(b.NetBalance, base)})
	}
	for _, e := range edges {
		resp.Suggested = append(resp.Suggested, DebtEdge{From: e.From, To: e.To, Amount: money.Format(e.Amount, base)})
	}
	return resp
}

func groupToMsg(g *models.Group) Group {
	return Group{
		ID:           g.ID,
		Name:         g.Name,
		BaseCurrency: g.BaseCurrency,
		CreatedBy:    g.CreatedBy,
		CreatedAt:    g.CreatedAt,
		Archived:     g.Archived,
	}
}

func memberToMsg(m *models.Membership) Member {
	return Member{MemberID: m.MemberID, IsAdmin: m.IsAdmin, JoinedAt: m.JoinedAt, LeftAt: m.LeftAt}
}
