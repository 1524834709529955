package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/money"
)

// Entry is a transaction with its multiplier already determined.
type Entry struct {
	TransactionID string
	PayerID       string
	Splits        []models.Split
	Multiplier    decimal.Decimal
}

// MemberBalance represents the net position of one group member.
type MemberBalance struct {
	MemberID   string
	NetBalance decimal.Decimal // Positive = owed money, Negative = owes money
}

// DebtEdge represents a suggested transfer from one member to another.
type DebtEdge struct {
	From   string // Member who owes
	To     string // Member who is owed
	Amount decimal.Decimal
}

// Matrix holds pairwise balances: m[a][b] > 0 means b owes a.
type Matrix map[string]map[string]decimal.Decimal

func (m Matrix) add(a, b string, amount decimal.Decimal) {
	row, ok := m[a]
	if !ok {
		row = make(map[string]decimal.Decimal)
		m[a] = row
	}
	row[b] = row[b].Add(amount)
}

// converted returns each split's amount in base currency, rounded once per
// line, after checking the entry's integrity.
func converted(e Entry, scale int32) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(e.Splits))
	seen := make(MemberSet, len(e.Splits))
	for i, s := range e.Splits {
		if s.MemberID == e.PayerID {
			return nil, &IntegrityError{TransactionID: e.TransactionID, MemberID: s.MemberID, Problem: "split references the payer"}
		}
		if seen.Has(s.MemberID) {
			return nil, &IntegrityError{TransactionID: e.TransactionID, MemberID: s.MemberID, Problem: "duplicate split row"}
		}
		seen[s.MemberID] = struct{}{}
		out[i] = money.Convert(s.Amount, e.Multiplier, scale)
	}
	return out, nil
}

// Dues folds entries into requester's net balance against every other member.
// Positive means the other member owes requester; negative means requester
// owes them. Every id in seed other than requester starts at zero.
func Dues(requester string, seed []string, entries []Entry, scale int32) (map[string]decimal.Decimal, error) {
	dues := make(map[string]decimal.Decimal, len(seed))
	for _, id := range seed {
		if id != requester {
			dues[id] = decimal.Zero
		}
	}

	for _, e := range entries {
		amounts, err := converted(e, scale)
		if err != nil {
			return nil, err
		}
		if e.PayerID == requester {
			for i, s := range e.Splits {
				dues[s.MemberID] = dues[s.MemberID].Add(amounts[i])
			}
			continue
		}
		for i, s := range e.Splits {
			if s.MemberID == requester {
				dues[e.PayerID] = dues[e.PayerID].Sub(amounts[i])
				break
			}
		}
	}
	return dues, nil
}

// BalanceMatrix computes all pairwise balances. Every member in seed gets a
// zero entry against every other seeded member.
func BalanceMatrix(seed []string, entries []Entry, scale int32) (Matrix, error) {
	m := make(Matrix, len(seed))
	for _, a := range seed {
		for _, b := range seed {
			if a != b {
				m.add(a, b, decimal.Zero)
			}
		}
	}

	for _, e := range entries {
		amounts, err := converted(e, scale)
		if err != nil {
			return nil, err
		}
		for i, s := range e.Splits {
			m.add(e.PayerID, s.MemberID, amounts[i])
			m.add(s.MemberID, e.PayerID, amounts[i].Neg())
		}
	}
	return m, nil
}

// NetBalances sums each member's row, sorted by member id.
func NetBalances(m Matrix) []MemberBalance {
	out := make([]MemberBalance, 0, len(m))
	for id, row := range m {
		net := decimal.Zero
		for _, v := range row {
			net = net.Add(v)
		}
		out = append(out, MemberBalance{MemberID: id, NetBalance: net})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}

// SimplifyDebts suggests a small set of transfers that clears the given net
// balances, greedily matching the largest debts with the largest credits.
func SimplifyDebts(balances []MemberBalance) []DebtEdge {
	var creditors, debtors []MemberBalance
	for _, b := range balances {
		switch {
		case b.NetBalance.IsPositive():
			creditors = append(creditors, b)
		case b.NetBalance.IsNegative():
			debtors = append(debtors, MemberBalance{MemberID: b.MemberID, NetBalance: b.NetBalance.Neg()})
		}
	}
	byAmount := func(s []MemberBalance) {
		sort.Slice(s, func(i, j int) bool {
			if c := s[i].NetBalance.Cmp(s[j].NetBalance); c != 0 {
				return c > 0
			}
			return s[i].MemberID < s[j].MemberID
		})
	}
	byAmount(creditors)
	byAmount(debtors)

	var edges []DebtEdge
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := decimal.Min(debtors[i].NetBalance, creditors[j].NetBalance)
		if amount.IsPositive() {
			edges = append(edges, DebtEdge{From: debtors[i].MemberID, To: creditors[j].MemberID, Amount: amount})
		}
		debtors[i].NetBalance = debtors[i].NetBalance.Sub(amount)
		creditors[j].NetBalance = creditors[j].NetBalance.Sub(amount)
		if debtors[i].NetBalance.IsZero() {
			i++
		}
		if creditors[j].NetBalance.IsZero() {
			j++
		}
	}
	return edges
}
