package ledger

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/groupledger/internal/calculator"
	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/money"
	"github.com/mmynk/groupledger/internal/storage"
)

// Balances is the all-pairs view of a group.
type Balances struct {
	GroupID      string
	BaseCurrency string
	Matrix       calculator.Matrix
	Net          []calculator.MemberBalance
	Suggested    []calculator.DebtEdge
}

// snapshot is everything the aggregator needs, read in one transaction.
type snapshot struct {
	group   *models.Group
	members []string
	txns    []models.Transaction
}

func (l *Ledger) readSnapshot(ctx context.Context, groupID, memberID string) (*snapshot, error) {
	var s snapshot
	err := l.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if s.group, err = liveGroup(ctx, tx, groupID); err != nil {
			return err
		}
		if _, err := activeMember(ctx, tx, groupID, memberID); err != nil {
			return err
		}
		if _, s.members, err = activeSet(ctx, tx, groupID); err != nil {
			return err
		}
		s.txns, err = tx.ListTransactions(ctx, groupID, models.TransactionFilter{})
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// entries determines each transaction's multiplier, resolving deferred ones
// on the way. It returns the multipliers it had to resolve so they can be
// persisted.
func (l *Ledger) entries(ctx context.Context, s *snapshot) ([]calculator.Entry, []storage.RateFill, error) {
	base := s.group.BaseCurrency
	out := make([]calculator.Entry, 0, len(s.txns))
	var repaired []storage.RateFill
	byCurrency := make(map[string]decimal.NullDecimal)

	for _, t := range s.txns {
		var multiplier decimal.Decimal
		switch {
		case t.ExchangeRate.Valid:
			multiplier = t.ExchangeRate.Decimal
		case !t.NeedsConversion(base):
			multiplier = one
		default:
			rate, ok := byCurrency[t.Currency]
			if !ok {
				var err error
				rate, err = l.resolver.Resolve(ctx, t.Currency, base)
				if err != nil {
					return nil, nil, err
				}
				byCurrency[t.Currency] = rate
			}
			if !rate.Valid {
				return nil, nil, &RateUnavailableError{TransactionID: t.ID, From: t.Currency, To: base}
			}
			multiplier = rate.Decimal
			repaired = append(repaired, storage.RateFill{TransactionID: t.ID, Currency: t.Currency, Base: base, Rate: multiplier})
		}
		out = append(out, calculator.Entry{
			TransactionID: t.ID,
			PayerID:       t.PayerID,
			Splits:        t.Splits,
			Multiplier:    multiplier,
		})
	}
	return out, repaired, nil
}

// persistRepaired stores lazily resolved multipliers. It never fails the
// caller: anything not stored is picked up by the next read or repair run.
// A fill whose transaction or group changed since the snapshot is skipped.
func (l *Ledger) persistRepaired(ctx context.Context, repaired []storage.RateFill) {
	if len(repaired) == 0 {
		return
	}
	filled := 0
	err := l.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, f := range repaired {
			ok, err := tx.FillExchangeRate(ctx, f)
			if err != nil {
				return err
			}
			if ok {
				filled++
			}
		}
		return nil
	})
	if err != nil {
		l.logger.Warn("failed to persist resolved exchange rates", "count", len(repaired), "error", err)
		return
	}
	l.metrics.repairedRates(filled)
}

func (l *Ledger) logIntegrity(groupID string, err error) {
	var ie *calculator.IntegrityError
	if errors.As(err, &ie) {
		l.logger.Error("ledger data integrity violation",
			"group_id", groupID,
			"transaction_id", ie.TransactionID,
			"member_id", ie.MemberID,
			"error", err,
		)
	}
}

// Dues is one member's balance against every other member, labelled with the
// base currency of the snapshot it was computed from.
type Dues struct {
	GroupID      string
	MemberID     string
	BaseCurrency string
	Amounts      map[string]decimal.Decimal
}

// ComputeDues returns memberID's net balance against every other member of
// the group, in the group's base currency. Positive means the other member
// owes memberID. memberID must be a current member; archived groups are
// readable.
func (l *Ledger) ComputeDues(ctx context.Context, groupID, memberID string) (map[string]decimal.Decimal, error) {
	d, err := l.MemberDues(ctx, groupID, memberID)
	if err != nil {
		return nil, err
	}
	return d.Amounts, nil
}

// MemberDues is ComputeDues with the base currency the amounts are in.
func (l *Ledger) MemberDues(ctx context.Context, groupID, memberID string) (_ *Dues, err error) {
	defer func() { l.metrics.observe("dues", err) }()

	s, err := l.readSnapshot(ctx, groupID, memberID)
	if err != nil {
		return nil, err
	}
	entries, repaired, err := l.entries(ctx, s)
	if err != nil {
		return nil, err
	}
	amounts, err := calculator.Dues(memberID, s.members, entries, money.Scale(s.group.BaseCurrency))
	if err != nil {
		l.logIntegrity(groupID, err)
		return nil, err
	}
	l.persistRepaired(ctx, repaired)
	return &Dues{
		GroupID:      s.group.ID,
		MemberID:     memberID,
		BaseCurrency: s.group.BaseCurrency,
		Amounts:      amounts,
	}, nil
}

// ComputeBalances returns the full pairwise matrix, each member's net
// position and a suggested set of transfers that would clear it.
func (l *Ledger) ComputeBalances(ctx context.Context, groupID, requester string) (_ *Balances, err error) {
	defer func() { l.metrics.observe("balances", err) }()

	s, err := l.readSnapshot(ctx, groupID, requester)
	if err != nil {
		return nil, err
	}
	entries, repaired, err := l.entries(ctx, s)
	if err != nil {
		return nil, err
	}
	m, err := calculator.BalanceMatrix(s.members, entries, money.Scale(s.group.BaseCurrency))
	if err != nil {
		l.logIntegrity(groupID, err)
		return nil, err
	}
	l.persistRepaired(ctx, repaired)

	net := calculator.NetBalances(m)
	return &Balances{
		GroupID:      groupID,
		BaseCurrency: s.group.BaseCurrency,
		Matrix:       m,
		Net:          net,
		Suggested:    calculator.SimplifyDebts(net),
	}, nil
}

// RepairResult summarizes a RepairDeferredRates run.
type RepairResult struct {
	Scanned  int
	Repaired int
	Pending  int
}

// RepairDeferredRates resolves and stores multipliers for transactions
// committed without one. An empty groupID repairs every live group.
func (l *Ledger) RepairDeferredRates(ctx context.Context, groupID string) (_ RepairResult, err error) {
	defer func() { l.metrics.observe("repair", err) }()

	var (
		pending []models.Transaction
		bases   = make(map[string]string)
	)
	err = l.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if pending, err = tx.ListDeferred(ctx, groupID); err != nil {
			return err
		}
		for _, t := range pending {
			if _, ok := bases[t.GroupID]; ok {
				continue
			}
			g, err := tx.GetGroup(ctx, t.GroupID)
			if err != nil {
				return err
			}
			bases[t.GroupID] = g.BaseCurrency
		}
		return nil
	})
	if err != nil {
		return RepairResult{}, translate(err)
	}

	result := RepairResult{Scanned: len(pending)}
	if len(pending) == 0 {
		return result, nil
	}

	type pair struct{ from, to string }
	rates := make(map[pair]decimal.NullDecimal)
	resolved := make(map[string]storage.RateFill)
	for _, t := range pending {
		base := bases[t.GroupID]
		fill := storage.RateFill{TransactionID: t.ID, Currency: t.Currency, Base: base, Rate: one}
		if !t.NeedsConversion(base) {
			resolved[t.ID] = fill
			continue
		}
		p := pair{t.Currency, base}
		rate, ok := rates[p]
		if !ok {
			rate, err = l.resolver.Resolve(ctx, t.Currency, base)
			if err != nil {
				return result, err
			}
			rates[p] = rate
		}
		if rate.Valid {
			fill.Rate = rate.Decimal
			resolved[t.ID] = fill
		}
	}

	ids := make([]string, 0, len(resolved))
	for id := range resolved {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	err = l.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, id := range ids {
			ok, err := tx.FillExchangeRate(ctx, resolved[id])
			if err != nil {
				return err
			}
			if ok {
				result.Repaired++
			}
		}
		return nil
	})
	if err != nil {
		return RepairResult{Scanned: result.Scanned, Pending: result.Scanned}, err
	}

	result.Pending = result.Scanned - len(resolved)
	l.metrics.repairedRates(result.Repaired)
	l.logger.Info("deferred rates repaired",
		"group_id", groupID,
		"scanned", result.Scanned,
		"repaired", result.Repaired,
		"pending", result.Pending,
	)
	return result, nil
}
