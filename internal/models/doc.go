// Package models defines the core domain models for the group ledger.
//
// # Models
//
//   - Group: a shared-expense group with a base currency
//   - Membership: one member's participation in a group (re-joining reactivates the row)
//   - Transaction: a ledger entry; payer, total, currency, optional multiplier and splits
//   - Split: one named member's share of a transaction
//   - RateTable: an exchange-rate table for one base currency, as cached by the resolver
//
// # Design Principles
//
// 1. **Exact money**: amounts are decimal.Decimal, never float64
// 2. **Nullable multiplier**: a transaction's ExchangeRate is a decimal.NullDecimal; invalid means
//    the rate lookup was deferred and must be resolved lazily
// 3. **Avoid circular references**: use ID strings instead of pointers for relationships
// 4. **Members are opaque ids**: identity management lives outside the ledger
package models
