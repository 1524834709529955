// Package rates resolves the multiplier that converts amounts from a
// transaction currency into a group's base currency.
//
// A Resolver reads rate tables from a Cache and falls back to a Source.
// Source failures are not errors: the result is simply unresolved and
// callers store a null multiplier to be repaired later.
package rates
