// Package aggregate maintains the trend_aggregates rollup table.
//
// The table is fully derived: one row per reporting period summarizing
// non-deleted pairing and bid line rows. Refresh replaces the scoped
// rows inside a single transaction (delete old, insert recomputed), so
// readers see either the previous snapshot or the new one, never a
// half-written mix. Refresh is expensive and meant to be invoked once
// per upload batch or on a schedule, not per record.
package aggregate
