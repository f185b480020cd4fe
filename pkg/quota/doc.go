// Package quota tracks metered feature balances per subscription.
//
// Each consumable feature on a plan seeds one Entry at subscribe time with
// the full allotment available. Consume is the only mutation: it withdraws
// atomically and fails softly (false, nil) when the balance cannot cover the
// request, because insufficient quota is an expected business outcome.
//
// Three Store implementations ship with the package: an in-memory store for
// tests, a PostgreSQL store whose Consume is a single conditional UPDATE,
// and a Redis store using WATCH-based optimistic concurrency with a bounded
// retry budget (ErrConcurrentUpdate after three contended attempts).
package quota
