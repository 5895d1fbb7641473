// Package feesaga provides the saga engine used to compute transaction fees.
//
// A saga is an ordered set of actions that can fail. The engine records the
// output of every completed action in a journal so that a saga invocation
// that failed part way through can be re-invoked with the same saga ID and
// resume where it stopped: completed actions are replayed from the journal
// instead of being executed again. The engine does not compensate completed
// actions when a later action fails.
//
// # Overview
//
//  1. Define your saga actions as functions and package them with
//     `NewActionFunc`.
//  2. Create an `ActionRegistry` with `NewActionRegistry`. Actions appended
//     through a `DagBuilder` are registered automatically.
//  3. Construct the saga DAG with `NewDagBuilder`, `Append` and `Build`, then
//     wrap it with `NewSagaDag`.
//  4. Pick a `Store` implementation (`NewMemoryStore`, `NewFileStore`).
//  5. Use `LoadExecutor` to create a fresh executor or restore one from the
//     journal, then call `Execute`.
//  6. Read action outputs with `LookupOutput`.
//
// The fee pipeline itself lives in the workflow package; the fee arithmetic,
// compliance rules, retry bookkeeping and cross-workflow transport live in
// the fee, compliance, retry and gateway packages.
package feesaga
