// Package adapters provides glue code between the api contracts and the
// runtime: api.Executor, api.Control, api.Affinity and api.ContextFactory
// implementations, plus the handler-to-Task bridge hosts use to run
// request handlers and middleware chains on the runtime.
package adapters
