// Package appfabric is an application-composition kernel for Go.
// It wires together long-lived service components, supervises their
// lifecycle, routes failures through a uniform error taxonomy, and
// provides a process-local publish/subscribe event fabric with history
// and queued delivery.
//
// The kernel is built from three cooperating subsystems:
//
//   - the component Container, a dependency-injected registry with
//     topological initialization and reverse-order shutdown,
//   - the EventBus, an in-process pub/sub with pattern subscriptions,
//     per-event history and optional queued delivery, owned by a thin
//     EventBusSystem facade,
//   - the Supervisor, which registers business modules built on
//     BaseModule, wires their inter-module references, orders their
//     lifecycle and polls their health.
//
// Every failure crossing a component boundary is an *Error carrying a
// stable prefixed code, an HTTP-like status hint, structured details and
// an optional cause chain. The ErrorSystem resolves kind-specific
// handlers for these errors and hosts framework integrations such as the
// chi HTTP adapter.
//
// Basic usage:
//
//	logger := appfabric.NewSlogLogger(slog.Default().Handler())
//	container := appfabric.NewContainer(logger)
//	container.RegisterFactory("errorSystem", func() (any, error) {
//		return appfabric.NewErrorSystem(logger), nil
//	})
//	container.RegisterComponent("eventBusSystem", busBuilder, []string{"errorSystem"})
//	container.RegisterComponent("supervisor", supervisorBuilder, []string{"errorSystem", "eventBusSystem"})
//	if err := container.Initialize(ctx); err != nil {
//		log.Fatal(err)
//	}
package appfabric
