// Package engine wires the reliability components into a single
// injectable instance: one shared execution history feeding the
// adaptive timeout manager and the flakiness analyzer, one circuit
// breaker gating the retry decision engine, and one concurrent
// executor running batches against all of them.
//
// Multiple engines are fully isolated; nothing is process-global.
// Tests can construct an engine with a mock clock and a static
// environment sampler and drive it deterministically.
//
// Basic usage:
//
//	eng := engine.New(engine.DefaultConfig(),
//		engine.WithLogger(logger),
//		engine.WithRegisterer(prometheus.DefaultRegisterer))
//	defer eng.Close()
//
//	batch, err := eng.ExecuteAll(ctx, tasks)
//	report := eng.Analyze("login")
//	state := eng.CircuitState("login")
//
// Configuration can come from engine.DefaultConfig with field
// overrides, or from the config package which layers YAML files and
// FLAKEGUARD_* environment variables on top of the defaults.
package engine
