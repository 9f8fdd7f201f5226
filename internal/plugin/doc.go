// Package plugin hosts external target providers. A provider
// contributes targets the built-in scanner cannot see and supplies the
// commands that run them.
//
// Four backends are supported: Lua scripts (*.lua), JavaScript files
// (*.js), WebAssembly modules (*.wasm), and native shared objects
// (*.so). Script and WASM providers speak a JSON wire protocol; the
// lenient decoder in wire.go tolerates the loose typing scripts tend
// to produce.
//
// Providers are discovered across three tiers with first-tier name
// shadowing, and every provider failure is downgraded to a warning: a
// broken plugin never takes down a run.
package plugin
