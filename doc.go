// Package skybridge bridges a flight simulator's UDP telemetry interface
// and the Touch Portal desktop UI.
//
// The bridge subscribes to simulator datarefs, evaluates RPN formulas over
// their values, and pushes the results to the UI as dynamic states. In the
// other direction it relays button presses as simulator commands, scalar
// dataref writes, and allow-listed long-press command pairs.
//
// # Architecture
//
//	┌─────────────┐   TCP line-JSON   ┌─────────┐   UDP RREF/DREF/CMND   ┌───────────┐
//	│ Touch Portal│ ◄───────────────► │ engine  │ ◄────────────────────► │ simulator │
//	│  (desktop)  │   touchportal     │         │   xplane session       │           │
//	└─────────────┘                   └─────────┘                        └───────────┘
//
// Packages:
//   - catalog: the declarative definition document (pages, states,
//     long-press allow-list), loaded atomically
//   - formula: RPN formula parsing and evaluation
//   - codec: state value formatting (int/float/bool type specs)
//   - dataref: the channel registry with rounding debounce and
//     subscription reference counting
//   - xplane: beacon discovery, the UDP wire codec, the telemetry
//     session, and the connection supervisor
//   - touchportal: the UI client
//   - longpress: guarded begin/end command relay
//   - engine: the glue reacting to UI events and telemetry changes
//   - mirror: optional NATS mirror of state updates and session phases
//   - metric: Prometheus registration and the /metrics listener
//
// The cmd/skybridge binary assembles everything from a JSON configuration
// file (config package) and runs until the UI or a signal asks it to stop.
package skybridge
