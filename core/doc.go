// Package core contains the canonical protocol domain: identities,
// selectors, status state machines, the GateKeeper ledger authority, and
// the contracts every other package depends on. Router, integration, and
// storage adapters depend on core; core depends on none of them.
package core
