// Package bridge turns raw meter snapshots into the inverter value
// tree published downstream.
//
// Derive is the pure computation: nominal voltage, estimated phase
// currents, net production energy and its per-phase apportionment.
// Publisher drives it on a fixed cadence, writing every path each
// cycle and advancing the mod-256 update index that lets consumers
// detect a stalled bridge.
package bridge
