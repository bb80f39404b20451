// Package transport is the gateway's pub/sub boundary.
//
// A Transport subscribes to topics and publishes payloads. Every payload on
// the wire is framed with its sender's name:
//
//	┌────────────────┬────────────────┬─────────────────┐
//	│ sender_len (2B)│ sender (N B)   │ message         │
//	└────────────────┴────────────────┴─────────────────┘
//
// The gateway subscribes to its own name. Devices publish to it with their
// hex device id as sender; client applications publish with sender
// "for_Signature/<devid>" to request relay signing. Replies to a device go
// to topic "<devid>", relay output to "to_DS/<devid>" and "to_Client/<devid>".
//
// Broker returns an in-process Transport used by tests and the simulator;
// package mqtt binds a real broker.
package transport
