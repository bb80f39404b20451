// Package dispatch routes inbound Utim commands to their handlers.
//
// A Pipeline takes one transport message at a time through these steps:
//
//  1. Client relay requests (sender "for_Signature/<devid>") are signed with
//     the device's session key and forwarded to "to_DS/<devid>".
//  2. The sender must be a registered device (ErrUnknownDevice).
//  3. Secured frames are verified and decrypted with the device's session
//     key (envelope.ErrCrypto).
//  4. Commands that require a secured frame but arrived plain, and tags
//     without a handler, go to the cleanup handler (ErrUnrecognized).
//  5. The device's status must allow the command (*StateError).
//  6. The handler runs, replying through the Sink.
//
// Every failure drops the single message and is returned to the caller; it
// never affects other devices. Handlers reply with a short ERROR diagnostic
// where the device expects one.
//
// # Phases
//
//	HELLO              any status
//	CHECK              SRP
//	TRUSTED, VERIFIED  SRP, TESTING, CONFIGURING, DONE, NO_CONFIG
//	CONNECTION_STRING  SRP, TESTING
//	SIGNED             SRP, TESTING, CONFIGURING, DONE, NO_CONFIG
//	KEEPALIVE_ANSWER   CONFIGURING, DONE, NO_CONFIG
//
// # Outbound
//
// Replies leave as Outbound values. A Sealer applies the envelope: TRY and
// INIT travel plain, everything else addressed to a device is encrypted and
// signed with its session key when one exists.
package dispatch
