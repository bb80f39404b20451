// Package wire defines the Utim command wire format.
//
// Every command payload is one or more TLV elements (see package tlv). The
// tag of the first element identifies the command. The numeric tag values
// are fixed by deployed device firmware and must never change.
//
// # Packets
//
// Gateway replies are built with the Assemble* helpers:
//   - TRY: TRY_FIRST(salt) followed by TRY_SECOND(B)
//   - INIT: INIT(HAMK)
//   - AUTHENTIC, ERROR(diagnostic), TEST_PLATFORM_DATA(nonce)
//   - SIGNED(message) followed by SIGNATURE(mac) for relayed messages
//   - KEEPALIVE, which is the bare tag byte without length or value
//
// # Device identity
//
// Devices are identified by a fixed-size binary id. On the transport the id
// travels as lowercase hex, which is also the reply topic for that device.
package wire
