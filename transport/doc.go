// Package transport implements the direct peer-to-peer voice channel.
//
// # Wire Format
//
// A voice datagram is the compressed frame followed by an unsigned 64-bit
// little-endian sequence number:
//
//	+----------------------+------------------+
//	| payload (N bytes)    | sequence (8, LE) |
//	+----------------------+------------------+
//
// The single-byte datagram [1] is the readiness handshake. Each side sends
// it as soon as it connects; the first one received flips the transport to
// ready and is echoed once. Later single-byte datagrams, and anything else
// shorter than a sequence number, are discarded.
//
// # Receive Path
//
//	socket → DecodeVoicePacket → payload ++ volume → ReorderBuffer → Sink
//
// The receive loop runs on its own goroutine and wakes at least once per
// poll interval. After every wake-up the ReorderBuffer is drained into the
// sink in ascending sequence order once it holds more than one item.
//
// # NAT
//
// STUNClient discovers the public mapping of the bound socket so the
// address announced through signaling is reachable from outside the LAN.
//
//	pt := transport.NewPeerTransport(transport.DefaultConfig(), settings, queue, nil)
//	if err := pt.Bind(); err != nil {
//		return err
//	}
//	external, _ := pt.DiscoverExternalAddress(ctx, transport.NewSTUNClient())
//	// announce external, then:
//	err := pt.Connect(remote)
package transport
