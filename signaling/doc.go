// Package signaling implements the encrypted rendezvous relay.
//
// A Server accepts WebSocket connections at "/?username=<name>", assigns
// each peer an id and sends it an encrypted welcome of the form
// "id¬<id>\n". Every text frame a peer sends afterwards is broadcast
// verbatim to every other peer. The server never decrypts relayed traffic;
// only the holders of the cipher key, printed by the hosting side, can read
// it.
//
// A Client encrypts outgoing messages with the shared key and decrypts
// incoming frames before handing them to a caller-supplied handler. Frames
// that do not decrypt are dropped.
//
// Higher layers exchange JSON Envelope messages over the relay to announce
// their UDP voice endpoints.
package signaling
