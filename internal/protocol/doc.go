// Package protocol tags ModAPI messages with packet ids and wraps them in
// JSON envelopes.
//
// A Registry binds every message type to one packet id. It is assembled with
// a Builder during startup and frozen before use. A Codec then turns
// messages into envelopes of the form
//
//	{"balance":100,"packet_id":"player_currency","request_id":7}
//
// and back. The message schemas live in the schema subpackage.
package protocol
