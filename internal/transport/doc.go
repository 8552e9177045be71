// Package transport abstracts the persistent duplex connection to the
// transcription backend. Connections carry binary audio frames and UTF-8
// text control frames on one channel, distinguished at this layer. The
// production implementation is WebSocket; tests substitute in-memory fakes
// behind the same Dialer and Conn interfaces.
package transport
