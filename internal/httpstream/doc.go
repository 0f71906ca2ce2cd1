// Package httpstream implements an incremental HTTP/1.1 message parser for
// long-lived connections where requests and responses share one stream.
// Bytes are fed as they arrive from the socket and the parser stops exactly
// at the end of the current message.
package httpstream
