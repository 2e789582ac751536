// Package relay owns one live connection to the IRC-relay control socket.
//
// Ownership boundary:
// - transport lifecycle (dial, read loop, close)
// - serialized access to the dispatch core
// - thin request builders (say, join, names, whois, properties)
//
// Every Dispatcher touch runs on the client's loop goroutine, fed through
// a mailbox that never blocks the poster. Listeners and reply callbacks
// run on that goroutine and may call back into the Client.
package relay
