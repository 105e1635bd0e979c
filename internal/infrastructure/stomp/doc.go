// Package stomp implements the subset of STOMP 1.2 spoken by the vendor's
// live feed, carried over a WebSocket (gorilla/websocket).
//
// Only CONNECT, CONNECTED, SUBSCRIBE, MESSAGE and ERROR frames are used,
// plus bare end-of-line heart-beats. Every heart-beat received is answered
// with a single "\n", and once CONNECTED negotiates a client interval a
// "\n" is also sent on that interval while the feed is busy.
//
// # Lifecycle
//
//	Disconnected ─Start─▶ Connecting ─dial ok, CONNECT sent─▶ AwaitingConnected
//	      ▲                                                          │
//	      └──────── socket closed / deadline expired ◀── Live ◀─CONNECTED
//
// A Client represents one connection. Reconnecting means creating a new
// Client; the session package owns that policy.
//
// # Usage
//
//	client := stomp.NewClient(stomp.OptionsFromConfig(cfg.Stomp), handler)
//	client.SetLogger(log)
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
package stomp
