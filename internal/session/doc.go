// Package session drives one web-boiler portal account.
//
// A Controller owns the portal HTTP client and the device collection, and
// manages the lifecycle of the live feed connection on top of them.
//
// Features:
//   - Login, relogin and the concurrent HTTP snapshot (GetConfiguration)
//   - Live feed start/close with one fresh transport per connection
//   - Subscription of the notification queue and every device topic on connect
//   - Automatic reconnect with exponential backoff, jitter and an attempt cap
//   - Refresh and power control commands
//
// Lifecycle:
//
//	Login ─▶ GetConfiguration ─▶ StartWebsocket ─▶ (connected ⇄ disconnected) ─▶ CloseWebsocket
//
// On every connect and disconnect the connectivity callback runs first,
// then the whole model is replayed to observers with initial=true.
//
// Example usage:
//
//	ctrl := session.New(client, routing,
//	    session.StompTransport(stomp.OptionsFromConfig(cfg.Stomp), log),
//	    opts)
//	if err := ctrl.Login(ctx); err != nil {
//	    return err
//	}
//	if ok, err := ctrl.GetConfiguration(ctx); err != nil || !ok {
//	    return err
//	}
//	err := ctrl.StartWebsocket(ctx, func(d *device.Device, p *device.Parameter, initial bool) {
//	    fmt.Println(d.Serial(), p.Name(), p.Value())
//	}, true)
//	defer ctrl.Close()
package session
