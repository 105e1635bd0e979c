// Package mqtt provides MQTT client connectivity for the web-boiler bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - The bridge topic layout (Topics) and command topic parsing
//
// # Architecture
//
// The bridge mirrors every boiler parameter to a retained topic and
// accepts power commands, so home automation systems can use the boilers
// without speaking the portal's protocols.
//
//	web-boiler portal ↔ bridge ↔ MQTT broker ↔ home automation
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not local
//   - Anyone allowed to publish on <prefix>/+/power/set can switch boilers;
//     restrict it with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllPowerSet(), 1,
//	    func(topic string, payload []byte) error {
//	        cmd, ok := topics.ParseCommand(topic)
//	        ...
//	    })
//
//	client.PublishRetained(topics.Parameter("AB1234", "B_Tk1"), []byte(`{"value":55}`))
package mqtt
