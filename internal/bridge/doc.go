// Package bridge mirrors web-boiler devices to MQTT.
//
// Every parameter update observed on the device collection is published
// retained to <prefix>/<serial>/parameter/<name>, so subscribers joining
// later see the last value. Values pushed by a device (not replays after
// a reconnect) are also written to the optional history store.
//
// # Topics
//
//	<prefix>/<serial>/info                  device attributes (retained)
//	<prefix>/<serial>/parameter/<name>      parameter value (retained)
//	<prefix>/bridge/connectivity            live feed online/offline (retained)
//	<prefix>/bridge/notification            portal notifications
//	<prefix>/<serial>/power/set             ON/OFF command
//	<prefix>/<serial>/circuit/<n>/set       ON/OFF command for heating circuit n
//	<prefix>/bridge/refresh                 ask all devices for fresh values
//
// Commands run in the background with a timeout derived from the bridge
// lifetime; Stop cancels and waits for them.
package bridge
