// Package device holds the in-memory model of a portal account's heating
// installations: the Collection of Devices and each Device's Parameters.
//
// The model is filled once from the portal's HTTP snapshot and then kept
// current by frames from the live feed. It is never persisted.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────────┐
//	│                            Collection                              │
//	│                                                                    │
//	│  snapshot (ingest.go)              live feed (realtime.go)         │
//	│  • ParseInstallations              • ParseRealTimeFrame            │
//	│  • ParseInstallationStatuses       • Routing (topics, sub ids)     │
//	│  • ParseParameterLists                                             │
//	│  • ParseGrid                                                       │
//	│            │                                  │                    │
//	│            ▼                                  ▼                    │
//	│   Device (serial) ──▶ Parameter (name) ──▶ subscribers             │
//	│                                                                    │
//	│   observers: func(*Device, *Parameter, initial bool)               │
//	└────────────────────────────────────────────────────────────────────┘
//
// # Notification Order
//
// A live update first notifies the parameter's own subscribers, then
// every collection observer with initial=false. NotifyAllUpdated replays
// the whole model with initial=true; it is called after every connect
// and disconnect so consumers can refresh availability.
//
// # Usage
//
//	coll := device.NewCollection(device.DefaultRouting())
//	coll.SetLogger(log)
//	coll.ParseInstallations(installations)
//	if err := coll.ParseInstallationStatuses(statuses); err != nil {
//	    return err
//	}
//	h := coll.Subscribe(func(d *device.Device, p *device.Parameter, initial bool) {
//	    fmt.Println(d.Serial(), p.Name(), p.Value())
//	})
//	defer coll.Unsubscribe(h)
//
// # Thread Safety
//
// Collection, Device and Parameter each guard their own state. Observers
// and subscribers are always invoked without any lock held and may call
// back into the model.
package device
