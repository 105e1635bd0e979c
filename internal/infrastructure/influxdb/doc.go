// Package influxdb stores boiler parameter history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and a health check.
//
// # Measurements
//
//   - boiler_parameters: one point per numeric parameter update,
//     tagged with the device serial and parameter name
//   - boiler_connectivity: live feed connect/disconnect events
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteParameter("AB1234", "B_Tk1", "55.5", time.Now())
//
// Write errors are reported asynchronously through SetOnError.
package influxdb
