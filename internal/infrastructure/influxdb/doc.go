// Package influxdb provides the InfluxDB statistics sink for Linkkeeper.
//
// It wraps the official influxdb-client-go v2 library's batched write API.
//
// # Purpose
//
// Each diagnostics snapshot emitted by the supervisor is written as one
// "connectivity" point tagged with device_id. Link and session state
// changes are written as "transition" points.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteStats(deviceID, manager.Stats(), time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes, so the
// supervisor tick never waits on the network.
//
// # Error Handling
//
// Write operations are non-blocking. Batches the server rejects are passed
// to the SetOnError callback and counted; the next HealthCheck reports
// them as ErrWritesRejected even when the server still answers pings.
package influxdb
