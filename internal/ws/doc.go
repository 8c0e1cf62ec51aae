// Package ws streams metric batches to WebSocket subscribers.
//
// Every export cycle's batch is broadcast to all connected clients. The
// streamer implements export.Sink, so it plugs into the exporter the same
// way the HTTP push sink does. Slow clients are disconnected rather than
// allowed to apply backpressure to the export path.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - system: Connection greeting
//   - batch: One export batch of metric samples
//   - pong: Ping reply
//
// Example Usage:
//
//	streamer := ws.NewStreamer(log)
//	exporter.AddSink(streamer)
//	router.GET("/stream", streamer.HandleConnection)
package ws
