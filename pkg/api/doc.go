// Package api serves the HTTP control surface and the websocket push
// channel.
//
// Every response carries the {ok, data, error} envelope. Validation
// problems map to 4xx, open breakers and not-ready states to 503, and
// unexpected failures to 5xx. The push channel mirrors the event bus
// to connected clients and greets each connection with a snapshot.
package api
