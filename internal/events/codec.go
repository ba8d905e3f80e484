// Package events delivers ledger events to downstream consumers: the audit
// log, an in-memory recorder, Redis, RabbitMQ and websocket subscribers.
package events

import (
	jsoniter "github.com/json-iterator/go"

	"PoE-Chain/internal/claims"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode 将事件编码为 JSON。
func Encode(event claims.Event) ([]byte, error) {
	return json.Marshal(event)
}

// Decode 从 JSON 解码事件。
func Decode(data []byte) (claims.Event, error) {
	var event claims.Event
	if !jsoniter.ConfigFastest.Valid(data) {
		return event, errInvalidPayload
	}
	err := json.Unmarshal(data, &event)
	return event, err
}
