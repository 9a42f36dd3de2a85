package loom

import (
	"encoding/json"
	"os"
)

// Message is a dispatch payload: a self-describing body plus optional
// out-of-band resources. Resources only travel between in-process endpoints;
// they are zeroed whenever a payload crosses an alias boundary and they
// never cross the wire.
type Message struct {
	Data  []byte
	Files []*os.File
}

func MessageFrom(data []byte) Message {
	return Message{Data: data}
}

// DataOnly returns a copy of the message with the out-of-band resources
// stripped.
func (m Message) DataOnly() Message {
	return Message{Data: m.Data}
}

// Serialize encodes a value into a message body.
func Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Deserialize decodes a message body into a pointer destination.
func Deserialize(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
