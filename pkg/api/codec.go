package api

import "encoding/json"

// JSONCodec marshals API messages as JSON. Control-plane traffic is tiny,
// so wire compactness matters less than keeping the message structs plain.
type JSONCodec struct{}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string {
	return "json"
}
