package protocol

import (
	"encoding/gob"
	"io"
)

func init() {
	gob.Register(&HaveFullSet{})
	gob.Register(&Announce{})
	gob.Register(&NeedSet{})
	gob.Register(&SetResponse{})
}

// StreamCodec frames messages on a long-lived stream. It keeps one
// encoder/decoder pair for the life of the stream, so type information
// crosses the wire once and the decoder never over-reads past a
// message boundary.
type StreamCodec struct {
	enc *gob.Encoder
	dec *gob.Decoder
}

func NewStreamCodec(rw io.ReadWriter) *StreamCodec {
	return &StreamCodec{
		enc: gob.NewEncoder(rw),
		dec: gob.NewDecoder(rw),
	}
}

func (c *StreamCodec) Encode(msg Message) error {
	return c.enc.Encode(&msg)
}

func (c *StreamCodec) Decode() (Message, error) {
	var msg Message
	if err := c.dec.Decode(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}
