package gateway

import (
	"compress/zlib"
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"nhooyr.io/websocket"
)

// readPayload reads one JSON payload from conn into dst, transparently
// inflating zlib-stream compressed (binary) frames, grounded on
// wrapper/internal/socket/socket.go's Read.
func readPayload(ctx context.Context, conn *websocket.Conn, dst *Payload) error {
	messageType, reader, err := conn.Reader(ctx)
	if err != nil {
		return err
	}

	switch messageType {
	case websocket.MessageText:
		dec := json.NewDecoder(reader)

		if err := dec.Decode(dst); err != nil {
			return fmt.Errorf("gateway: decoding text payload: %w", err)
		}

	case websocket.MessageBinary:
		zr, err := zlib.NewReader(reader)
		if err != nil {
			return fmt.Errorf("gateway: opening zlib-stream reader: %w", err)
		}
		defer zr.Close()

		dec := json.NewDecoder(zr)

		if err := dec.Decode(dst); err != nil {
			return fmt.Errorf("gateway: decoding zlib-stream payload: %w", err)
		}

	default:
		return fmt.Errorf("gateway: unexpected websocket message type %v", messageType)
	}

	return nil
}

// writePayload JSON-encodes v as the payload's d field and sends it as a
// text frame.
func writePayload(ctx context.Context, conn *websocket.Conn, op Opcode, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway: marshalling outbound payload: %w", err)
	}

	return conn.Write(ctx, websocket.MessageText, mustMarshalEnvelope(op, raw))
}

func mustMarshalEnvelope(op Opcode, d json.RawMessage) []byte {
	b, _ := json.Marshal(Payload{Op: op, D: d})

	return b
}
