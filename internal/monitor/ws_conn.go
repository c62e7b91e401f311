package monitor

import (
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// WSConn carries events over a websocket: protojson in text frames or
// proto in binary frames.
type WSConn struct {
	conn         *websocket.Conn
	useJSON      bool
	writeTimeout time.Duration
}

func NewWSConn(conn *websocket.Conn, useJSON bool) *WSConn {
	return &WSConn{
		conn:         conn,
		useJSON:      useJSON,
		writeTimeout: 5 * time.Second,
	}
}

// ReadEvent accepts either frame type whatever this side writes.
func (c *WSConn) ReadEvent() (*structpb.Struct, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg structpb.Struct
	switch messageType {
	case websocket.TextMessage:
		if err := protojson.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
	default:
		if err := proto.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

func (c *WSConn) WriteEvent(msg *structpb.Struct) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if c.useJSON {
		data, err := protojson.Marshal(msg)
		if err != nil {
			return err
		}
		return c.conn.WriteMessage(websocket.TextMessage, data)
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Discard reads and drops incoming frames until the peer goes away.
func (c *WSConn) Discard() {
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (c *WSConn) Close() error {
	return c.conn.Close()
}
