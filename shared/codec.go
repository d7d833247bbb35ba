package shared

import (
	"bufio"
	"io"
	"net/rpc"

	"github.com/vmihailenco/msgpack/v5"
)

type requestHeader struct {
	Method string `msgpack:"method"`
	Seq    uint64 `msgpack:"seq"`
}

type responseHeader struct {
	Method string `msgpack:"method"`
	Seq    uint64 `msgpack:"seq"`
	Error  string `msgpack:"error,omitempty"`
}

// clientCodec encodes net/rpc calls as a stream of msgpack values: header,
// then body.
type clientCodec struct {
	rwc io.ReadWriteCloser
	dec *msgpack.Decoder
	enc *msgpack.Encoder
	buf *bufio.Writer
}

// NewClientCodec returns an rpc.ClientCodec speaking msgpack over conn.
func NewClientCodec(conn io.ReadWriteCloser) rpc.ClientCodec {
	buf := bufio.NewWriter(conn)
	return &clientCodec{
		rwc: conn,
		dec: msgpack.NewDecoder(bufio.NewReader(conn)),
		enc: msgpack.NewEncoder(buf),
		buf: buf,
	}
}

func (c *clientCodec) WriteRequest(r *rpc.Request, body any) error {
	if err := c.enc.Encode(&requestHeader{Method: r.ServiceMethod, Seq: r.Seq}); err != nil {
		return err
	}
	if err := c.enc.Encode(body); err != nil {
		return err
	}
	return c.buf.Flush()
}

func (c *clientCodec) ReadResponseHeader(r *rpc.Response) error {
	var h responseHeader
	if err := c.dec.Decode(&h); err != nil {
		return err
	}
	r.ServiceMethod = h.Method
	r.Seq = h.Seq
	r.Error = h.Error
	return nil
}

func (c *clientCodec) ReadResponseBody(body any) error {
	if body == nil {
		return c.dec.Skip()
	}
	return c.dec.Decode(body)
}

func (c *clientCodec) Close() error {
	return c.rwc.Close()
}

// serverCodec is the server half of clientCodec.
type serverCodec struct {
	rwc    io.ReadWriteCloser
	dec    *msgpack.Decoder
	enc    *msgpack.Encoder
	buf    *bufio.Writer
	closed bool
}

// NewServerCodec returns an rpc.ServerCodec speaking msgpack over conn.
func NewServerCodec(conn io.ReadWriteCloser) rpc.ServerCodec {
	buf := bufio.NewWriter(conn)
	return &serverCodec{
		rwc: conn,
		dec: msgpack.NewDecoder(bufio.NewReader(conn)),
		enc: msgpack.NewEncoder(buf),
		buf: buf,
	}
}

func (c *serverCodec) ReadRequestHeader(r *rpc.Request) error {
	var h requestHeader
	if err := c.dec.Decode(&h); err != nil {
		return err
	}
	r.ServiceMethod = h.Method
	r.Seq = h.Seq
	return nil
}

func (c *serverCodec) ReadRequestBody(body any) error {
	if body == nil {
		return c.dec.Skip()
	}
	return c.dec.Decode(body)
}

func (c *serverCodec) WriteResponse(r *rpc.Response, body any) error {
	h := responseHeader{Method: r.ServiceMethod, Seq: r.Seq, Error: r.Error}
	if err := c.enc.Encode(&h); err != nil {
		c.Close()
		return err
	}
	if err := c.enc.Encode(body); err != nil {
		c.Close()
		return err
	}
	return c.buf.Flush()
}

func (c *serverCodec) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rwc.Close()
}
