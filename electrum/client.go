package electrum

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// dialTimeout bounds the connection establishment.
	dialTimeout = 5 * time.Second

	// callTimeout bounds a single request/response round trip.
	callTimeout = 30 * time.Second

	// headersSubscribeMethod is the notification method of new block
	// headers.
	headersSubscribeMethod = "blockchain.headers.subscribe"
)

var (
	// ErrServerError is returned when the server answers a request with
	// an error object.
	ErrServerError = errors.New("electrum server error")

	// ErrBadResponse is returned when the server response cannot be
	// interpreted.
	ErrBadResponse = errors.New("unexpected electrum response")
)

// Client is a single-connection electrum protocol client. Calls are
// serialized; header notifications received between responses are queued and
// drained via PollHeader.
type Client struct {
	server Server
	conn   net.Conn
	reader *bufio.Reader

	nextID uint64

	// pendingHeaders queues header notifications read while waiting for
	// call responses.
	pendingHeaders []*Header
}

// Header is a block header notification.
type Header struct {
	// Height is the block height.
	Height int32

	// Time is the block timestamp.
	Time time.Time
}

// Dial connects to an electrum server. Tor servers are dialed as plain TCP
// under the assumption of a transparent proxy.
func Dial(ctx context.Context, server Server) (*Client, error) {
	dialer := net.Dialer{Timeout: dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", server.Addr())
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w",
			server, err)
	}

	if server.Security == SecurityTLS {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName: server.Host,
		})

		err := tlsConn.HandshakeContext(ctx)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s "+
				"failed: %w", server, err)
		}

		conn = tlsConn
	}

	log.Debugf("Connected to electrum server %s", server)

	return &Client{
		server: server,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

// Server returns the endpoint the client is connected to.
func (c *Client) Server() Server {
	return c.server
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// request is the wire form of an electrum JSON-RPC call.
type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// response is the wire form of an electrum JSON-RPC reply or notification.
type response struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// call performs one request/response round trip, decoding the result into
// out. Interleaved notifications are queued.
func (c *Client) call(ctx context.Context, method string, params []any,
	out any) error {

	deadline := time.Now().Add(callTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	err := c.conn.SetDeadline(deadline)
	if err != nil {
		return err
	}

	c.nextID++
	req := request{
		ID:     c.nextID,
		Method: method,
		Params: params,
	}
	if req.Params == nil {
		req.Params = []any{}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	_, err = c.conn.Write(payload)
	if err != nil {
		return fmt.Errorf("unable to send %s: %w", method, err)
	}

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("unable to read %s response: %w",
				method, err)
		}

		var resp response
		err = json.Unmarshal(bytes.TrimSpace(line), &resp)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadResponse, err)
		}

		// Queue interleaved notifications and keep waiting for our
		// reply.
		if resp.Method != "" {
			c.queueNotification(&resp)
			continue
		}

		if resp.ID != req.ID {
			return fmt.Errorf("%w: response id %d for request %d",
				ErrBadResponse, resp.ID, req.ID)
		}

		if len(resp.Error) != 0 && !bytes.Equal(resp.Error,
			[]byte("null")) {

			return fmt.Errorf("%w: %s: %s", ErrServerError,
				method, resp.Error)
		}

		if out == nil {
			return nil
		}

		return json.Unmarshal(resp.Result, out)
	}
}

// rawHeader is the wire form of a header subscription result.
type rawHeader struct {
	Height int32  `json:"height"`
	Hex    string `json:"hex"`
}

// decode parses the 80-byte header blob.
func (r *rawHeader) decode() (*Header, error) {
	blob, err := hex.DecodeString(r.Hex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad header hex: %v",
			ErrBadResponse, err)
	}

	var header wire.BlockHeader
	err = header.Deserialize(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: bad header blob: %v",
			ErrBadResponse, err)
	}

	return &Header{
		Height: r.Height,
		Time:   header.Timestamp.UTC(),
	}, nil
}

// queueNotification stores a header notification for PollHeader.
func (c *Client) queueNotification(resp *response) {
	if resp.Method != headersSubscribeMethod {
		log.Tracef("Ignoring notification %s", resp.Method)
		return
	}

	var raws []rawHeader
	err := json.Unmarshal(resp.Params, &raws)
	if err != nil {
		log.Warnf("Unable to decode header notification: %v", err)
		return
	}

	for _, raw := range raws {
		header, err := raw.decode()
		if err != nil {
			log.Warnf("Unable to decode header notification: %v",
				err)
			continue
		}

		c.pendingHeaders = append(c.pendingHeaders, header)
	}
}

// Ping keeps the connection alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "server.ping", nil, nil)
}

// Banner fetches the server banner.
func (c *Client) Banner(ctx context.Context) (string, error) {
	var banner string
	err := c.call(ctx, "server.banner", nil, &banner)

	return banner, err
}

// SubscribeHeaders subscribes to header notifications and returns the
// current chain tip.
func (c *Client) SubscribeHeaders(ctx context.Context) (*Header, error) {
	var raw rawHeader
	err := c.call(ctx, headersSubscribeMethod, nil, &raw)
	if err != nil {
		return nil, err
	}

	return raw.decode()
}

// PollHeader drains one queued header notification, reading from the
// connection without blocking beyond a short poll window. It returns nil
// when no notification is pending.
func (c *Client) PollHeader(ctx context.Context) (*Header, error) {
	if len(c.pendingHeaders) == 0 {
		// Give the connection a brief chance to deliver a pending
		// notification.
		err := c.conn.SetReadDeadline(
			time.Now().Add(50 * time.Millisecond),
		)
		if err != nil {
			return nil, err
		}

		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, nil
			}

			return nil, err
		}

		var resp response
		err = json.Unmarshal(bytes.TrimSpace(line), &resp)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		c.queueNotification(&resp)
	}

	if len(c.pendingHeaders) == 0 {
		return nil, nil
	}

	header := c.pendingHeaders[0]
	c.pendingHeaders = c.pendingHeaders[1:]

	return header, nil
}

// EstimateFee asks the server for a fee estimate targeting confirmation
// within the given number of blocks. The result is in BTC per kilobyte; a
// negative value means the server has no estimate.
func (c *Client) EstimateFee(ctx context.Context, target int) (
	float64, error) {

	var fee float64
	err := c.call(ctx, "blockchain.estimatefee", []any{target}, &fee)

	return fee, err
}

// HistoryItem is one confirmed or mempool transaction touching a script.
type HistoryItem struct {
	// TxHash is the transaction id.
	TxHash chainhash.Hash

	// Height is the confirmation height; zero or negative for mempool
	// transactions.
	Height int32

	// Fee is the mempool fee in satoshis, reported for unconfirmed
	// transactions only.
	Fee uint64
}

// rawHistoryItem is the wire form of a history entry.
type rawHistoryItem struct {
	TxHash string `json:"tx_hash"`
	Height int32  `json:"height"`
	Fee    uint64 `json:"fee"`
}

// GetHistory fetches the history of a scripthash.
func (c *Client) GetHistory(ctx context.Context, scripthash string) (
	[]HistoryItem, error) {

	var raws []rawHistoryItem
	err := c.call(
		ctx, "blockchain.scripthash.get_history",
		[]any{scripthash}, &raws,
	)
	if err != nil {
		return nil, err
	}

	items := make([]HistoryItem, 0, len(raws))
	for _, raw := range raws {
		hash, err := chainhash.NewHashFromStr(raw.TxHash)
		if err != nil {
			return nil, fmt.Errorf("%w: bad txid %q",
				ErrBadResponse, raw.TxHash)
		}

		items = append(items, HistoryItem{
			TxHash: *hash,
			Height: raw.Height,
			Fee:    raw.Fee,
		})
	}

	return items, nil
}

// UnspentItem is one unspent output of a script.
type UnspentItem struct {
	// TxHash is the funding transaction id.
	TxHash chainhash.Hash

	// Pos is the output index.
	Pos uint32

	// Height is the confirmation height; zero for mempool.
	Height int32

	// Value is the output value in satoshis.
	Value uint64
}

// rawUnspentItem is the wire form of an unspent output.
type rawUnspentItem struct {
	TxHash string `json:"tx_hash"`
	TxPos  uint32 `json:"tx_pos"`
	Height int32  `json:"height"`
	Value  uint64 `json:"value"`
}

// ListUnspent fetches the unspent outputs of a scripthash.
func (c *Client) ListUnspent(ctx context.Context, scripthash string) (
	[]UnspentItem, error) {

	var raws []rawUnspentItem
	err := c.call(
		ctx, "blockchain.scripthash.listunspent",
		[]any{scripthash}, &raws,
	)
	if err != nil {
		return nil, err
	}

	items := make([]UnspentItem, 0, len(raws))
	for _, raw := range raws {
		hash, err := chainhash.NewHashFromStr(raw.TxHash)
		if err != nil {
			return nil, fmt.Errorf("%w: bad txid %q",
				ErrBadResponse, raw.TxHash)
		}

		items = append(items, UnspentItem{
			TxHash: *hash,
			Pos:    raw.TxPos,
			Height: raw.Height,
			Value:  raw.Value,
		})
	}

	return items, nil
}

// GetTransaction fetches and decodes a raw transaction.
func (c *Client) GetTransaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	var rawHex string
	err := c.call(
		ctx, "blockchain.transaction.get",
		[]any{txid.String()}, &rawHex,
	)
	if err != nil {
		return nil, err
	}

	blob, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad transaction hex: %v",
			ErrBadResponse, err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	err = tx.Deserialize(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: bad transaction blob: %v",
			ErrBadResponse, err)
	}

	return tx, nil
}

// BlockHeader fetches the header at a height, for block time resolution.
func (c *Client) BlockHeader(ctx context.Context, height int32) (
	*Header, error) {

	var rawHex string
	err := c.call(
		ctx, "blockchain.block.header", []any{height}, &rawHex,
	)
	if err != nil {
		return nil, err
	}

	raw := rawHeader{Height: height, Hex: rawHex}

	return raw.decode()
}

// Broadcast submits a transaction to the network and returns its txid.
func (c *Client) Broadcast(ctx context.Context, tx *wire.MsgTx) (
	chainhash.Hash, error) {

	var buf bytes.Buffer
	err := tx.Serialize(&buf)
	if err != nil {
		return chainhash.Hash{}, err
	}

	var txidHex string
	err = c.call(
		ctx, "blockchain.transaction.broadcast",
		[]any{hex.EncodeToString(buf.Bytes())}, &txidHex,
	)
	if err != nil {
		return chainhash.Hash{}, err
	}

	txid, err := chainhash.NewHashFromStr(txidHex)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("%w: bad txid %q",
			ErrBadResponse, txidHex)
	}

	return *txid, nil
}
