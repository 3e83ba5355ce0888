// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/kiirocoin/kiirowallet/netparams"
)

const (
	// protocolVersion is the ElectrumX protocol version spoken by the
	// client.
	protocolVersion = "1.4"

	// clientName identifies the wallet to ElectrumX servers.
	clientName = "kiirowallet/0.1.0"

	// callTimeout is the maximum time to wait for a server response to a
	// single request.
	callTimeout = 30 * time.Second

	// defaultReconnectBackoff is the delay between connection attempts
	// when the server connection is lost.
	defaultReconnectBackoff = 5 * time.Second

	// defaultPingInterval is how often a server.ping request is sent on
	// an otherwise idle connection.  ElectrumX drops sessions that stay
	// silent for too long, taking the subscription stream with them.
	defaultPingInterval = time.Minute
)

// ErrClientShutdown is returned by calls made on a stopped client.
var ErrClientShutdown = errors.New("electrum client shutdown")

// ElectrumConfig describes the connection to a single ElectrumX server.
type ElectrumConfig struct {
	// Server is the host:port of the ElectrumX server.
	Server string

	// TLS dictates whether the connection uses TLS.  TLSConfig may be nil,
	// in which case certificate verification is skipped: Electrum servers
	// almost universally present self-signed certificates.
	TLS       bool
	TLSConfig *tls.Config

	// Params identifies the network the server is expected to serve.
	Params *netparams.Params

	// ReconnectBackoff overrides the delay between reconnection attempts.
	ReconnectBackoff time.Duration

	// PingInterval overrides the keepalive request interval.
	PingInterval time.Duration
}

// ElectrumClient maintains a persistent connection to an ElectrumX server,
// speaking newline-delimited JSON-RPC.  Server notifications for subscribed
// headers and script hashes are delivered through the Notifications channel.
// The connection is reestablished automatically, replaying all subscriptions
// and announcing the reconnect with a ClientConnected notification.
type ElectrumClient struct {
	started int32 // atomic
	stopped int32 // atomic

	cfg ElectrumConfig

	connMtx sync.Mutex
	conn    net.Conn

	requestID uint64 // atomic

	pendingMtx sync.Mutex
	pending    map[uint64]chan *electrumResponse

	subMtx sync.Mutex
	subs   map[string]struct{}

	bestMtx    sync.Mutex
	bestHeight int32
	bestHeader []byte

	notificationQueue *ConcurrentQueue

	disconnected chan struct{}
	quit         chan struct{}
	wg           sync.WaitGroup
}

type electrumRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type electrumResponse struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// NewElectrumClient creates a client for the configured server.  The
// connection is not established until Start.
func NewElectrumClient(cfg *ElectrumConfig) *ElectrumClient {
	backoff := cfg.ReconnectBackoff
	if backoff == 0 {
		backoff = defaultReconnectBackoff
	}
	pingInterval := cfg.PingInterval
	if pingInterval == 0 {
		pingInterval = defaultPingInterval
	}
	c := &ElectrumClient{
		cfg:               *cfg,
		pending:           make(map[uint64]chan *electrumResponse),
		subs:              make(map[string]struct{}),
		bestHeight:        -1,
		notificationQueue: NewConcurrentQueue(20),
		disconnected:      make(chan struct{}, 1),
		quit:              make(chan struct{}),
	}
	c.cfg.ReconnectBackoff = backoff
	c.cfg.PingInterval = pingInterval
	return c
}

// BackEnd returns the name of the driver.
func (c *ElectrumClient) BackEnd() string {
	return "electrum"
}

// Start establishes the server connection, performs the protocol handshake
// and subscribes to chain tip announcements.  A goroutine reestablishing
// lost connections is started.
func (c *ElectrumClient) Start() error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return nil
	}

	c.notificationQueue.Start()
	if err := c.connect(); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.reconnectHandler()

	c.wg.Add(1)
	go c.pinger()
	return nil
}

// pinger keeps the connection alive with periodic server.ping requests, as
// the server ends sessions that stay idle between notifications.
func (c *ElectrumClient) pinger() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.call("server.ping", nil, nil); err != nil {
				log.Debugf("Keepalive ping failed: %v", err)
			}
		case <-c.quit:
			return
		}
	}
}

// Stop disconnects from the server and shuts down all goroutines.
func (c *ElectrumClient) Stop() {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return
	}
	close(c.quit)

	c.connMtx.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMtx.Unlock()

	c.notificationQueue.Stop()
}

// WaitForShutdown blocks until all client goroutines have finished.
func (c *ElectrumClient) WaitForShutdown() {
	c.wg.Wait()
}

// Notifications returns a channel of parsed notifications.
func (c *ElectrumClient) Notifications() <-chan interface{} {
	return c.notificationQueue.ChanOut()
}

// dial opens the TCP or TLS connection to the configured server.
func (c *ElectrumClient) dial() (net.Conn, error) {
	if !c.cfg.TLS {
		return net.DialTimeout("tcp", c.cfg.Server, callTimeout)
	}
	tlsConfig := c.cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}
	dialer := &net.Dialer{Timeout: callTimeout}
	return tls.DialWithDialer(dialer, "tcp", c.cfg.Server, tlsConfig)
}

// connect dials the server, starts the read loop and performs the version
// handshake, initial tip subscription and script hash resubscriptions.
func (c *ElectrumClient) connect() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.connMtx.Lock()
	c.conn = conn
	c.connMtx.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn)

	software, protocol, err := c.serverVersion()
	if err != nil {
		conn.Close()
		return err
	}
	log.Infof("Connected to ElectrumX server %s (%s, protocol %s)",
		c.cfg.Server, software, protocol)

	height, header, err := c.headersSubscribe()
	if err != nil {
		conn.Close()
		return err
	}
	c.setBestBlock(height, header)

	// Replay script hash subscriptions from before the disconnect.
	c.subMtx.Lock()
	subs := make([]string, 0, len(c.subs))
	for sh := range c.subs {
		subs = append(subs, sh)
	}
	c.subMtx.Unlock()
	for _, sh := range subs {
		if _, err := c.SubscribeScriptHash(sh); err != nil {
			conn.Close()
			return err
		}
	}

	select {
	case c.notificationQueue.ChanIn() <- ClientConnected{}:
	case <-c.quit:
	}
	return nil
}

// reconnectHandler reestablishes the server connection whenever the read
// loop reports a disconnect.
func (c *ElectrumClient) reconnectHandler() {
	defer c.wg.Done()

	for {
		select {
		case <-c.disconnected:
		case <-c.quit:
			return
		}

		for {
			select {
			case <-c.quit:
				return
			case <-time.After(c.cfg.ReconnectBackoff):
			}
			err := c.connect()
			if err == nil {
				break
			}
			log.Errorf("Failed to reconnect to %s: %v",
				c.cfg.Server, err)
		}
	}
}

// readLoop reads server messages line by line, routing responses to their
// pending calls and notifications to the notification queue.
func (c *ElectrumClient) readLoop(conn net.Conn) {
	defer c.wg.Done()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			conn.Close()
			c.failPending()
			select {
			case <-c.quit:
			default:
				log.Warnf("Lost connection to ElectrumX server "+
					"%s: %v", c.cfg.Server, err)
				select {
				case c.disconnected <- struct{}{}:
				default:
				}
			}
			return
		}

		var resp electrumResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Errorf("Failed to decode server message: %v", err)
			continue
		}

		if resp.ID != nil {
			c.pendingMtx.Lock()
			ch, ok := c.pending[*resp.ID]
			delete(c.pending, *resp.ID)
			c.pendingMtx.Unlock()
			if ok {
				ch <- &resp
			}
			continue
		}
		c.handleNotification(&resp)
	}
}

// failPending unblocks all calls waiting on the lost connection.
func (c *ElectrumClient) failPending() {
	c.pendingMtx.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.pendingMtx.Unlock()
}

// handleNotification parses a server notification and pushes it to the
// notification queue.
func (c *ElectrumClient) handleNotification(resp *electrumResponse) {
	switch resp.Method {
	case "blockchain.headers.subscribe":
		var params []struct {
			Height int32  `json:"height"`
			Hex    string `json:"hex"`
		}
		if err := json.Unmarshal(resp.Params, &params); err != nil ||
			len(params) == 0 {

			log.Errorf("Malformed headers notification: %v", err)
			return
		}
		header, err := hex.DecodeString(params[0].Hex)
		if err != nil {
			log.Errorf("Malformed header hex in notification: %v", err)
			return
		}
		c.setBestBlock(params[0].Height, header)
		select {
		case c.notificationQueue.ChanIn() <- HeaderConnected{
			Height:    params[0].Height,
			RawHeader: header,
		}:
		case <-c.quit:
		}

	case "blockchain.scripthash.subscribe":
		var params []string
		if err := json.Unmarshal(resp.Params, &params); err != nil ||
			len(params) < 2 {

			log.Errorf("Malformed scripthash notification: %v", err)
			return
		}
		select {
		case c.notificationQueue.ChanIn() <- ScriptHashChanged{
			ScriptHash: params[0],
			Status:     params[1],
		}:
		case <-c.quit:
		}

	default:
		log.Warnf("Received unexpected notification method %q",
			resp.Method)
	}
}

// call performs a single JSON-RPC request, unmarshalling the result into
// result when it is non-nil.
func (c *ElectrumClient) call(method string, params []interface{},
	result interface{}) error {

	if params == nil {
		params = []interface{}{}
	}
	id := atomic.AddUint64(&c.requestID, 1)
	req := electrumRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	payload, err := json.Marshal(&req)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	ch := make(chan *electrumResponse, 1)
	c.pendingMtx.Lock()
	c.pending[id] = ch
	c.pendingMtx.Unlock()

	c.connMtx.Lock()
	conn := c.conn
	c.connMtx.Unlock()
	if conn == nil {
		c.removePending(id)
		return ErrClientShutdown
	}
	if _, err := conn.Write(payload); err != nil {
		c.removePending(id)
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return errors.New("connection lost awaiting response")
		}
		if len(resp.Error) != 0 && string(resp.Error) != "null" {
			return fmt.Errorf("server error for %s: %s", method,
				resp.Error)
		}
		if result != nil {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	case <-time.After(callTimeout):
		c.removePending(id)
		return fmt.Errorf("timeout awaiting %s response", method)
	case <-c.quit:
		c.removePending(id)
		return ErrClientShutdown
	}
}

func (c *ElectrumClient) removePending(id uint64) {
	c.pendingMtx.Lock()
	delete(c.pending, id)
	c.pendingMtx.Unlock()
}

// serverVersion performs the protocol handshake.
func (c *ElectrumClient) serverVersion() (string, string, error) {
	var result []string
	err := c.call("server.version",
		[]interface{}{clientName, protocolVersion}, &result)
	if err != nil {
		return "", "", err
	}
	if len(result) != 2 {
		return "", "", errors.New("malformed server.version result")
	}
	return result[0], result[1], nil
}

// headersSubscribe subscribes to chain tip announcements and returns the
// current tip.
func (c *ElectrumClient) headersSubscribe() (int32, []byte, error) {
	var result struct {
		Height int32  `json:"height"`
		Hex    string `json:"hex"`
	}
	err := c.call("blockchain.headers.subscribe", nil, &result)
	if err != nil {
		return 0, nil, err
	}
	header, err := hex.DecodeString(result.Hex)
	if err != nil {
		return 0, nil, err
	}
	return result.Height, header, nil
}

func (c *ElectrumClient) setBestBlock(height int32, header []byte) {
	c.bestMtx.Lock()
	if height >= c.bestHeight {
		c.bestHeight = height
		c.bestHeader = header
	}
	c.bestMtx.Unlock()
}

// BestBlock returns the height and raw header of the current chain tip as
// announced by the server.
func (c *ElectrumClient) BestBlock() (int32, []byte, error) {
	c.bestMtx.Lock()
	height, header := c.bestHeight, c.bestHeader
	c.bestMtx.Unlock()
	if height < 0 {
		return 0, nil, errors.New("no chain tip received yet")
	}
	return height, header, nil
}

// GetHeader fetches the raw header at the given height.
func (c *ElectrumClient) GetHeader(height int32) ([]byte, error) {
	var hexHeader string
	err := c.call("blockchain.block.header",
		[]interface{}{height}, &hexHeader)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(hexHeader)
}

// SubscribeScriptHash subscribes to history status changes of a script hash
// and returns its current status.  An empty status means the script hash has
// no history.
func (c *ElectrumClient) SubscribeScriptHash(scriptHash string) (string, error) {
	var status *string
	err := c.call("blockchain.scripthash.subscribe",
		[]interface{}{scriptHash}, &status)
	if err != nil {
		return "", err
	}

	c.subMtx.Lock()
	c.subs[scriptHash] = struct{}{}
	c.subMtx.Unlock()

	if status == nil {
		return "", nil
	}
	return *status, nil
}

// ScriptHashHistory fetches the confirmed and mempool history of a script
// hash.
func (c *ElectrumClient) ScriptHashHistory(scriptHash string) ([]HistoryItem, error) {
	var result []struct {
		TxHash string `json:"tx_hash"`
		Height int32  `json:"height"`
		Fee    int64  `json:"fee"`
	}
	err := c.call("blockchain.scripthash.get_history",
		[]interface{}{scriptHash}, &result)
	if err != nil {
		return nil, err
	}
	items := make([]HistoryItem, 0, len(result))
	for _, r := range result {
		txHash, err := chainhash.NewHashFromStr(r.TxHash)
		if err != nil {
			return nil, err
		}
		items = append(items, HistoryItem{
			TxHash: *txHash,
			Height: r.Height,
			Fee:    r.Fee,
		})
	}
	return items, nil
}

// ScriptHashUnspent fetches the unspent outputs of a script hash.
func (c *ElectrumClient) ScriptHashUnspent(scriptHash string) ([]UnspentItem, error) {
	var result []struct {
		TxHash string `json:"tx_hash"`
		TxPos  uint32 `json:"tx_pos"`
		Height int32  `json:"height"`
		Value  int64  `json:"value"`
	}
	err := c.call("blockchain.scripthash.listunspent",
		[]interface{}{scriptHash}, &result)
	if err != nil {
		return nil, err
	}
	items := make([]UnspentItem, 0, len(result))
	for _, r := range result {
		txHash, err := chainhash.NewHashFromStr(r.TxHash)
		if err != nil {
			return nil, err
		}
		items = append(items, UnspentItem{
			TxHash: *txHash,
			Index:  r.TxPos,
			Height: r.Height,
			Value:  r.Value,
		})
	}
	return items, nil
}

// GetTransaction fetches a raw transaction by hash.
func (c *ElectrumClient) GetTransaction(txHash *chainhash.Hash) ([]byte, error) {
	var hexTx string
	err := c.call("blockchain.transaction.get",
		[]interface{}{txHash.String()}, &hexTx)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(hexTx)
}

// SendRawTransaction broadcasts a transaction, returning its hash.
func (c *ElectrumClient) SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	var txidStr string
	err := c.call("blockchain.transaction.broadcast",
		[]interface{}{hex.EncodeToString(buf.Bytes())}, &txidStr)
	if err != nil {
		return nil, err
	}
	txHash, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return nil, err
	}
	// The server echoes the transaction hash on acceptance.
	want := tx.TxHash()
	if *txHash != want {
		return nil, fmt.Errorf("server reported txid %v, expected %v",
			txHash, &want)
	}
	return txHash, nil
}

// BroadcastRawTransaction broadcasts an already serialized transaction.  No
// hash check is performed against the server's response, allowing special
// transaction types which carry an extra payload after the standard
// serialization.
func (c *ElectrumClient) BroadcastRawTransaction(rawTx []byte) (*chainhash.Hash, error) {
	var txidStr string
	err := c.call("blockchain.transaction.broadcast",
		[]interface{}{hex.EncodeToString(rawTx)}, &txidStr)
	if err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(txidStr)
}

// RelayFee returns the server's minimum relay fee in coins per kilobyte.
func (c *ElectrumClient) RelayFee() (float64, error) {
	var fee float64
	err := c.call("blockchain.relayfee", nil, &fee)
	return fee, err
}

// EstimateFee returns the estimated fee in coins per kilobyte for
// confirmation within the given number of blocks.  -1 is returned when the
// server cannot provide an estimate.
func (c *ElectrumClient) EstimateFee(target int) (float64, error) {
	var fee float64
	err := c.call("blockchain.estimatefee", []interface{}{target}, &fee)
	return fee, err
}

// ProtxInfo fetches the deterministic masternode list entry for a provider
// registration transaction hash.
func (c *ElectrumClient) ProtxInfo(proTxHash string) (json.RawMessage, error) {
	var result json.RawMessage
	err := c.call("protx.info", []interface{}{proTxHash}, &result)
	return result, err
}

// ProtxList returns the provider registration hashes of every masternode in
// the deterministic list.
func (c *ElectrumClient) ProtxList() ([]string, error) {
	var hashes []string
	err := c.call("protx.list", nil, &hashes)
	return hashes, err
}

// ScriptHashForScript returns the ElectrumX script hash of an output script:
// the SHA-256 digest of the script in reversed byte order, hex encoded.
func ScriptHashForScript(pkScript []byte) string {
	digest := sha256.Sum256(pkScript)
	for i, j := 0, len(digest)-1; i < j; i, j = i+1, j-1 {
		digest[i], digest[j] = digest[j], digest[i]
	}
	return hex.EncodeToString(digest[:])
}
