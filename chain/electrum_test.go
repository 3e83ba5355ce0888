// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
)

type fakeRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// fakeElectrumServer is a minimal newline-delimited JSON-RPC server used to
// exercise the client against canned responses.
type fakeElectrumServer struct {
	t  *testing.T
	ln net.Listener

	handlerMtx sync.Mutex
	handlers   map[string]func(params []interface{}) interface{}

	connMtx sync.Mutex
	conns   []net.Conn
}

func newFakeElectrumServer(t *testing.T) *fakeElectrumServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s := &fakeElectrumServer{
		t:        t,
		ln:       ln,
		handlers: make(map[string]func([]interface{}) interface{}),
	}
	s.handle("server.version", func([]interface{}) interface{} {
		return []string{"FakeElectrumX 1.0", "1.4"}
	})
	s.handle("blockchain.headers.subscribe", func([]interface{}) interface{} {
		return map[string]interface{}{
			"height": 1000,
			"hex":    strings.Repeat("00", 80),
		}
	})
	go s.acceptLoop()
	return s
}

func (s *fakeElectrumServer) addr() string {
	return s.ln.Addr().String()
}

func (s *fakeElectrumServer) handle(method string,
	handler func(params []interface{}) interface{}) {

	s.handlerMtx.Lock()
	s.handlers[method] = handler
	s.handlerMtx.Unlock()
}

func (s *fakeElectrumServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.connMtx.Lock()
		s.conns = append(s.conns, conn)
		s.connMtx.Unlock()
		go s.serveConn(conn)
	}
}

func (s *fakeElectrumServer) serveConn(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req fakeRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.t.Errorf("fake server received bad request: %v", err)
			return
		}
		s.handlerMtx.Lock()
		handler, ok := s.handlers[req.Method]
		s.handlerMtx.Unlock()

		var resp string
		if !ok {
			resp = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,`+
				`"error":{"code":-1,"message":"unknown method"}}`,
				req.ID)
		} else {
			result, err := json.Marshal(handler(req.Params))
			if err != nil {
				s.t.Errorf("failed to marshal result: %v", err)
				return
			}
			resp = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`,
				req.ID, result)
		}
		if _, err := conn.Write([]byte(resp + "\n")); err != nil {
			return
		}
	}
}

// notify pushes a notification message to all connected clients.
func (s *fakeElectrumServer) notify(method string, params interface{}) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		s.t.Fatalf("failed to marshal notification params: %v", err)
	}
	msg := fmt.Sprintf(`{"jsonrpc":"2.0","method":%q,"params":%s}`,
		method, rawParams) + "\n"

	s.connMtx.Lock()
	defer s.connMtx.Unlock()
	for _, conn := range s.conns {
		conn.Write([]byte(msg))
	}
}

func (s *fakeElectrumServer) stop() {
	s.ln.Close()
	s.connMtx.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.connMtx.Unlock()
}

func startTestClient(t *testing.T, s *fakeElectrumServer) *ElectrumClient {
	client := NewElectrumClient(&ElectrumConfig{
		Server: s.addr(),
	})
	if err := client.Start(); err != nil {
		t.Fatalf("failed to start client: %v", err)
	}
	return client
}

func nextNotification(t *testing.T, client *ElectrumClient) interface{} {
	select {
	case n := <-client.Notifications():
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for notification")
		return nil
	}
}

func TestElectrumHandshake(t *testing.T) {
	s := newFakeElectrumServer(t)
	defer s.stop()

	client := startTestClient(t, s)
	defer func() {
		client.Stop()
		client.WaitForShutdown()
	}()

	if _, ok := nextNotification(t, client).(ClientConnected); !ok {
		t.Fatal("expected ClientConnected notification")
	}

	height, header, err := client.BestBlock()
	if err != nil {
		t.Fatalf("BestBlock failed: %v", err)
	}
	if height != 1000 {
		t.Errorf("got tip height %d, expected 1000", height)
	}
	if len(header) != 80 {
		t.Errorf("got header length %d, expected 80", len(header))
	}
}

func TestElectrumScriptHashQueries(t *testing.T) {
	s := newFakeElectrumServer(t)
	defer s.stop()

	const scriptHash = "ff00000000000000000000000000000000000000000000000000000000000001"
	const txidStr = "0100000000000000000000000000000000000000000000000000000000000000"

	s.handle("blockchain.scripthash.subscribe",
		func(params []interface{}) interface{} {
			if len(params) != 1 || params[0] != scriptHash {
				t.Errorf("unexpected subscribe params: %v", params)
			}
			return "somestatus"
		})
	s.handle("blockchain.scripthash.get_history",
		func(params []interface{}) interface{} {
			return []map[string]interface{}{
				{"tx_hash": txidStr, "height": 500},
				{"tx_hash": txidStr, "height": 0, "fee": 226},
			}
		})
	s.handle("blockchain.scripthash.listunspent",
		func(params []interface{}) interface{} {
			return []map[string]interface{}{
				{
					"tx_hash": txidStr,
					"tx_pos":  1,
					"height":  500,
					"value":   100001,
				},
			}
		})

	client := startTestClient(t, s)
	defer func() {
		client.Stop()
		client.WaitForShutdown()
	}()

	status, err := client.SubscribeScriptHash(scriptHash)
	if err != nil {
		t.Fatalf("SubscribeScriptHash failed: %v", err)
	}
	if status != "somestatus" {
		t.Errorf("got status %q, expected %q", status, "somestatus")
	}

	history, err := client.ScriptHashHistory(scriptHash)
	if err != nil {
		t.Fatalf("ScriptHashHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d history items, expected 2", len(history))
	}
	if history[0].Height != 500 {
		t.Errorf("got height %d, expected 500", history[0].Height)
	}
	if history[1].Height != 0 || history[1].Fee != 226 {
		t.Errorf("unexpected mempool history item: %+v", history[1])
	}
	if history[0].TxHash.String() != txidStr {
		t.Errorf("got tx hash %v, expected %v", history[0].TxHash,
			txidStr)
	}

	unspent, err := client.ScriptHashUnspent(scriptHash)
	if err != nil {
		t.Fatalf("ScriptHashUnspent failed: %v", err)
	}
	if len(unspent) != 1 {
		t.Fatalf("got %d unspent items, expected 1", len(unspent))
	}
	if unspent[0].Index != 1 || unspent[0].Value != 100001 {
		t.Errorf("unexpected unspent item: %+v", unspent[0])
	}
}

func TestElectrumSendRawTransaction(t *testing.T) {
	s := newFakeElectrumServer(t)
	defer s.stop()

	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 0}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(100001, []byte{0x51}))
	txHash := tx.TxHash()

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("failed to serialize tx: %v", err)
	}

	s.handle("blockchain.transaction.broadcast",
		func(params []interface{}) interface{} {
			return txHash.String()
		})

	client := startTestClient(t, s)
	defer func() {
		client.Stop()
		client.WaitForShutdown()
	}()

	gotHash, err := client.SendRawTransaction(tx)
	if err != nil {
		t.Fatalf("SendRawTransaction failed: %v", err)
	}
	if *gotHash != txHash {
		t.Errorf("got tx hash %v, expected %v", gotHash, txHash)
	}

	// A server echoing a different hash indicates the broadcast was
	// rejected or mangled.
	s.handle("blockchain.transaction.broadcast",
		func(params []interface{}) interface{} {
			return "0000000000000000000000000000000000000000000000000000000000000000"
		})
	if _, err := client.SendRawTransaction(tx); err == nil {
		t.Fatal("expected error for mismatched broadcast txid")
	}
}

func TestElectrumServerError(t *testing.T) {
	s := newFakeElectrumServer(t)
	defer s.stop()

	client := startTestClient(t, s)
	defer func() {
		client.Stop()
		client.WaitForShutdown()
	}()

	// No handler is registered for relayfee, so the server responds with
	// an error object.
	s.handlerMtx.Lock()
	delete(s.handlers, "blockchain.relayfee")
	s.handlerMtx.Unlock()
	if _, err := client.RelayFee(); err == nil {
		t.Fatal("expected error from unknown method")
	}
}

func TestElectrumPingKeepalive(t *testing.T) {
	s := newFakeElectrumServer(t)
	defer s.stop()

	var pingMtx sync.Mutex
	pings := 0
	s.handle("server.ping", func([]interface{}) interface{} {
		pingMtx.Lock()
		pings++
		pingMtx.Unlock()
		return nil
	})

	client := NewElectrumClient(&ElectrumConfig{
		Server:       s.addr(),
		PingInterval: 25 * time.Millisecond,
	})
	if err := client.Start(); err != nil {
		t.Fatalf("failed to start client: %v", err)
	}
	defer func() {
		client.Stop()
		client.WaitForShutdown()
	}()

	deadline := time.After(5 * time.Second)
	for {
		pingMtx.Lock()
		n := pings
		pingMtx.Unlock()
		if n >= 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("idle connection received %d pings, want at "+
				"least 2", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestElectrumProtxList(t *testing.T) {
	s := newFakeElectrumServer(t)
	defer s.stop()

	hashes := []string{
		strings.Repeat("aa", 32),
		strings.Repeat("bb", 32),
	}
	s.handle("protx.list", func(params []interface{}) interface{} {
		if len(params) != 0 {
			t.Errorf("unexpected protx.list params: %v", params)
		}
		return hashes
	})

	client := startTestClient(t, s)
	defer func() {
		client.Stop()
		client.WaitForShutdown()
	}()

	got, err := client.ProtxList()
	if err != nil {
		t.Fatalf("ProtxList failed: %v", err)
	}
	if len(got) != 2 || got[0] != hashes[0] || got[1] != hashes[1] {
		t.Fatalf("got protx hashes %v, expected %v", got, hashes)
	}
}

func TestElectrumNotifications(t *testing.T) {
	s := newFakeElectrumServer(t)
	defer s.stop()

	client := startTestClient(t, s)
	defer func() {
		client.Stop()
		client.WaitForShutdown()
	}()

	if _, ok := nextNotification(t, client).(ClientConnected); !ok {
		t.Fatal("expected ClientConnected notification")
	}

	s.notify("blockchain.headers.subscribe", []interface{}{
		map[string]interface{}{
			"height": 1001,
			"hex":    strings.Repeat("11", 80),
		},
	})
	n := nextNotification(t, client)
	header, ok := n.(HeaderConnected)
	if !ok {
		t.Fatalf("expected HeaderConnected, got %T", n)
	}
	if header.Height != 1001 {
		t.Errorf("got height %d, expected 1001", header.Height)
	}

	height, _, err := client.BestBlock()
	if err != nil {
		t.Fatalf("BestBlock failed: %v", err)
	}
	if height != 1001 {
		t.Errorf("cached tip height %d, expected 1001", height)
	}

	s.notify("blockchain.scripthash.subscribe", []interface{}{
		"aa00000000000000000000000000000000000000000000000000000000000000",
		"newstatus",
	})
	n = nextNotification(t, client)
	changed, ok := n.(ScriptHashChanged)
	if !ok {
		t.Fatalf("expected ScriptHashChanged, got %T", n)
	}
	if changed.Status != "newstatus" {
		t.Errorf("got status %q, expected %q", changed.Status,
			"newstatus")
	}
}

func TestScriptHashForScript(t *testing.T) {
	// P2PKH script paying the zero hash160.
	script := append(append([]byte{0x76, 0xa9, 0x14}, make([]byte, 20)...),
		0x88, 0xac)
	want := "acb87996319dca2c2e2afd6c0f7514b18e72e204069718976e1abdc8fcf5de75"
	if got := ScriptHashForScript(script); got != want {
		t.Errorf("got script hash %s, expected %s", got, want)
	}
}
