// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/kiirocoin/kiirowallet/txstore"
)

// clientBuffer is the number of undelivered notifications a client channel
// holds before further notifications to that client are dropped.
const clientBuffer = 20

// TransactionNtfn describes a transaction relevant to the wallet.  Block is
// nil for unmined transactions.
type TransactionNtfn struct {
	Hash  chainhash.Hash
	Tx    *txstore.TxRecord
	Block *txstore.BlockMeta
}

// BlockNtfn describes a block attached to the wallet's view of the main
// chain.
type BlockNtfn struct {
	Height int32
	Hash   chainhash.Hash
	Time   time.Time
}

// NotificationServer is a server that interested clients may hook into to
// receive notifications of changes in a wallet.  A client is created for each
// registered notification.  Clients are guaranteed to receive messages in the
// order wallet created them, but there is no guarantee of synchronization
// between different clients.
type NotificationServer struct {
	transactions []chan *TransactionNtfn
	blocks       []chan *BlockNtfn
	mu           sync.Mutex

	wallet *Wallet // not yet used
}

func newNotificationServer(wallet *Wallet) *NotificationServer {
	return &NotificationServer{
		wallet: wallet,
	}
}

// TransactionNotificationsClient receives TransactionNtfns over the channel
// C.  Clients must keep draining C or notifications to them are dropped.
type TransactionNotificationsClient struct {
	C      <-chan *TransactionNtfn
	server *NotificationServer
}

// TransactionNotifications returns a client for receiving relevant
// transaction notifications.
func (s *NotificationServer) TransactionNotifications() TransactionNotificationsClient {
	c := make(chan *TransactionNtfn, clientBuffer)
	s.mu.Lock()
	s.transactions = append(s.transactions, c)
	s.mu.Unlock()
	return TransactionNotificationsClient{
		C:      c,
		server: s,
	}
}

// Done deregisters the client from the server and drains any remaining
// messages.  It must be called exactly once when the client is finished
// receiving notifications.
func (c TransactionNotificationsClient) Done() {
	go func() {
		for range c.C {
		}
	}()
	go func() {
		s := c.server
		s.mu.Lock()
		clients := s.transactions
		for i, ch := range clients {
			if c.C != ch {
				continue
			}
			clients[i] = clients[len(clients)-1]
			s.transactions = clients[:len(clients)-1]
			close(ch)
			break
		}
		s.mu.Unlock()
	}()
}

// BlockNotificationsClient receives BlockNtfns over the channel C.
type BlockNotificationsClient struct {
	C      <-chan *BlockNtfn
	server *NotificationServer
}

// BlockNotifications returns a client for receiving attached block
// notifications.
func (s *NotificationServer) BlockNotifications() BlockNotificationsClient {
	c := make(chan *BlockNtfn, clientBuffer)
	s.mu.Lock()
	s.blocks = append(s.blocks, c)
	s.mu.Unlock()
	return BlockNotificationsClient{
		C:      c,
		server: s,
	}
}

// Done deregisters the client from the server and drains any remaining
// messages.  It must be called exactly once when the client is finished
// receiving notifications.
func (c BlockNotificationsClient) Done() {
	go func() {
		for range c.C {
		}
	}()
	go func() {
		s := c.server
		s.mu.Lock()
		clients := s.blocks
		for i, ch := range clients {
			if c.C != ch {
				continue
			}
			clients[i] = clients[len(clients)-1]
			s.blocks = clients[:len(clients)-1]
			close(ch)
			break
		}
		s.mu.Unlock()
	}()
}

func (s *NotificationServer) notifyTransaction(rec *txstore.TxRecord,
	meta *txstore.BlockMeta) {

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transactions) == 0 {
		return
	}
	n := &TransactionNtfn{
		Hash:  rec.Hash,
		Tx:    rec,
		Block: meta,
	}
	for _, c := range s.transactions {
		select {
		case c <- n:
		default:
			log.Warnf("Dropped transaction notification for slow " +
				"client")
		}
	}
}

func (s *NotificationServer) notifyAttachedBlock(height int32,
	hash chainhash.Hash, time time.Time) {

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blocks) == 0 {
		return
	}
	n := &BlockNtfn{
		Height: height,
		Hash:   hash,
		Time:   time,
	}
	for _, c := range s.blocks {
		select {
		case c <- n:
		default:
			log.Warnf("Dropped block notification for slow client")
		}
	}
}
