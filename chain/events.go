// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/gozmq"
)

// KiirodEvents is a persistent listener for the ZMQ event notifications of a
// local kiirod node.  Raw transaction events are deserialized and delivered
// over the TxNtfns channel.  Raw block events are delivered unparsed over
// BlockNtfns: Kiiro block headers are 180 or 120 bytes depending on height,
// so the 80 byte wire format deserializer does not apply to them.  When the
// wallet is run next to its own full node, these events provide mempool and
// block discovery with lower latency than polling an ElectrumX server.
type KiirodEvents struct {
	started int32 // atomic
	stopped int32 // atomic

	// zmqBlockHost is the host listening for ZMQ connections that will be
	// responsible for delivering raw block events.
	zmqBlockHost string

	// zmqTxHost is the host listening for ZMQ connections that will be
	// responsible for delivering raw transaction events.
	zmqTxHost string

	// zmqPollInterval is the interval at which we'll attempt to retrieve
	// an event from the ZMQ connections.
	zmqPollInterval time.Duration

	blockNtfns chan []byte
	txNtfns    chan *wire.MsgTx

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewKiirodEvents creates a listener for the given ZMQ hosts.  Connections
// are not established until the Start method is called.
func NewKiirodEvents(zmqBlockHost, zmqTxHost string,
	zmqPollInterval time.Duration) *KiirodEvents {

	return &KiirodEvents{
		zmqBlockHost:    zmqBlockHost,
		zmqTxHost:       zmqTxHost,
		zmqPollInterval: zmqPollInterval,
		blockNtfns:      make(chan []byte),
		txNtfns:         make(chan *wire.MsgTx),
		quit:            make(chan struct{}),
	}
}

// BlockNtfns returns the channel over which raw serialized block events are
// delivered.
func (e *KiirodEvents) BlockNtfns() <-chan []byte {
	return e.blockNtfns
}

// TxNtfns returns the channel over which deserialized raw transaction events
// are delivered.
func (e *KiirodEvents) TxNtfns() <-chan *wire.MsgTx {
	return e.txNtfns
}

// Start attempts to establish the ZMQ connections to the node.  If
// successful, goroutines are spawned to read events from each connection.
// Two distinct connections are used so that one type of event cannot push the
// other type out of the socket's queue.
func (e *KiirodEvents) Start() error {
	if !atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		return nil
	}

	zmqBlockConn, err := gozmq.Subscribe(
		e.zmqBlockHost, []string{"rawblock"}, e.zmqPollInterval,
	)
	if err != nil {
		return fmt.Errorf("unable to subscribe for zmq block events: "+
			"%v", err)
	}

	zmqTxConn, err := gozmq.Subscribe(
		e.zmqTxHost, []string{"rawtx"}, e.zmqPollInterval,
	)
	if err != nil {
		zmqBlockConn.Close()
		return fmt.Errorf("unable to subscribe for zmq tx events: %v",
			err)
	}

	e.wg.Add(2)
	go e.blockEventHandler(zmqBlockConn)
	go e.txEventHandler(zmqTxConn)

	return nil
}

// Stop terminates the ZMQ connections and waits for the event handlers to
// exit.
func (e *KiirodEvents) Stop() {
	if !atomic.CompareAndSwapInt32(&e.stopped, 0, 1) {
		return
	}
	close(e.quit)
	e.wg.Wait()
}

// blockEventHandler reads raw block events from the ZMQ block socket and
// forwards them to the notification channel.
//
// NOTE: This must be run as a goroutine.
func (e *KiirodEvents) blockEventHandler(conn *gozmq.Conn) {
	defer e.wg.Done()
	defer conn.Close()

	log.Infof("Started listening for kiirod block notifications via ZMQ "+
		"on %s", e.zmqBlockHost)

	for {
		// Before attempting to read from the ZMQ socket, we'll make
		// sure to check if we've been requested to shut down.
		select {
		case <-e.quit:
			return
		default:
		}

		// Poll an event from the ZMQ socket.
		msgBytes, err := conn.Receive()
		if err != nil {
			// It's possible that the connection to the socket
			// continuously times out, so we'll prevent logging
			// this error to prevent spamming the logs.
			netErr, ok := err.(net.Error)
			if ok && netErr.Timeout() {
				continue
			}

			log.Errorf("Unable to receive ZMQ rawblock message: %v",
				err)
			continue
		}

		eventType := string(msgBytes[0])
		switch eventType {
		case "rawblock":
			// The socket buffer is reused between events, so the
			// payload is copied before it is handed off.
			block := make([]byte, len(msgBytes[1]))
			copy(block, msgBytes[1])

			select {
			case e.blockNtfns <- block:
			case <-e.quit:
				return
			}
		default:
			// It's possible that the node shut down mid-message,
			// which would result in an unreadable event type.  To
			// prevent from logging it, we'll make sure it conforms
			// to the ASCII standard.
			if eventType == "" || !isASCII(eventType) {
				continue
			}

			log.Warnf("Received unexpected event type from "+
				"rawblock subscription: %v", eventType)
		}
	}
}

// txEventHandler reads raw transaction events from the ZMQ transaction
// socket and forwards them to the notification channel.
//
// NOTE: This must be run as a goroutine.
func (e *KiirodEvents) txEventHandler(conn *gozmq.Conn) {
	defer e.wg.Done()
	defer conn.Close()

	log.Infof("Started listening for kiirod transaction notifications "+
		"via ZMQ on %s", e.zmqTxHost)

	for {
		// Before attempting to read from the ZMQ socket, we'll make
		// sure to check if we've been requested to shut down.
		select {
		case <-e.quit:
			return
		default:
		}

		// Poll an event from the ZMQ socket.
		msgBytes, err := conn.Receive()
		if err != nil {
			// It's possible that the connection to the socket
			// continuously times out, so we'll prevent logging
			// this error to prevent spamming the logs.
			netErr, ok := err.(net.Error)
			if ok && netErr.Timeout() {
				continue
			}

			log.Errorf("Unable to receive ZMQ rawtx message: %v",
				err)
			continue
		}

		eventType := string(msgBytes[0])
		switch eventType {
		case "rawtx":
			tx := &wire.MsgTx{}
			r := bytes.NewReader(msgBytes[1])
			if err := tx.Deserialize(r); err != nil {
				log.Errorf("Unable to deserialize "+
					"transaction: %v", err)
				continue
			}

			select {
			case e.txNtfns <- tx:
			case <-e.quit:
				return
			}
		default:
			// It's possible that the node shut down mid-message,
			// which would result in an unreadable event type.  To
			// prevent from logging it, we'll make sure it conforms
			// to the ASCII standard.
			if eventType == "" || !isASCII(eventType) {
				continue
			}

			log.Warnf("Received unexpected event type from rawtx "+
				"subscription: %v", eventType)
		}
	}
}

// isASCII is a helper method that checks whether all bytes in `data` would be
// printable ASCII characters if interpreted as a string.
func isASCII(s string) bool {
	for _, c := range s {
		if c < ' ' || c > unicode.MaxASCII {
			return false
		}
	}
	return true
}
