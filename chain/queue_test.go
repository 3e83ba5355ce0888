// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"testing"
	"time"
)

// TestConcurrentQueueOrder ensures items are popped in the order they were
// pushed, even when the output buffer overflows.
func TestConcurrentQueueOrder(t *testing.T) {
	const numItems = 1000

	queue := NewConcurrentQueue(5)
	queue.Start()
	defer queue.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < numItems; i++ {
			queue.ChanIn() <- i
		}
		close(done)
	}()

	for i := 0; i < numItems; i++ {
		select {
		case item := <-queue.ChanOut():
			if item.(int) != i {
				t.Fatalf("popped %v, expected %v", item, i)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout popping item %d", i)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pusher did not finish")
	}
}

// TestConcurrentQueueIdlePush ensures a push succeeds while no consumer is
// reading from the output channel.
func TestConcurrentQueueIdlePush(t *testing.T) {
	queue := NewConcurrentQueue(1)
	queue.Start()
	defer queue.Stop()

	for i := 0; i < 10; i++ {
		select {
		case queue.ChanIn() <- i:
		case <-time.After(5 * time.Second):
			t.Fatalf("push %d blocked with no consumer", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case item := <-queue.ChanOut():
			if item.(int) != i {
				t.Fatalf("popped %v, expected %v", item, i)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout popping item %d", i)
		}
	}
}
