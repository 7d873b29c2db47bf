// Command example is a runnable demonstration of the store end to end,
// standing in for the original system's example/src/main.rs demo: it
// starts one replica in-process and drives ten set/get rounds against
// it over a real TCP client connection, printing each response.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mrshabel/kvraft/internal/client"
	"github.com/mrshabel/kvraft/internal/node"
)

func main() {
	dir, err := os.MkdirTemp("", "kvraft-example")
	if err != nil {
		log.Fatalf("create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	n, err := node.New(node.Config{
		ID:         1,
		PublicAddr: "127.0.0.1:0",
		PeerAddr:   "127.0.0.1:0",
		DataFile:   dir + "/data",
	})
	if err != nil {
		log.Fatalf("start replica: %v", err)
	}
	defer n.Shutdown()

	fmt.Printf("replica listening on %s\n", n.PublicAddr())

	c, err := client.Connect(n.PublicAddr())
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Close()

	const numRequests = 10
	for i := 0; i < numRequests; i++ {
		key := fmt.Sprintf("msg # %d", i)
		value := fmt.Sprintf("value # %d", i)

		ok, err := setEventually(c, key, value)
		if err != nil {
			log.Fatalf("set: %v", err)
		}
		fmt.Printf("set %s -> ok=%v\n", key, ok)

		got, found, err := c.Get(key)
		if err != nil {
			log.Fatalf("get: %v", err)
		}
		fmt.Printf("get %s -> value=%q found=%v\n", key, got, found)
	}
}

// setEventually retries Set briefly: a freshly started single replica
// needs to win its first election before it can serve writes.
func setEventually(c *client.Client, key, value string) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < 50; attempt++ {
		ok, err := c.Set(key, value)
		if err == nil && ok {
			return true, nil
		}
		lastErr = err
		time.Sleep(100 * time.Millisecond)
	}
	return false, lastErr
}
