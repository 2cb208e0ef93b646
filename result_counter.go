package main

import (
	"net/http"
	"sync"
)

// ResultCounter tallies handler responses across concurrent invocations.
type ResultCounter struct {
	mu        sync.Mutex
	succeeded int
	failed    int
}

func (c *ResultCounter) Record(resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if resp.StatusCode == http.StatusOK {
		c.succeeded++
	} else {
		c.failed++
	}
}

func (c *ResultCounter) Values() (succeeded, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.succeeded, c.failed
}
