// ABOUTME: Process-wide service initialization
// ABOUTME: Reference counts sessions per service around Init and Deinit
package stream

import (
	"log"
	"sync"
)

var clients = struct {
	mu   sync.Mutex
	refs map[Service]int
}{refs: make(map[Service]int)}

// acquire initializes svc on first use
func acquire(svc Service) error {
	clients.mu.Lock()
	defer clients.mu.Unlock()

	if clients.refs[svc] == 0 {
		if err := svc.Init(); err != nil {
			return err
		}
		log.Printf("Audio service %s initialized", svc.Name())
	}
	clients.refs[svc]++
	return nil
}

// release deinitializes svc after its last session
func release(svc Service) {
	clients.mu.Lock()
	defer clients.mu.Unlock()

	n := clients.refs[svc]
	switch {
	case n <= 0:
		return
	case n == 1:
		delete(clients.refs, svc)
		svc.Deinit()
		log.Printf("Audio service %s released", svc.Name())
	default:
		clients.refs[svc] = n - 1
	}
}

// References returns how many open sessions use svc
func References(svc Service) int {
	clients.mu.Lock()
	defer clients.mu.Unlock()
	return clients.refs[svc]
}
