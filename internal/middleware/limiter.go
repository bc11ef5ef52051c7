package middleware

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/rulesmarket/relay/internal/utils"
)

// ConnectionsLimiter is a middleware that limits the number of simultaneous connections per IP.
type ConnectionsLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	max         int
	realIP      *utils.RealIPExtractor
}

func NewConnectionLimiter(i int, extractor *utils.RealIPExtractor) *ConnectionsLimiter {
	return &ConnectionsLimiter{
		connections: map[string]int{},
		max:         i,
		realIP:      extractor,
	}
}

// LeaseConnection increases a number of connections per given IP and
// returns a release function to be called once a request is finished.
// If the IP reaches the limit of max simultaneous connections, LeaseConnection returns an error.
func (l *ConnectionsLimiter) LeaseConnection(request *http.Request) (release func(), err error) {
	key := fmt.Sprintf("ip-%v", l.realIP.Extract(request))
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[key] >= l.max {
		return nil, fmt.Errorf("you have reached the limit of streaming connections: %v max", l.max)
	}
	l.connections[key] += 1

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.connections[key] -= 1
		if l.connections[key] == 0 {
			delete(l.connections, key)
		}
	}, nil
}
