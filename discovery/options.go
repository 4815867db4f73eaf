package discovery

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// Discover announces a session and reports the sessions it finds on
// Entries. Entries is closed once every scan attempt is done.
type Discover struct {
	Entries   chan Entry
	port      uint16
	startPort uint16
	endPort   uint16
	host      string
	server    *http.Server
	client    *http.Client
	attempts  uint
	interval  time.Duration
	done      chan struct{}
	closeOnce *sync.Once
}

type option func(Discover) Discover

// NewWithOptions announces ann (when not nil) and starts scanning.
func NewWithOptions(ann *Announcement, opts ...option) (*Discover, error) {
	d := Discover{
		Entries:   make(chan Entry),
		startPort: 9000,
		endPort:   9010,
		host:      "localhost",
		client:    &http.Client{Timeout: 500 * time.Millisecond},
		attempts:  1,
		interval:  time.Second,
		done:      make(chan struct{}),
		closeOnce: &sync.Once{},
	}
	for _, opt := range opts {
		d = opt(d)
	}
	if d.startPort > d.endPort {
		return nil, fmt.Errorf("discovery: empty port range %d-%d", d.startPort, d.endPort)
	}

	if ann != nil {
		var l net.Listener
		var err error
		for port := d.startPort; port <= d.endPort && port >= d.startPort; port++ {
			l, err = net.Listen("tcp", fmt.Sprintf("%s:%d", d.host, port))
			if err == nil {
				d.port = port
				break
			}
		}
		if err != nil {
			return nil, fmt.Errorf("discovery: no free port in %d-%d: %w", d.startPort, d.endPort, err)
		}
		d.server = &http.Server{
			Handler:           handler{ann: *ann},
			ReadHeaderTimeout: time.Second,
		}
		go func() {
			_ = d.server.Serve(l)
		}()
	}

	go func() {
		defer close(d.Entries)
		seen := make(map[string]struct{})
		for i := range d.attempts {
			if !d.search(seen) {
				return
			}
			if i+1 == d.attempts {
				return
			}
			select {
			case <-d.done:
				return
			case <-time.After(d.interval):
			}
		}
	}()
	return &d, nil
}

// Port returns the port the announcement is served on.
func (d *Discover) Port() uint16 { return d.port }

func WithPortRange(startPort, endPort uint16) option {
	return func(d Discover) Discover {
		d.startPort = startPort
		d.endPort = endPort
		return d
	}
}

func WithPort(port uint16) option {
	return WithPortRange(port, port)
}

func WithAttempts(attempts uint) option {
	return func(d Discover) Discover {
		d.attempts = attempts
		return d
	}
}

// WithInterval sets the pause between scan attempts.
func WithInterval(interval time.Duration) option {
	return func(d Discover) Discover {
		d.interval = interval
		return d
	}
}

// WithHost scans and announces on host instead of localhost, e.g. a LAN
// address.
func WithHost(host string) option {
	return func(d Discover) Discover {
		d.host = host
		return d
	}
}
