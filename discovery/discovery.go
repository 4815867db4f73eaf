// Package discovery lets joiners find session hosts on a host's port range
// without typing addresses. A host announces its session over HTTP on the
// first free port of the range; a joiner probes every port of the range.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Announcement describes a session that accepts parties.
type Announcement struct {
	SessionID string `json:"session_id"`
	// Address is the session API base URL, e.g. "http://10.0.0.2:8742".
	Address string `json:"address"`
	Parties int    `json:"parties"`
}

// Entry is an announcement found while scanning.
type Entry struct {
	Announcement
	Port uint16
}

// New announces ann on port and scans it twice.
func New(ann Announcement, port uint16) (*Discover, error) {
	return NewWithPortRange(&ann, port, port, 2)
}

type handler struct {
	ann Announcement
}

func (h handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.ann)
}

// NewWithPortRange announces ann (when not nil) on the first free port in
// [startPort, endPort] and scans the range attempts times.
func NewWithPortRange(ann *Announcement, startPort, endPort uint16, attempts uint) (*Discover, error) {
	return NewWithOptions(ann,
		WithPortRange(startPort, endPort),
		WithAttempts(attempts),
	)
}

// Scan probes the range without announcing and returns every distinct
// session found.
func Scan(ctx context.Context, opts ...option) ([]Entry, error) {
	d, err := NewWithOptions(nil, opts...)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	var found []Entry
	for {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		case e, ok := <-d.Entries:
			if !ok {
				return found, nil
			}
			found = append(found, e)
		}
	}
}

func (d *Discover) probe(port uint16) (Announcement, bool) {
	resp, err := d.client.Get(fmt.Sprintf("http://%s:%d", d.host, port))
	if err != nil {
		return Announcement{}, false
	}
	defer resp.Body.Close()
	var ann Announcement
	if err := json.NewDecoder(resp.Body).Decode(&ann); err != nil || ann.SessionID == "" {
		return Announcement{}, false
	}
	return ann, true
}

func (d *Discover) search(seen map[string]struct{}) bool {
	for port := d.startPort; port <= d.endPort && port >= d.startPort; port++ {
		if d.server != nil && port == d.port {
			continue
		}
		ann, ok := d.probe(port)
		if !ok {
			continue
		}
		key := ann.SessionID + "|" + ann.Address
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		select {
		case d.Entries <- Entry{Announcement: ann, Port: port}:
		case <-d.done:
			return false
		}
	}
	return true
}

// Close stops announcing and scanning.
func (d *Discover) Close() error {
	d.closeOnce.Do(func() { close(d.done) })
	if d.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return d.server.Shutdown(ctx)
}
