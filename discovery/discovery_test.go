package discovery

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestDiscover(t *testing.T) {
	n := 4
	fatal := make(chan error)
	for i := range n {
		go func() {
			ann := Announcement{SessionID: fmt.Sprint(i), Address: fmt.Sprintf("http://host%d:8742", i), Parties: 3}
			discover, err := NewWithOptions(&ann,
				WithPortRange(9100, 9110),
				WithAttempts(3),
				WithInterval(300*time.Millisecond),
			)
			if err != nil {
				fatal <- err
				return
			}
			set := make(map[string]struct{})
			for entry := range discover.Entries {
				set[entry.SessionID] = struct{}{}
			}
			for j := range n {
				if j == i {
					continue
				}
				if _, ok := set[fmt.Sprint(j)]; !ok {
					fatal <- fmt.Errorf("node %d did not find session %d", i, j)
					return
				}
			}
			time.Sleep(time.Second)
			fatal <- discover.Close()
		}()
	}
	for range n {
		if err := <-fatal; err != nil {
			t.Fatal(err)
		}
	}
}

func TestScan(t *testing.T) {
	host, err := New(Announcement{SessionID: "s1", Address: "http://localhost:8742", Parties: 2}, 9120)
	if err != nil {
		t.Fatal(err)
	}
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	found, err := Scan(ctx, WithPortRange(9119, 9121))
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].SessionID != "s1" || found[0].Port != 9120 {
		t.Fatalf("unexpected entries %+v", found)
	}
}

func TestNewWithOptions_EmptyRange(t *testing.T) {
	if _, err := NewWithOptions(nil, WithPortRange(10, 9)); err == nil {
		t.Fatal("expected error for empty range")
	}
}
