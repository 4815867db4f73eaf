// Package archive persists closed sessions: the roster, the frozen event log
// and the resolved outcome.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/luca-patrignani/accord/consensus"
	"github.com/luca-patrignani/accord/domain/negotiation"
)

// Record is everything needed to audit a closed session. Replaying Events
// through consensus.Fold with Roster reproduces Outcome.
type Record struct {
	SessionID string              `json:"session_id"`
	Roster    consensus.Roster    `json:"roster"`
	Parties   []negotiation.Party `json:"parties"`
	Events    []consensus.Event   `json:"events"`
	Outcome   consensus.Outcome   `json:"outcome"`
	FrozenAt  time.Time           `json:"frozen_at"`
}

// Key is the object name of the record.
func (r Record) Key() string {
	return r.SessionID + ".json"
}

// Sink stores records.
type Sink interface {
	Put(ctx context.Context, r Record) error
}

// FileSink writes one JSON file per session into Dir.
type FileSink struct {
	Dir string
}

func (f FileSink) Put(_ context.Context, r Record) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("archive: create %s: %w", f.Dir, err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", r.SessionID, err)
	}
	path := filepath.Join(f.Dir, r.Key())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// Load reads the record of sessionID from Dir.
func (f FileSink) Load(sessionID string) (Record, error) {
	var r Record
	data, err := os.ReadFile(filepath.Join(f.Dir, sessionID+".json"))
	if err != nil {
		return r, fmt.Errorf("archive: read %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("archive: decode %s: %w", sessionID, err)
	}
	return r, nil
}

// Open returns the sink for target: a directory path or an
// s3://bucket/prefix URL.
func Open(ctx context.Context, target string) (Sink, error) {
	if !strings.HasPrefix(target, "s3://") {
		return FileSink{Dir: target}, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("archive: parse %s: %w", target, err)
	}
	prefix := strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return NewS3Sink(ctx, S3Config{
		Bucket:   u.Host,
		Prefix:   prefix,
		Region:   os.Getenv("AWS_REGION"),
		Endpoint: os.Getenv("ACCORD_S3_ENDPOINT"),
	})
}
