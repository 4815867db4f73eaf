package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/accord/consensus"
)

func sampleRecord(t *testing.T) Record {
	t.Helper()
	e, err := consensus.NewProposalEvent("p1", nil)
	require.NoError(t, err)
	e.Seq = 1
	return Record{
		SessionID: "s1",
		Roster:    consensus.Roster{Members: []consensus.Member{{ID: "p1"}, {ID: "p2"}}},
		Events:    []consensus.Event{e},
		Outcome:   consensus.Outcome{Payoffs: map[string]float64{"p1": 0, "p2": 3}, ResolvedAtSeq: 1},
		FrozenAt:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestFileSink_RoundTrip(t *testing.T) {
	sink := FileSink{Dir: t.TempDir()}
	rec := sampleRecord(t)
	require.NoError(t, sink.Put(context.Background(), rec))

	got, err := sink.Load("s1")
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, got.SessionID)
	assert.Equal(t, rec.Events[0].ID, got.Events[0].ID)
	assert.Equal(t, rec.Outcome.Payoffs, got.Outcome.Payoffs)
	assert.True(t, rec.FrozenAt.Equal(got.FrozenAt))

	_, err = sink.Load("missing")
	assert.Error(t, err)
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink_Put(t *testing.T) {
	fake := &fakeS3{}
	sink := &S3Sink{client: fake, bucket: "negotiations", prefix: "2025/"}
	require.NoError(t, sink.Put(context.Background(), sampleRecord(t)))
	assert.Equal(t, "negotiations", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "2025/s1.json", aws.ToString(fake.input.Key))
	assert.Contains(t, string(fake.body), `"session_id":"s1"`)

	failing := &S3Sink{client: &fakeS3{err: errors.New("denied")}, bucket: "b"}
	assert.Error(t, failing.Put(context.Background(), sampleRecord(t)))
}

func TestOpen_Directory(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, FileSink{Dir: dir}, sink)
}
