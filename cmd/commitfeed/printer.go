package main

import (
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

// commitLine is the JSON form of one printed commit. Event bodies are left out.
type commitLine struct {
	Checkpoint     string             `json:"checkpoint"`
	BucketID       string             `json:"bucket_id"`
	StreamID       string             `json:"stream_id"`
	StreamRevision int                `json:"stream_revision"`
	CommitSequence int                `json:"commit_sequence"`
	CommitID       string             `json:"commit_id"`
	CommitStamp    time.Time          `json:"commit_stamp"`
	EventCount     int                `json:"event_count"`
	Headers        eventstore.Headers `json:"headers,omitempty"`
}

// commitPrinter writes one line per commit in the configured format.
type commitPrinter struct {
	out     io.Writer
	format  string
	encoder *jsoniter.Encoder
}

func newCommitPrinter(out io.Writer, format string) *commitPrinter {
	return &commitPrinter{
		out:     out,
		format:  format,
		encoder: jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out),
	}
}

func (p *commitPrinter) Print(commit eventstore.Commit) error {
	if p.format == formatJSON {
		return p.encoder.Encode(commitLine{
			Checkpoint:     commit.CheckpointToken,
			BucketID:       commit.BucketID,
			StreamID:       commit.StreamID,
			StreamRevision: commit.StreamRevision,
			CommitSequence: commit.CommitSequence,
			CommitID:       commit.CommitID.String(),
			CommitStamp:    commit.CommitStamp.UTC(),
			EventCount:     len(commit.Events),
			Headers:        commit.Headers,
		})
	}

	_, err := fmt.Fprintf(p.out, "%s\t%s\t%s/%s\trevision=%d\tsequence=%d\tevents=%d\n",
		commit.CheckpointToken,
		commit.CommitStamp.UTC().Format(time.RFC3339),
		commit.BucketID,
		commit.StreamID,
		commit.StreamRevision,
		commit.CommitSequence,
		len(commit.Events),
	)

	return err
}
