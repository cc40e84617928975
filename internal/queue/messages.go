package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// IngestJobMsg asks the worker to ingest markdown objects from S3. With
// Keys set only those objects are read, otherwise everything below Prefix.
type IngestJobMsg struct {
	JobID     string    `json:"job_id"`
	Bucket    string    `json:"bucket"`
	Prefix    string    `json:"prefix"`
	Keys      []string  `json:"keys,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CommunityJobMsg asks the worker to recompute the entity communities.
type CommunityJobMsg struct {
	JobID     string    `json:"job_id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func DecodeIngestJob(body []byte) (IngestJobMsg, error) {
	var msg IngestJobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode ingest job: %w", err)
	}
	if msg.Bucket == "" {
		return msg, fmt.Errorf("ingest job %q has no bucket", msg.JobID)
	}
	if msg.Prefix == "" && len(msg.Keys) == 0 {
		return msg, fmt.Errorf("ingest job %q has neither prefix nor keys", msg.JobID)
	}
	return msg, nil
}

func DecodeCommunityJob(body []byte) (CommunityJobMsg, error) {
	var msg CommunityJobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode community job: %w", err)
	}
	return msg, nil
}
