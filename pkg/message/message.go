// Package message defines the JetStream messages exchanged by the
// subscription-conversion pipeline: conversion jobs flowing in and
// conversion results flowing out.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/wehubfusion/Daedalus/pkg/proxy"
	"github.com/wehubfusion/Daedalus/pkg/rules"
)

// BlobReference points at an offloaded payload. When a node list is too
// large to send inline it is uploaded to blob storage and the message
// carries a reference instead of the raw data.
type BlobReference struct {
	URL       string `json:"url"`
	SizeBytes int    `json:"sizeBytes"`
}

// Options mirrors the per-request knobs of settings.ExtraSettings that a
// job submitter may set. Zero values defer to the worker's defaults.
type Options struct {
	FilterScript string `json:"filterScript,omitempty"`
	SortScript   string `json:"sortScript,omitempty"`
	SortFlag     bool   `json:"sort,omitempty"`

	RenameRules rules.RegexMatchConfigs `json:"renameRules,omitempty"`
	EmojiRules  rules.RegexMatchConfigs `json:"emojiRules,omitempty"`
	AddEmoji    bool                    `json:"addEmoji,omitempty"`
	RemoveEmoji bool                    `json:"removeEmoji,omitempty"`

	UDP            *bool `json:"udp,omitempty"`
	TFO            *bool `json:"tfo,omitempty"`
	SkipCertVerify *bool `json:"skipCertVerify,omitempty"`
	TLS13          *bool `json:"tls13,omitempty"`
}

// ConversionJob is one unit of pipeline work: a node list plus the options
// of the export stage that should be applied to it.
type ConversionJob struct {
	// JobID uniquely identifies the job across the system
	JobID string `json:"jobId"`

	// Target is the output format requested by the submitter (clash,
	// surge, nodelist, ...)
	Target string `json:"target,omitempty"`

	// Nodes is the inline node list (for small payloads)
	Nodes proxy.NodeList `json:"nodes,omitempty"`

	// NodesRef references an offloaded node list (for large payloads)
	NodesRef *BlobReference `json:"nodesRef,omitempty"`

	// Options carries the per-request export options
	Options Options `json:"options"`

	// Metadata holds additional key-value pairs for the job
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is the timestamp when the job was created
	CreatedAt string `json:"createdAt"`

	// natsMsg holds the original NATS message for acknowledgment (not serialized)
	natsMsg *nats.Msg
}

// NewConversionJob creates a job with a fresh ID and timestamp.
func NewConversionJob(target string, nodes proxy.NodeList) *ConversionJob {
	return &ConversionJob{
		JobID:     uuid.NewString(),
		Target:    target,
		Nodes:     nodes,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().Format(time.RFC3339),
	}
}

// Validate checks the job is well formed enough to process.
func (j *ConversionJob) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job has no jobId")
	}
	if len(j.Nodes) == 0 && j.NodesRef == nil {
		return fmt.Errorf("job %s carries neither inline nodes nor a node reference", j.JobID)
	}
	return nil
}

// ToBytes serializes the job for transmission.
func (j *ConversionJob) ToBytes() ([]byte, error) {
	return json.Marshal(j)
}

// JobFromNATSMsg deserializes a job from a NATS message, retaining the
// underlying message for acknowledgment.
func JobFromNATSMsg(msg *nats.Msg) (*ConversionJob, error) {
	var job ConversionJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversion job: %w", err)
	}
	job.natsMsg = msg
	return &job, nil
}

// Ack acknowledges the underlying NATS message, if any.
func (j *ConversionJob) Ack() error {
	if j.natsMsg == nil {
		return nil
	}
	return j.natsMsg.Ack()
}

// Nak negatively acknowledges the underlying NATS message so it is
// redelivered, if any.
func (j *ConversionJob) Nak() error {
	if j.natsMsg == nil {
		return nil
	}
	return j.natsMsg.Nak()
}

// Term terminates delivery of the underlying NATS message, if any. Used for
// jobs that can never succeed (malformed payloads).
func (j *ConversionJob) Term() error {
	if j.natsMsg == nil {
		return nil
	}
	return j.natsMsg.Term()
}

// ConversionResult reports the outcome of one job.
type ConversionResult struct {
	// JobID matches the job this result belongs to
	JobID string `json:"jobId"`

	// Status is "success" or "error"
	Status string `json:"status"`

	// Error carries the failure text when Status is "error"
	Error string `json:"error,omitempty"`

	// Nodes is the surviving node list (for small payloads)
	Nodes proxy.NodeList `json:"nodes,omitempty"`

	// NodesRef references an offloaded node list (for large payloads)
	NodesRef *BlobReference `json:"nodesRef,omitempty"`

	// Kept and Dropped count the filter outcome
	Kept    int `json:"kept"`
	Dropped int `json:"dropped"`

	// CompletedAt is the timestamp when processing finished
	CompletedAt string `json:"completedAt"`
}

// NewSuccessResult builds a success result for a processed job.
func NewSuccessResult(jobID string, nodes proxy.NodeList, dropped int) *ConversionResult {
	return &ConversionResult{
		JobID:       jobID,
		Status:      "success",
		Nodes:       nodes,
		Kept:        len(nodes),
		Dropped:     dropped,
		CompletedAt: time.Now().Format(time.RFC3339),
	}
}

// NewErrorResult builds an error result for a failed job.
func NewErrorResult(jobID string, err error) *ConversionResult {
	res := &ConversionResult{
		JobID:       jobID,
		Status:      "error",
		CompletedAt: time.Now().Format(time.RFC3339),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// ToBytes serializes the result for transmission.
func (r *ConversionResult) ToBytes() ([]byte, error) {
	return json.Marshal(r)
}
