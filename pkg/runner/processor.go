package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	pipeerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/message"
	"github.com/wehubfusion/Daedalus/pkg/proxy"
	"github.com/wehubfusion/Daedalus/pkg/rules"
	"github.com/wehubfusion/Daedalus/pkg/scriptfilter"
	"github.com/wehubfusion/Daedalus/pkg/settings"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

// Processor defines the interface for conversion job processing
// implementations.
type Processor interface {
	Process(ctx context.Context, job *message.ConversionJob) (*message.ConversionResult, error)
}

// ConversionProcessor applies the export stages of a conversion job to its
// node list: script filtering, renaming, emoji, sorting and capability
// overrides. Each job gets its own settings value and therefore its own
// scripting context; jobs never share scripting state.
type ConversionProcessor struct {
	logger *zap.Logger
	store  storage.PayloadStore
}

// NewConversionProcessor creates a processor. store may be nil when jobs
// always carry inline node lists.
func NewConversionProcessor(logger *zap.Logger, store storage.PayloadStore) *ConversionProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversionProcessor{logger: logger, store: store}
}

// Process runs the export stages for one job and returns the result. A
// stage-level script failure (throw, eval error, missing filter function)
// is returned as an error with the node list untouched, so the submitter
// sees "filter not applied" rather than a partially filtered list.
func (p *ConversionProcessor) Process(ctx context.Context, job *message.ConversionJob) (*message.ConversionResult, error) {
	if err := job.Validate(); err != nil {
		return nil, pipeerrors.NewError("INVALID_JOB", "job failed validation", err)
	}

	nodes, err := p.resolveNodes(ctx, job)
	if err != nil {
		return nil, err
	}
	total := len(nodes)

	es := settings.NewExtraSettings(p.logger)
	defer es.Close()
	applyJobOptions(es, job.Options)

	if job.Options.FilterScript != "" {
		if err := es.EvalFilterFunction(&nodes, job.Options.FilterScript); err != nil {
			return nil, err
		}
	}

	if len(es.RenameArray) > 0 {
		rules.ApplyRename(nodes, es.RenameArray, p.logger)
	}
	if es.AddEmoji {
		rules.ApplyEmoji(nodes, es.EmojiArray, es.RemoveEmoji, p.logger)
	}

	if es.SortFlag {
		if es.SortScript != "" {
			if err := es.EvalSortFunction(&nodes, es.SortScript); err != nil {
				return nil, err
			}
		} else {
			sort.SliceStable(nodes, func(i, j int) bool {
				return nodes[i].Remark < nodes[j].Remark
			})
		}
	}

	applyCapabilityOverrides(nodes, es)

	p.logger.Info("Conversion job processed",
		zap.String("job_id", job.JobID),
		zap.String("target", job.Target),
		zap.Int("input_nodes", total),
		zap.Int("output_nodes", len(nodes)))

	return message.NewSuccessResult(job.JobID, nodes, total-len(nodes)), nil
}

// resolveNodes returns the job's node list, fetching it from blob storage
// when the payload was offloaded.
func (p *ConversionProcessor) resolveNodes(ctx context.Context, job *message.ConversionJob) (proxy.NodeList, error) {
	if job.NodesRef == nil {
		return job.Nodes, nil
	}
	if p.store == nil {
		return nil, pipeerrors.NewError("NO_PAYLOAD_STORE",
			"job references an offloaded payload but no payload store is configured",
			pipeerrors.ErrPayloadTooLarge)
	}

	data, err := p.store.DownloadPayload(ctx, job.NodesRef.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch offloaded nodes for job %s: %w", job.JobID, err)
	}

	var nodes proxy.NodeList
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, pipeerrors.NewError("INVALID_JOB", "offloaded node payload is not valid JSON", err)
	}
	return nodes, nil
}

// applyJobOptions copies the submitter's knobs onto the per-request
// settings value.
func applyJobOptions(es *settings.ExtraSettings, opts message.Options) {
	es.RenameArray = opts.RenameRules
	es.EmojiArray = opts.EmojiRules
	es.AddEmoji = opts.AddEmoji
	es.RemoveEmoji = opts.RemoveEmoji
	es.SortFlag = opts.SortFlag
	es.SortScript = opts.SortScript
	es.UDP = opts.UDP
	es.TFO = opts.TFO
	es.SkipCertVerify = opts.SkipCertVerify
	es.TLS13 = opts.TLS13
}

// applyCapabilityOverrides forces the per-request capability flags onto
// every node; nil overrides leave node values alone.
func applyCapabilityOverrides(nodes proxy.NodeList, es *settings.ExtraSettings) {
	for i := range nodes {
		if es.UDP != nil {
			v := *es.UDP
			nodes[i].UDP = &v
		}
		if es.TFO != nil {
			v := *es.TFO
			nodes[i].TFO = &v
		}
		if es.SkipCertVerify != nil {
			v := *es.SkipCertVerify
			nodes[i].SkipCertVerify = &v
		}
		if es.TLS13 != nil {
			v := *es.TLS13
			nodes[i].TLS13 = &v
		}
	}
}

// isTerminal reports whether a processing error is deterministic, meaning
// redelivery cannot succeed and the job should be terminated with an error
// result instead of retried.
func isTerminal(err error) bool {
	var fe *scriptfilter.FilterError
	if errors.As(err, &fe) {
		return true
	}
	var pe *pipeerrors.Error
	if errors.As(err, &pe) && pe.Code == "INVALID_JOB" {
		return true
	}
	return errors.Is(err, pipeerrors.ErrInvalidJob)
}
