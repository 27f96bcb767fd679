// Package processor handles incoming mention messages from the extraction
// pipeline. Each mention is persisted with a dedupe fingerprint and resolved
// online against the current entity store; an extraction.completed signal
// kicks off a full-corpus resolution run.
package processor

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// MentionStore persists incoming mentions
type MentionStore interface {
	Upsert(ctx context.Context, m *models.Mention) (*models.Mention, error)
}

// Processor handles mention message processing
type Processor struct {
	logger   ectologger.Logger
	mentions MentionStore
	resolver *resolver.Service
}

// NewProcessor creates a new mention processor
func NewProcessor(logger ectologger.Logger, mentions MentionStore, resolverService *resolver.Service) *Processor {
	return &Processor{
		logger:   logger,
		mentions: mentions,
		resolver: resolverService,
	}
}

// HandleMessage is the Kafka consumer entrypoint
func (p *Processor) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.HandleMessage")
	defer span.End()

	if msg.IsExtractionCompleted() {
		return p.handleExtractionCompleted(ctx, msg)
	}

	if !msg.IsMention() {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"topic":  msg.Topic,
			"offset": msg.Offset,
		}).Warn("Dropping message with no usable mention")
		return nil
	}

	return p.handleMention(ctx, msg)
}

func (p *Processor) handleMention(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.handleMention")
	defer span.End()

	in := msg.MentionMessage
	tenantID := msg.GetTenantID()
	if tenantID == "" {
		p.logger.WithContext(ctx).Warn("Dropping mention with no tenant ID")
		return nil
	}
	ctx = fernctx.SetTenantID(ctx, tenantID)
	ctx = fernctx.SetCorpusID(ctx, in.CorpusID)

	observedAt := in.Timestamp
	if observedAt.IsZero() {
		observedAt = msg.Timestamp
	}
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	m := &models.Mention{
		TenantID:       tenantID,
		CorpusID:       in.CorpusID,
		EntityType:     in.EntityType,
		Text:           in.Text,
		NormalizedText: normalizers.Normalize(in.Text, in.EntityType),
		SourceDocID:    in.SourceDocID,
		SentenceIndex:  in.SentenceIndex,
		Role:           in.Role,
		Fingerprint:    fingerprint.Mention(in.CorpusID, in.EntityType, in.Text, in.SourceDocID, in.SentenceIndex),
		ObservedAt:     observedAt,
	}

	stored, err := p.mentions.Upsert(ctx, m)
	if err != nil {
		return err
	}

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"mention_id": stored.ID,
		"corpus_id":  stored.CorpusID,
	})

	// A replayed message lands on an already-resolved mention; nothing to do.
	if stored.Status != models.MentionStatusPending {
		log.Debug("Mention already processed, skipping")
		return nil
	}

	outcome, err := p.resolver.ResolveMention(ctx, tenantID, stored)
	if err != nil {
		log.WithError(err).Error("Failed to resolve mention")
		return err
	}

	log.WithFields(map[string]any{"outcome": string(outcome)}).Debug("Resolved mention")
	return nil
}

// handleExtractionCompleted starts a full resolution run for the corpus. The
// run is checkpointed, so it runs detached from the consumer loop and a crash
// mid-run resumes on the next signal.
func (p *Processor) handleExtractionCompleted(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.handleExtractionCompleted")
	defer span.End()

	evt, err := msg.ParseExtractionCompleted()
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to parse extraction.completed event")
		return nil
	}
	if evt.TenantID == "" || evt.CorpusID == "" {
		p.logger.WithContext(ctx).Warn("Dropping extraction.completed event with missing tenant or corpus")
		return nil
	}

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": evt.TenantID,
		"corpus_id": evt.CorpusID,
		"status":    evt.Status,
	})
	log.Info("Extraction completed, starting resolution run")

	runCtx := fernctx.SetTenantID(context.Background(), evt.TenantID)
	runCtx = fernctx.SetCorpusID(runCtx, evt.CorpusID)

	go func() {
		resp, err := p.resolver.ResolveAll(runCtx, evt.TenantID, models.ResolveAllRequest{CorpusID: evt.CorpusID})
		if err != nil {
			log.WithError(err).Error("Resolution run failed")
			return
		}
		log.WithFields(map[string]any{
			"run_id":      resp.RunID,
			"auto_merged": resp.AutoMerged,
			"queued":      resp.ReviewQueue,
		}).Info("Resolution run finished")
	}()

	return nil
}
