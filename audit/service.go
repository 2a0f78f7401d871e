// audit/service.go
package audit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	aegis_errors "github.com/framelane/aegis/errors"
	logger "github.com/framelane/aegis/logging"
	"github.com/framelane/aegis/model"
)

// Service is the tamper-evident audit log. Every entry is checksummed with
// a keyed hash at append time; verification recomputes the checksum from
// the stored entry and flags any difference as tampering.
type Service interface {
	Append(ctx context.Context, entry Entry) (string, error)
	RecordApproval(ctx context.Context, subjectID string, payload ApprovalPayload) (string, error)
	RecordPayment(ctx context.Context, subjectID string, payload PaymentPayload) (string, error)
	RecordSubscriptionChange(ctx context.Context, subjectID string, payload SubscriptionPayload) (string, error)
	RecordViolation(ctx context.Context, subjectID string, payload ViolationPayload) (string, error)
	RecordSystemEvent(ctx context.Context, subjectID string, payload SystemPayload) (string, error)
	VerifyIntegrity(ctx context.Context, id string) (*VerificationResult, error)
	QueryEntries(ctx context.Context, filter QueryFilter) ([]Entry, error)
	GetAuditStatistics(ctx context.Context) (*Statistics, error)
	PerformBatchIntegrityCheck(ctx context.Context) (*BatchIntegrityReport, error)
	CleanupOldEntries(ctx context.Context, retentionDays int) (int, error)
}

const defaultQueryLimit = 100

type service struct {
	repo    Repository
	indexer Indexer
	secret  []byte
	now     func() time.Time
}

// Option configures the audit service.
type Option func(*service)

// WithIndexer attaches a best-effort secondary index.
func WithIndexer(ix Indexer) Option {
	return func(s *service) {
		s.indexer = ix
	}
}

// WithClock overrides the clock used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the audit log. The secret feeds the keyed checksum and
// must be non-empty; it is never logged.
func NewService(repo Repository, secret []byte, opts ...Option) (Service, error) {
	if len(secret) == 0 {
		return nil, aegis_errors.ErrMissingSecret
	}
	s := &service{
		repo:   repo,
		secret: secret,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Append(ctx context.Context, entry Entry) (string, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	if entry.ID == "" {
		entry.ID = newEntryID(entry.Kind, entry.Timestamp)
	}
	if entry.SubjectType == "" {
		if entry.SubjectID == "" {
			entry.SubjectType = SubjectTypeAnonymous
		} else {
			entry.SubjectType = SubjectTypeUser
		}
	}
	if err := entry.Validate(); err != nil {
		return "", err
	}

	checksum, err := computeChecksum(s.secret, &entry)
	if err != nil {
		return "", fmt.Errorf("failed to checksum audit entry: %w", err)
	}
	entry.Checksum = checksum

	if err := s.repo.Save(ctx, entry); err != nil {
		return "", fmt.Errorf("failed to store audit entry: %w", err)
	}

	if s.indexer != nil {
		if err := s.indexer.Index(ctx, entry); err != nil {
			logger.Warn("Failed to index audit entry",
				zap.Error(err),
				zap.String("entryID", entry.ID))
		}
	}

	logger.Debug("Audit entry appended",
		zap.String("entryID", entry.ID),
		zap.String("kind", string(entry.Kind)))
	return entry.ID, nil
}

func (s *service) RecordApproval(ctx context.Context, subjectID string, payload ApprovalPayload) (string, error) {
	return s.Append(ctx, Entry{
		Kind:      KindApprovalAction,
		SubjectID: subjectID,
		Approval:  &payload,
	})
}

func (s *service) RecordPayment(ctx context.Context, subjectID string, payload PaymentPayload) (string, error) {
	return s.Append(ctx, Entry{
		Kind:      KindPaymentTransaction,
		SubjectID: subjectID,
		Payment:   &payload,
	})
}

func (s *service) RecordSubscriptionChange(ctx context.Context, subjectID string, payload SubscriptionPayload) (string, error) {
	return s.Append(ctx, Entry{
		Kind:         KindSubscriptionChange,
		SubjectID:    subjectID,
		Subscription: &payload,
	})
}

func (s *service) RecordViolation(ctx context.Context, subjectID string, payload ViolationPayload) (string, error) {
	return s.Append(ctx, Entry{
		Kind:      KindSecurityViolation,
		SubjectID: subjectID,
		Violation: &payload,
	})
}

func (s *service) RecordSystemEvent(ctx context.Context, subjectID string, payload SystemPayload) (string, error) {
	entry := Entry{
		Kind:      KindSystemEvent,
		SubjectID: subjectID,
		System:    &payload,
	}
	if subjectID == "" {
		entry.SubjectType = SubjectTypeSystem
	}
	return s.Append(ctx, entry)
}

// VerifyIntegrity recomputes the checksum of a stored entry and compares it
// byte for byte with the stored value. A missing entry reports tampered.
func (s *service) VerifyIntegrity(ctx context.Context, id string) (*VerificationResult, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return &VerificationResult{EntryID: id, IsValid: false, Tampered: true}, err
	}
	ok, err := checksumMatches(s.secret, entry)
	if err != nil {
		return nil, err
	}
	return &VerificationResult{EntryID: id, IsValid: ok, Tampered: !ok}, nil
}

// QueryEntries returns matches sorted newest first, paginated after the sort.
func (s *service) QueryEntries(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	entries, err := s.repo.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", err)
	}

	matched := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if matchesFilter(&entry, &filter) {
			matched = append(matched, entry)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []Entry{}, nil
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func matchesFilter(entry *Entry, filter *QueryFilter) bool {
	if filter.SubjectID != "" && entry.SubjectID != filter.SubjectID {
		return false
	}
	if filter.Kind != "" && entry.Kind != filter.Kind {
		return false
	}
	if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
		return false
	}
	if filter.ResourceID != "" && entry.ResourceID() != filter.ResourceID {
		return false
	}
	if filter.Severity != "" && entry.Severity() != filter.Severity {
		return false
	}
	return true
}

func (s *service) GetAuditStatistics(ctx context.Context) (*Statistics, error) {
	entries, err := s.repo.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", err)
	}

	stats := &Statistics{
		TotalEntries: len(entries),
		ByKind:       make(map[Kind]int),
		BySeverity:   make(map[model.Severity]int),
	}
	for _, entry := range entries {
		stats.ByKind[entry.Kind]++
		if sev := entry.Severity(); sev != "" {
			stats.BySeverity[sev]++
		}
		ts := entry.Timestamp
		if stats.OldestEntry == nil || ts.Before(*stats.OldestEntry) {
			stats.OldestEntry = &ts
		}
		if stats.NewestEntry == nil || ts.After(*stats.NewestEntry) {
			stats.NewestEntry = &ts
		}
	}
	return stats, nil
}

// PerformBatchIntegrityCheck verifies every stored entry. Each mismatch is
// itself recorded as a security violation referencing the offending id.
func (s *service) PerformBatchIntegrityCheck(ctx context.Context) (*BatchIntegrityReport, error) {
	entries, err := s.repo.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", err)
	}

	report := &BatchIntegrityReport{}
	for i := range entries {
		report.ProcessedCount++
		ok, err := checksumMatches(s.secret, &entries[i])
		if err != nil {
			report.FailedCount++
			report.Errors = append(report.Errors, fmt.Sprintf("entry %s: %v", entries[i].ID, err))
			continue
		}
		if ok {
			continue
		}
		report.FailedCount++
		report.Errors = append(report.Errors, fmt.Sprintf("entry %s: checksum mismatch", entries[i].ID))

		if _, err := s.RecordViolation(ctx, entries[i].SubjectID, ViolationPayload{
			ViolationType:         ViolationIntegrityFailure,
			Severity:              model.SeverityHigh,
			Description:           fmt.Sprintf("integrity check failed for audit entry %s", entries[i].ID),
			RequiresInvestigation: true,
		}); err != nil {
			logger.Error("Failed to record integrity violation",
				zap.Error(err),
				zap.String("entryID", entries[i].ID))
		}
	}

	logger.Info("Batch integrity check completed",
		zap.Int("processed", report.ProcessedCount),
		zap.Int("failed", report.FailedCount))
	return report, nil
}

// CleanupOldEntries purges entries older than the retention cutoff and logs
// the purge itself as a system event.
func (s *service) CleanupOldEntries(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, aegis_errors.ErrInvalidQueryData
	}
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)

	removed, err := s.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit entries: %w", err)
	}
	if s.indexer != nil {
		if err := s.indexer.DeleteBefore(ctx, cutoff); err != nil {
			logger.Warn("Failed to purge audit index", zap.Error(err))
		}
	}

	if _, err := s.RecordSystemEvent(ctx, "", SystemPayload{
		Component: "TamperEvidentAuditLog",
		Event:     "retention_cleanup",
		Details: map[string]string{
			"removed":        strconv.Itoa(removed),
			"retention_days": strconv.Itoa(retentionDays),
		},
	}); err != nil {
		logger.Warn("Failed to record retention cleanup event", zap.Error(err))
	}

	logger.Info("Audit retention cleanup completed",
		zap.Int("removed", removed),
		zap.Int("retentionDays", retentionDays))
	return removed, nil
}

func newEntryID(kind Kind, ts time.Time) string {
	return fmt.Sprintf("%s_%d_%s", kind, ts.UnixMilli(), uuid.NewString()[:8])
}
