package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/billoapp/tabz-payments/internal"
	ratelimitmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/ratelimit"
)

type window struct {
	duration  time.Duration
	threshold int64
}

type keyLimit struct {
	keyType string
	windows []window
}

// Service enforces independent sliding-window limits per customer, phone and
// source IP. Any key over any of its windows denies the whole request, and
// every check is recorded so denials keep narrowing the allowance.
type Service struct {
	repository RepositoryAPI
	limits     []keyLimit
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(cfg internal.RateLimitConfig, repository RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repository: repository,
		limits: []keyLimit{
			{
				keyType: ratelimitmodel.KeyCustomer,
				windows: []window{
					{duration: time.Minute, threshold: int64(cfg.CustomerPerMinute)},
					{duration: time.Hour, threshold: int64(cfg.CustomerPerHour)},
				},
			},
			{
				keyType: ratelimitmodel.KeyPhone,
				windows: []window{
					{duration: time.Minute, threshold: int64(cfg.PhonePerMinute)},
					{duration: time.Hour, threshold: int64(cfg.PhonePerHour)},
				},
			},
			{
				keyType: ratelimitmodel.KeyIP,
				windows: []window{
					{duration: time.Minute, threshold: int64(cfg.IPPerMinute)},
					{duration: time.Hour, threshold: int64(cfg.IPPerHour)},
				},
			},
		},
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) keyValue(keyType, customerID, phone, ip string) string {
	switch keyType {
	case ratelimitmodel.KeyCustomer:
		return customerID
	case ratelimitmodel.KeyPhone:
		return phone
	default:
		return ip
	}
}

// Check evaluates every key against its windows. A denial still records the
// attempt for all keys before returning.
func (s *Service) Check(ctx context.Context, customerID, phone, ip string, amount int64) (*Result, error) {
	now := s.now()

	var denied *Result
	remaining := int64(-1)

	for _, limit := range s.limits {
		value := s.keyValue(limit.keyType, customerID, phone, ip)
		if value == "" {
			continue
		}

		for _, w := range limit.windows {
			since := now.Add(-w.duration)
			count, err := s.repository.CountSince(ctx, limit.keyType, value, since)
			if err != nil {
				return nil, fmt.Errorf("rate limit count for %s: %w", limit.keyType, err)
			}

			if count >= w.threshold {
				retryAfter := w.duration
				if oldest, err := s.repository.OldestSince(ctx, limit.keyType, value, since); err == nil && oldest != nil {
					retryAfter = oldest.Add(w.duration).Sub(now)
					if retryAfter < time.Second {
						retryAfter = time.Second
					}
				}

				s.logger.Warn("payment attempt rate limited",
					"key_type", limit.keyType,
					"window", w.duration.String(),
					"count", count,
					"threshold", w.threshold)

				denied = &Result{
					Allowed:           false,
					Reason:            fmt.Sprintf("too many payment attempts for this %s", limit.keyType),
					RetryAfter:        retryAfter,
					RemainingAttempts: 0,
				}
				break
			}

			if left := w.threshold - count - 1; remaining < 0 || left < remaining {
				remaining = left
			}
		}
		if denied != nil {
			break
		}
	}

	outcome := ratelimitmodel.OutcomeAllowed
	if denied != nil {
		outcome = ratelimitmodel.OutcomeDenied
	}
	s.record(ctx, customerID, phone, ip, outcome, amount)

	if denied != nil {
		return denied, nil
	}
	if remaining < 0 {
		remaining = 0
	}
	return &Result{Allowed: true, RemainingAttempts: remaining}, nil
}

// RecordOutcome stores the post-hoc result of an allowed attempt so later
// checks see the latest window state. Failures here only log; limiting must
// never break a payment that already went through.
func (s *Service) RecordOutcome(ctx context.Context, customerID, phone, ip string, outcome string, amount int64) {
	s.record(ctx, customerID, phone, ip, outcome, amount)
}

func (s *Service) record(ctx context.Context, customerID, phone, ip, outcome string, amount int64) {
	now := s.now()
	var attempts []*ratelimitmodel.Attempt
	for _, limit := range s.limits {
		value := s.keyValue(limit.keyType, customerID, phone, ip)
		if value == "" {
			continue
		}
		attempts = append(attempts, &ratelimitmodel.Attempt{
			KeyType:   limit.keyType,
			KeyValue:  value,
			Outcome:   outcome,
			Amount:    amount,
			CreatedAt: now,
		})
	}
	if len(attempts) == 0 {
		return
	}
	if err := s.repository.Record(ctx, attempts); err != nil {
		s.logger.Error("failed to record payment attempt", "error", err, "outcome", outcome)
	}
}
