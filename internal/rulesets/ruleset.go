// Package rulesets implements header-manipulation rule sets.
package rulesets

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"switchboard.dev/internal/bulk"
	"switchboard.dev/internal/journal"
	"switchboard.dev/internal/obs"
	"switchboard.dev/internal/permission"
	"switchboard.dev/internal/resource"
)

// RuleSet groups header rules of a reseller or a single subscriber.
type RuleSet struct {
	ID           int64  `json:"id"`
	ResellerID   *int64 `json:"reseller_id"`
	SubscriberID *int64 `json:"subscriber_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
}

// Request is the client shape of a rule set.
type Request struct {
	ID           int64  `json:"id" patch:"readonly"`
	ResellerID   *int64 `json:"reseller_id" validate:"omitempty,gt=0"`
	SubscriberID *int64 `json:"subscriber_id" validate:"omitempty,gt=0"`
	Name         string `json:"name" validate:"required,max=255"`
	Description  string `json:"description" validate:"required,max=255"`
}

// Kind maps rule sets between their representations.
type Kind struct{}

func (Kind) Name() string                          { return "header-rule-sets" }
func (Kind) FromInternal(s RuleSet) Request        { return Request(s) }
func (Kind) ToInternal(r Request) (RuleSet, error) { return RuleSet(r), nil }
func (Kind) ID(s RuleSet) int64                    { return s.ID }
func (Kind) SetID(s *RuleSet, id int64)            { s.ID = id }
func (Kind) Tenant(s RuleSet) *int64               { return s.ResellerID }
func (Kind) SetTenant(s *RuleSet, reseller *int64) { s.ResellerID = reseller }

// Store persists rule sets.
type Store interface {
	resource.Store[RuleSet]
	ListByReseller(ctx context.Context, resellerID int64) ([]RuleSet, error)
}

// Cache is the shared cache rule-set lists are kept in.
type Cache interface {
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, v any) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Service is the rule-set resource with a cached per-reseller listing.
type Service struct {
	*resource.Service[RuleSet, Request]
	store Store
	cache Cache
	log   zerolog.Logger
}

// New returns the rule-set service. cache may be nil.
func New(store Store, j resource.Journal, tx resource.TxRunner, cache Cache) *Service {
	s := &Service{store: store, cache: cache, log: *obs.Logger()}
	s.Service = resource.New[RuleSet, Request](Kind{}, store, j,
		resource.WithTx[RuleSet, Request](tx),
		resource.WithAfterCommit[RuleSet, Request](s.invalidate),
	)
	return s
}

// ResellerKey is the cache key of a reseller's rule-set list.
func ResellerKey(resellerID int64) string {
	return fmt.Sprintf("switchboard:header-rule-sets:reseller:%d", resellerID)
}

// ForReseller lists the rule sets of resellerID, from cache when possible.
func (s *Service) ForReseller(ctx context.Context, resellerID int64) ([]RuleSet, error) {
	f, err := permission.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.CheckTenant(&resellerID); err != nil {
		return nil, err
	}
	key := ResellerKey(resellerID)
	var sets []RuleSet
	if s.cache != nil && s.cache.Get(ctx, key, &sets) {
		return sets, nil
	}
	sets, err = s.store.ListByReseller(ctx, resellerID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, sets); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("rule-set cache fill failed")
		}
	}
	return sets, nil
}

// invalidate drops the cached lists of every reseller a mutation touched.
func (s *Service) invalidate(ctx context.Context, op journal.Operation, ms []bulk.Mutation[RuleSet]) {
	if s.cache == nil {
		return
	}
	seen := map[int64]bool{}
	var keys []string
	add := func(rid *int64) {
		if rid != nil && !seen[*rid] {
			seen[*rid] = true
			keys = append(keys, ResellerKey(*rid))
		}
	}
	for _, m := range ms {
		add(m.Old.ResellerID)
		add(m.New.ResellerID)
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn().Err(err).Str("operation", string(op)).Strs("keys", keys).Msg("rule-set cache invalidation failed")
	}
}
