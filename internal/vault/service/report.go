package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"trustkit/internal/vault/models"
	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/platform/sentinel"
	"trustkit/pkg/requestcontext"
)

// PerformSecurityAudit classifies every item by access control and expiry.
// It reads metadata only and never passes the gate.
func (s *Service) PerformSecurityAudit(ctx context.Context) (*models.Report, error) {
	keys, err := s.allKeys(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	report := &models.Report{
		ProtectedItems:   []string{},
		UnprotectedItems: []string{},
		ExpiredItems:     []string{},
		Recommendations:  []string{},
		GeneratedAt:      now,
	}
	var memoryOnly int
	for _, key := range keys {
		item, err := s.snapshot(ctx, key)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		report.TotalItems++
		if item.AccessControl.RequiresAuthentication() {
			report.ProtectedItems = append(report.ProtectedItems, key)
		} else {
			report.UnprotectedItems = append(report.UnprotectedItems, key)
		}
		if item.IsExpiredAt(now) {
			report.ExpiredItems = append(report.ExpiredItems, key)
		}
		if !item.Persistent {
			memoryOnly++
		}
	}

	if n := len(report.UnprotectedItems); n > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("Consider adding access control to %d %s stored without protection", n, plural(n, "item", "items")))
	}
	if n := len(report.ExpiredItems); n > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("Remove %d expired %s", n, plural(n, "item", "items")))
	}
	if memoryOnly > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%d memory-only %s will be lost on restart", memoryOnly, plural(memoryOnly, "item", "items")))
	}

	s.emit(ctx, audit.OperationExport, "*", audit.OutcomeSuccess, "security audit")
	return report, nil
}

// FindDuplicateValues groups keys holding identical values. Values are
// compared by keyed fingerprint; plaintext never leaves this function and
// expired items are ignored.
func (s *Service) FindDuplicateValues(ctx context.Context) ([]models.DuplicateGroup, error) {
	keys, err := s.allKeys(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	byPrint := make(map[string][]string)
	for _, key := range keys {
		item, err := s.snapshot(ctx, key)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if item.IsExpiredAt(now) {
			continue
		}
		fp := s.fingerprinter.Fingerprint(item.Value)
		clear(item.Value)
		byPrint[fp] = append(byPrint[fp], key)
	}

	groups := make([]models.DuplicateGroup, 0)
	for fp, ks := range byPrint {
		if len(ks) < 2 {
			continue
		}
		sort.Strings(ks)
		groups = append(groups, models.DuplicateGroup{Fingerprint: fp, Keys: ks})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Keys[0] < groups[j].Keys[0]
	})

	s.emit(ctx, audit.OperationExport, "*", audit.OutcomeSuccess, fmt.Sprintf("duplicate scan found %d groups", len(groups)))
	return groups, nil
}

func (s *Service) snapshot(ctx context.Context, key string) (*models.Item, error) {
	lock := s.locks.forKey(key)
	lock.RLock()
	defer lock.RUnlock()

	item, err := s.lookup(ctx, key)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, &models.StorageError{Op: "scan", Key: key, Kind: models.KindReadFailed, Err: err}
	}
	return item, err
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
