package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"vinreports-api/internal/model"
	"vinreports-api/internal/repository"
	"vinreports-api/internal/store"
	"vinreports-api/internal/vin"
	"vinreports-api/pkg/apierror"
)

// ShareBucket holds one key per outstanding share token.
const ShareBucket = "share_tokens"

// SharePrefix is the prefix for all share tokens.
const SharePrefix = "shr_"

// ShareService mints expiring tokens that resolve to cached reports only.
// Issuing or resolving a share link never triggers a billable fetch.
type ShareService struct {
	kv    store.KeyValueStore
	cache repository.ReportCacheRepository
	ttl   time.Duration
}

// NewShareService creates a share-link issuer.
func NewShareService(kv store.KeyValueStore, cacheRepo repository.ReportCacheRepository, ttl time.Duration) *ShareService {
	return &ShareService{kv: kv, cache: cacheRepo, ttl: ttl}
}

// Issue mints a share token for an already-cached report. Fails with
// not_found if the report is not cached.
func (s *ShareService) Issue(ctx context.Context, vinRaw, reportType string) (*model.ShareToken, error) {
	vinID := vin.Normalize(vinRaw)
	if reportType == "" {
		reportType = DefaultReportType
	}

	cached, err := s.cache.Exists(ctx, vinID, reportType)
	if err != nil {
		return nil, fmt.Errorf("failed to check cache: %w", err)
	}
	if !cached {
		return nil, apierror.ReportNotFound("Only cached reports can be shared")
	}

	tokenBytes := make([]byte, 24)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate share token: %w", err)
	}

	token := model.ShareToken{
		Token:      SharePrefix + hex.EncodeToString(tokenBytes),
		VIN:        vinID,
		ReportType: reportType,
		ExpiresAt:  time.Now().UTC().Add(s.ttl),
	}

	record, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize share token: %w", err)
	}
	if err := s.kv.Put(ShareBucket, token.Token, record); err != nil {
		return nil, fmt.Errorf("failed to store share token: %w", err)
	}

	return &token, nil
}

// Resolve returns the cached report a token points at. Expired and
// unknown tokens are indistinguishable to the caller.
func (s *ShareService) Resolve(ctx context.Context, token string) (*model.CachedReport, error) {
	record, err := s.kv.Get(ShareBucket, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierror.ReportNotFound("")
		}
		log.Printf("[ShareService] Token lookup failed: %v", err)
		return nil, apierror.InternalError("")
	}

	var share model.ShareToken
	if err := json.Unmarshal(record, &share); err != nil {
		return nil, apierror.ReportNotFound("")
	}

	if time.Now().After(share.ExpiresAt) {
		_ = s.kv.Delete(ShareBucket, token)
		return nil, apierror.ReportNotFound("")
	}

	entry, err := s.cache.Get(ctx, share.VIN, share.ReportType)
	if err != nil || entry == nil {
		return nil, apierror.ReportNotFound("")
	}
	return entry, nil
}

// PurgeExpired removes expired share tokens from the store. Called
// periodically by the cleanup scheduler.
func (s *ShareService) PurgeExpired() (int, error) {
	now := time.Now()
	var expired []string

	err := s.kv.ForEach(ShareBucket, func(key string, value []byte) error {
		var share model.ShareToken
		if err := json.Unmarshal(value, &share); err != nil {
			// Unreadable records are purged too.
			expired = append(expired, key)
			return nil
		}
		if now.After(share.ExpiresAt) {
			expired = append(expired, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, key := range expired {
		if err := s.kv.Delete(ShareBucket, key); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}
