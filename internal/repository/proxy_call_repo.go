package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/dto"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/cache"

	"gorm.io/gorm"
)

const proxyCallCacheTTL = time.Minute

type ProxyCallRepository interface {
	Resolve(ctx context.Context, callCode string) (*model.ProxyCall, error)
}

type proxyCallRepository struct {
	db    *gorm.DB
	cache cache.Cache
}

func NewProxyCallRepository(db *gorm.DB, inmemoryCache cache.Cache) ProxyCallRepository {
	return &proxyCallRepository{db: db, cache: inmemoryCache}
}

// Resolve loads an enabled call definition by code. Definitions are hot-path
// read-only config, so hits are served from the in-memory cache for a short
// TTL; admin edits become visible within that window.
func (r *proxyCallRepository) Resolve(ctx context.Context, callCode string) (*model.ProxyCall, error) {
	cacheKey := fmt.Sprintf("proxy_call:%s", callCode)
	if cached, found := r.cache.Get(cacheKey); found {
		if def, ok := cached.(*model.ProxyCall); ok {
			return def, nil
		}
	}

	var def model.ProxyCall
	err := r.db.WithContext(ctx).
		Where("call_code = ? AND enabled = ?", callCode, true).
		First(&def).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dto.NewCodedError(dto.ErrCodeProxyCallNotFound, fmt.Sprintf("proxy call %s not found or disabled", callCode))
		}
		return nil, err
	}

	r.cache.Set(cacheKey, &def, proxyCallCacheTTL)
	return &def, nil
}
