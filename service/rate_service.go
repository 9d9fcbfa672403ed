package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RateQuote 汇率快照：原生代币的稳定币计价。
type RateQuote struct {
	Rate       decimal.Decimal `json:"rate"`
	Source     string          `json:"source"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Fresh 快照是否在新鲜度窗口内。
func (q RateQuote) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(q.ObservedAt) <= maxAge
}

// RateQuoter 订单服务依赖的最小接口。
type RateQuoter interface {
	Quote(ctx context.Context) (RateQuote, error)
}

// RateService 拉取外部价格源并缓存最近一次成功快照。
// 拉取失败时，缓存仍然新鲜就用缓存，否则返回可重试错误——
// 过期汇率宁可拒单也不能拿来折算出金额。
type RateService struct {
	client *resty.Client
	url    string
	source string
	maxAge time.Duration
	logger *zap.Logger

	mu   sync.RWMutex
	last *RateQuote

	now func() time.Time
}

func NewRateService(url, source string, maxAge time.Duration, logger *zap.Logger) *RateService {
	return &RateService{
		client: resty.New().SetTimeout(5 * time.Second),
		url:    url,
		source: source,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

type rateResponse struct {
	Price     string `json:"price"`
	Source    string `json:"source"`
	Timestamp int64  `json:"ts"` // unix 秒，缺省用本地时间
}

func (s *RateService) Quote(ctx context.Context) (RateQuote, error) {
	quote, err := s.fetch(ctx)
	if err == nil {
		s.mu.Lock()
		s.last = &quote
		s.mu.Unlock()
		return quote, nil
	}
	s.logger.Warn("rate fetch failed, falling back to cache", zap.Error(err))

	s.mu.RLock()
	cached := s.last
	s.mu.RUnlock()
	if cached != nil && cached.Fresh(s.now(), s.maxAge) {
		return *cached, nil
	}
	if cached != nil {
		return RateQuote{}, fmt.Errorf("%w: last quote at %s", ErrRateStale, cached.ObservedAt.Format(time.RFC3339))
	}
	return RateQuote{}, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
}

func (s *RateService) fetch(ctx context.Context) (RateQuote, error) {
	var body rateResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(s.url)
	if err != nil {
		return RateQuote{}, err
	}
	if resp.StatusCode() != 200 {
		return RateQuote{}, fmt.Errorf("rate source returned %d", resp.StatusCode())
	}
	rate, err := decimal.NewFromString(body.Price)
	if err != nil {
		return RateQuote{}, fmt.Errorf("parse price %q: %w", body.Price, err)
	}
	if rate.Sign() <= 0 {
		return RateQuote{}, fmt.Errorf("non-positive rate %s", rate)
	}
	observed := s.now()
	if body.Timestamp > 0 {
		observed = time.Unix(body.Timestamp, 0)
	}
	if !(RateQuote{ObservedAt: observed}).Fresh(s.now(), s.maxAge) {
		return RateQuote{}, fmt.Errorf("%w: source timestamp %d", ErrRateStale, body.Timestamp)
	}
	source := body.Source
	if source == "" {
		source = s.source
	}
	return RateQuote{Rate: rate, Source: source, ObservedAt: observed}, nil
}
