// Package collector walks the paginated review listing of one entity.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/client"
	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
	"github.com/JakeFAU/review-harvester/internal/retry"
)

// ErrNothingHarvested means not a single page or metadata block was obtained.
var ErrNothingHarvested = errors.New("nothing harvested")

var errNotObject = errors.New("review detail is not a JSON object")

// AllLanguages is the unfiltered partition.
const AllLanguages = "all"

const (
	defaultPageSize            = 10
	defaultMaxConsecutiveEmpty = 5
	defaultMaxEmptyPages       = 10
	defaultPageDelayMin        = time.Second
	defaultPageDelayMax        = 2 * time.Second
	probePageSize              = 1
)

// Sender issues one logical request with retries.
type Sender interface {
	Send(ctx context.Context, spec client.RequestSpec, maxAttempts int) ([]byte, error)
}

// Config holds collector configuration.
type Config struct {
	Endpoint            string
	PageSize            int
	MaxAttempts         int
	MaxConsecutiveEmpty int
	MaxEmptyPages       int
	PageDelayMin        time.Duration
	PageDelayMax        time.Duration
	// DedupeReviews drops records whose id was already collected for the entity.
	DedupeReviews bool
}

// Collector is safe for concurrent use; each Collect call owns its state.
type Collector struct {
	cfg    Config
	sender Sender
	logger *zap.Logger
	pause  func(ctx context.Context) error
}

// New creates a Collector.
func New(cfg Config, sender Sender, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxConsecutiveEmpty <= 0 {
		cfg.MaxConsecutiveEmpty = defaultMaxConsecutiveEmpty
	}
	if cfg.MaxEmptyPages <= 0 {
		cfg.MaxEmptyPages = defaultMaxEmptyPages
	}
	if cfg.PageDelayMin <= 0 && cfg.PageDelayMax <= 0 {
		cfg.PageDelayMin = defaultPageDelayMin
		cfg.PageDelayMax = defaultPageDelayMax
	}
	c := &Collector{cfg: cfg, sender: sender, logger: logger}
	c.pause = func(ctx context.Context) error {
		return retry.Sleep(ctx, retry.Between(c.cfg.PageDelayMin, c.cfg.PageDelayMax))
	}
	return c
}

// Collect harvests every reviewable record of one entity.
//
// languages empty or ["all"] triggers a probe that discovers the languages
// present and the entity metadata. The walk itself is always unfiltered.
func (c *Collector) Collect(ctx context.Context, url string, id harvest.EntityID, languages []string) (harvest.HarvestResult, error) {
	result := harvest.HarvestResult{URL: url, Entity: id}
	locationID, err := strconv.ParseInt(id.LocationID, 10, 64)
	if err != nil {
		return result, fmt.Errorf("location id %q: %w", id.LocationID, err)
	}
	logger := c.logger.With(zap.String("url", url), zap.String("entity", id.String()))

	if wantsDiscovery(languages) {
		langs, info, found, err := c.probe(ctx, locationID)
		if err != nil {
			if ctx.Err() != nil {
				return result, fmt.Errorf("probe: %w", err)
			}
			logger.Warn("language probe failed, walking the unfiltered listing", zap.Error(err))
		}
		if len(langs) == 0 {
			langs = []string{AllLanguages}
		}
		result.Languages = langs
		result.Info, result.InfoFound = info, found
	} else {
		result.Languages = append([]string(nil), languages...)
	}
	if result.InfoFound {
		logger.Info("entity metadata",
			zap.String("name", result.Info.Name),
			zap.String("parent", result.Info.ParentName),
			zap.String("rating", result.Info.Rating),
			zap.String("declared_reviews", result.Info.DeclaredReviewCount),
			zap.Strings("languages", result.Languages),
		)
	}

	pagesOK, err := c.walk(ctx, locationID, &result, logger)
	if err != nil {
		return result, err
	}
	if pagesOK == 0 && !result.InfoFound {
		return result, fmt.Errorf("entity %s: %w", id, ErrNothingHarvested)
	}
	if !result.InfoFound {
		result.Info = fallbackInfo(id, len(result.Reviews))
	}
	return result, nil
}

func wantsDiscovery(languages []string) bool {
	return len(languages) == 0 || (len(languages) == 1 && languages[0] == AllLanguages)
}

func (c *Collector) probe(ctx context.Context, locationID int64) ([]string, harvest.LocationInfo, bool, error) {
	resp, err := c.fetch(ctx, locationID, nil, 1, probePageSize)
	if err != nil {
		return nil, harvest.LocationInfo{}, false, err
	}
	var langs []string
	for _, agg := range resp.LangAggs {
		if agg.Key == "" || agg.Key == AllLanguages || agg.Count <= 0 {
			continue
		}
		langs = append(langs, agg.Key)
	}
	info, found := firstLocationInfo(resp.Details)
	return langs, info, found, nil
}

// walk pages through the unfiltered listing, appending records to result. It
// returns the number of pages that were fetched and decoded.
func (c *Collector) walk(ctx context.Context, locationID int64, result *harvest.HarvestResult, logger *zap.Logger) (int, error) {
	var (
		empty       int
		consecutive int
		pagesOK     int
		seen        map[string]struct{}
	)
	if c.cfg.DedupeReviews {
		seen = make(map[string]struct{})
	}

	for page := 1; ; page++ {
		if page > 1 {
			if err := c.pause(ctx); err != nil {
				return pagesOK, fmt.Errorf("page pause: %w", err)
			}
		}
		resp, err := c.fetch(ctx, locationID, nil, page, c.cfg.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return pagesOK, fmt.Errorf("page %d: %w", page, err)
			}
			metrics.ObservePage("failed", 0)
			logger.Warn("page failed, ending walk", zap.Int("page", page), zap.Error(err))
			return pagesOK, nil
		}
		pagesOK++

		if len(resp.Details) == 0 {
			empty++
			consecutive++
			metrics.ObservePage("empty", 0)
			logger.Debug("empty page",
				zap.Int("page", page),
				zap.Int("consecutive_empty", consecutive),
				zap.Int("empty_total", empty),
			)
			if consecutive >= c.cfg.MaxConsecutiveEmpty || empty >= c.cfg.MaxEmptyPages {
				logger.Info("walk finished",
					zap.Int("last_page", page),
					zap.Int("reviews", len(result.Reviews)),
				)
				return pagesOK, nil
			}
			continue
		}
		consecutive = 0

		if !result.InfoFound {
			result.Info, result.InfoFound = firstLocationInfo(resp.Details)
		}
		added := 0
		for i, raw := range resp.Details {
			var detail reviewDetail
			if err := decodeDetail(raw, &detail); err != nil {
				logger.Warn("skipping malformed review",
					zap.Int("page", page),
					zap.Int("index", i),
					zap.Error(err),
				)
				continue
			}
			rec := detail.record()
			if seen != nil && rec.ID != "" {
				if _, dup := seen[rec.ID]; dup {
					continue
				}
				seen[rec.ID] = struct{}{}
			}
			result.Reviews = append(result.Reviews, rec)
			added++
		}
		metrics.ObservePage("ok", added)
		logger.Debug("page collected",
			zap.Int("page", page),
			zap.Int("records", added),
			zap.Int("total", len(result.Reviews)),
		)
	}
}

func (c *Collector) fetch(ctx context.Context, locationID int64, langs []string, page, size int) (reviewListResponse, error) {
	spec := client.RequestSpec{
		URL:  c.cfg.Endpoint,
		Body: newReviewListRequest(locationID, langs, page, size),
	}
	body, err := c.sender.Send(ctx, spec, c.cfg.MaxAttempts)
	if err != nil {
		return reviewListResponse{}, err
	}
	var resp reviewListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return reviewListResponse{}, fmt.Errorf("decode page %d: %w", page, err)
	}
	return resp, nil
}

// decodeDetail rejects anything but a JSON object, so null entries are not
// mistaken for empty reviews.
func decodeDetail(raw json.RawMessage, detail *reviewDetail) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errNotObject
	}
	return json.Unmarshal(trimmed, detail)
}

func firstLocationInfo(details []json.RawMessage) (harvest.LocationInfo, bool) {
	if len(details) == 0 {
		return harvest.LocationInfo{}, false
	}
	var first struct {
		LocationInfo *locationInfo `json:"locationInfo"`
	}
	if err := json.Unmarshal(details[0], &first); err != nil || first.LocationInfo == nil {
		return harvest.LocationInfo{}, false
	}
	return first.LocationInfo.info(), true
}

func fallbackInfo(id harvest.EntityID, collected int) harvest.LocationInfo {
	parentID, _ := strconv.ParseInt(id.ParentID, 10, 64)
	return harvest.LocationInfo{
		Name:                "entity " + id.LocationID,
		ParentID:            parentID,
		Rating:              "N/A",
		DeclaredReviewCount: strconv.Itoa(collected),
	}
}
