package ranking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/feedforge/rankmix/internal/affinity"
	"github.com/feedforge/rankmix/internal/cache"
	"github.com/feedforge/rankmix/internal/collab"
	"github.com/feedforge/rankmix/internal/content"
	"github.com/feedforge/rankmix/internal/event"
)

// Component score names used in the per-item algorithm score map.
const (
	ComponentHot           = "hot"
	ComponentRecency       = "recency"
	ComponentContent       = "content"
	ComponentCollaborative = "collaborative"
	ComponentSocialCollab  = "social_collaborative"
)

// RecommendationTypeMixed tags items produced by the blended ranking.
const RecommendationTypeMixed = "mixed"

// Defaults for mixer configuration.
const (
	DefaultColdStartThreshold = 5
	DefaultEngineBudget       = 2 * time.Second
	DefaultCacheTTL           = 5 * time.Minute
	DefaultPageLimit          = 20
)

// Request carries one ranking request's parameters.
type Request struct {
	UserID              string   `json:"user_id"`
	Page                int      `json:"page"`
	Limit               int      `json:"limit"`
	ExcludeIDs          []string `json:"exclude_ids,omitempty"`
	ClearCache          bool     `json:"clear_cache,omitempty"`
	UseCache            bool     `json:"use_cache"`
	IncludeDiversity    bool     `json:"include_diversity,omitempty"`
	IncludeSocialScores bool     `json:"include_social_scores,omitempty"`
}

func (r Request) normalized() Request {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.Limit < 1 {
		r.Limit = DefaultPageLimit
	}
	return r
}

// ScoredItem is one ranked entry in the response.
type ScoredItem struct {
	ID                 string             `json:"id"`
	TotalScore         float64            `json:"total_score"`
	AlgorithmScores    map[string]float64 `json:"algorithm_scores"`
	RecommendationType string             `json:"recommendation_type"`
	Tags               []string           `json:"tags,omitempty"`

	hotScore float64 // raw hot score, tie-break only
}

// Pagination describes the page window of a response.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Skip       int  `json:"skip"`
	Total      int  `json:"total"`
	HasMore    bool `json:"hasMore"`
	TotalPages int  `json:"totalPages"`
}

// Response is one complete ranking result.
type Response struct {
	Items      []ScoredItem  `json:"items"`
	Filters    Request       `json:"filters"`
	Pagination Pagination    `json:"pagination"`
	Weights    Weights       `json:"weights"`
	ColdStart  bool          `json:"cold_start"`
	CacheHit   bool          `json:"cache_hit"`
	SocialInfo *collab.Stats `json:"social_info,omitempty"`
}

// MixerConfig configures the recommendation mixer.
type MixerConfig struct {
	// Weights is the active blend profile; nil uses the defaults.
	Weights *Weights
	// WeightsVersion identifies the profile in cache keys.
	WeightsVersion string
	// ColdStartThreshold is the interaction count below which behavior-based
	// weights are zeroed.
	ColdStartThreshold int
	// EngineBudget bounds each engine's scoring time.
	EngineBudget time.Duration
	// CacheTTL bounds how long ranked pages stay cached.
	CacheTTL time.Duration
	// Logger for degradation events.
	Logger *slog.Logger
}

// Mixer orchestrates the scoring engines into one blended ranking.
type Mixer struct {
	catalog  content.Source
	events   event.Source
	affinity *affinity.Engine
	collab   *collab.Engine
	cache    cache.Store
	config   MixerConfig
}

// NewMixer creates a mixer over the engines and cache.
func NewMixer(
	catalog content.Source,
	events event.Source,
	affinityEngine *affinity.Engine,
	collabEngine *collab.Engine,
	cacheStore cache.Store,
	config MixerConfig,
) *Mixer {
	if config.Weights == nil {
		config.Weights = DefaultWeights()
	}
	if config.WeightsVersion == "" {
		config.WeightsVersion = DefaultWeightsVersion
	}
	if config.ColdStartThreshold == 0 {
		config.ColdStartThreshold = DefaultColdStartThreshold
	}
	if config.EngineBudget == 0 {
		config.EngineBudget = DefaultEngineBudget
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Mixer{
		catalog:  catalog,
		events:   events,
		affinity: affinityEngine,
		collab:   collabEngine,
		cache:    cacheStore,
		config:   config,
	}
}

// Recommend serves one blended, paginated ranking. It always returns a
// response: engine failures degrade the affected component to zero and the
// worst case is a pure popularity ranking.
func (m *Mixer) Recommend(ctx context.Context, req Request) (*Response, error) {
	req = req.normalized()

	if req.ClearCache {
		if err := m.cache.DeleteByPrefix(ctx, m.userCachePrefix(req.UserID)); err != nil {
			m.config.Logger.Warn("failed to clear ranking cache", "user_id", req.UserID, "error", err)
		}
	}

	key := m.cacheKey(req)
	if req.UseCache && !req.ClearCache {
		if cached, err := m.cache.Get(ctx, key); err == nil {
			var resp Response
			if err := json.Unmarshal(cached, &resp); err == nil {
				resp.CacheHit = true
				m.finishResponse(ctx, &resp, req)
				return &resp, nil
			}
		}
	}

	coldStart := m.detectColdStart(ctx, req.UserID)
	weights := m.config.Weights
	if coldStart {
		weights = weights.ColdStartAdjusted()
	}

	items, err := m.catalog.ListItems(ctx)
	if err != nil {
		// Even the baseline is unreachable; serve an empty but successful
		// response rather than failing the feed.
		m.config.Logger.Error("catalog unavailable, serving empty ranking", "user_id", req.UserID, "error", err)
		resp := m.emptyResponse(req, weights, coldStart)
		return resp, nil
	}

	scores := m.gatherEngineScores(ctx, req.UserID, coldStart)

	scored := m.blend(items, scores, weights, req.ExcludeIDs)
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].TotalScore != scored[j].TotalScore {
			return scored[i].TotalScore > scored[j].TotalScore
		}
		if scored[i].hotScore != scored[j].hotScore {
			return scored[i].hotScore > scored[j].hotScore
		}
		return scored[i].ID < scored[j].ID
	})

	total := len(scored)
	skip := (req.Page - 1) * req.Limit
	page := []ScoredItem{}
	if skip < total {
		end := skip + req.Limit
		if end > total {
			end = total
		}
		page = scored[skip:end]
	}

	totalPages := 0
	if req.Limit > 0 {
		totalPages = (total + req.Limit - 1) / req.Limit
	}

	resp := &Response{
		Items:   page,
		Filters: req,
		Pagination: Pagination{
			Page:       req.Page,
			Limit:      req.Limit,
			Skip:       skip,
			Total:      total,
			HasMore:    skip+len(page) < total,
			TotalPages: totalPages,
		},
		Weights:   *weights,
		ColdStart: coldStart,
	}

	if req.UseCache {
		if data, err := json.Marshal(resp); err == nil {
			if err := m.cache.Set(ctx, key, data, m.config.CacheTTL); err != nil {
				m.config.Logger.Warn("failed to cache ranking page", "user_id", req.UserID, "error", err)
			}
		}
	}

	m.finishResponse(ctx, resp, req)
	return resp, nil
}

// engineScores holds the raw per-engine score maps gathered for one request.
type engineScores struct {
	content map[string]float64
	plain   map[string]float64
	social  map[string]float64
}

// gatherEngineScores runs the behavior-based engines concurrently, each under
// the configured budget. A failed or timed-out engine contributes nothing.
// Under cold start the engines that need the user's own history are skipped;
// the social engine still runs off neighbor history.
func (m *Mixer) gatherEngineScores(ctx context.Context, userID string, coldStart bool) engineScores {
	var scores engineScores

	budgetCtx, cancel := context.WithTimeout(ctx, m.config.EngineBudget)
	defer cancel()

	var wg sync.WaitGroup
	run := func(name string, target *map[string]float64, compute func(context.Context) (map[string]float64, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := compute(budgetCtx)
			if err != nil {
				m.config.Logger.Warn("scoring engine degraded",
					"engine", name,
					"user_id", userID,
					"error", err)
				return
			}
			*target = result
		}()
	}

	if !coldStart {
		run("content", &scores.content, func(ctx context.Context) (map[string]float64, error) {
			recs, err := m.affinity.ContentRecommendations(ctx, userID, affinity.Options{ExcludeInteracted: true})
			if err != nil {
				return nil, err
			}
			result := make(map[string]float64, len(recs))
			for _, rec := range recs {
				result[rec.ItemID] = rec.Score
			}
			return result, nil
		})
		run("collaborative", &scores.plain, func(ctx context.Context) (map[string]float64, error) {
			return m.collab.PlainScores(ctx, userID)
		})
	}
	run("social_collaborative", &scores.social, func(ctx context.Context) (map[string]float64, error) {
		return m.collab.SocialScores(ctx, userID)
	})

	wg.Wait()
	return scores
}

// blend combines baseline and engine scores under the weight profile.
func (m *Mixer) blend(items []*content.Item, scores engineScores, weights *Weights, excludeIDs []string) []ScoredItem {
	exclude := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		exclude[id] = true
	}

	// Normalize hot over the kept candidates only, so an excluded outlier
	// cannot deflate everyone else's hot component.
	var maxHot float64
	for _, item := range items {
		if exclude[item.ID] {
			continue
		}
		if item.HotScore > maxHot {
			maxHot = item.HotScore
		}
	}
	contentNorm := normalizeScores(scores.content)
	plainNorm := normalizeScores(scores.plain)
	socialNorm := normalizeScores(scores.social)

	now := time.Now()
	scored := make([]ScoredItem, 0, len(items))
	for _, item := range items {
		if exclude[item.ID] {
			continue
		}

		hot := 0.0
		if maxHot > 0 {
			hot = item.HotScore / maxHot
		}
		recency := recencyScore(item.CreatedAt, now)

		components := map[string]float64{
			ComponentHot:           hot,
			ComponentRecency:       recency,
			ComponentContent:       contentNorm[item.ID],
			ComponentCollaborative: plainNorm[item.ID],
			ComponentSocialCollab:  socialNorm[item.ID],
		}
		total := weights.Hot*hot +
			weights.Recency*recency +
			weights.Content*components[ComponentContent] +
			weights.Collaborative*components[ComponentCollaborative] +
			weights.SocialCollab*components[ComponentSocialCollab]

		scored = append(scored, ScoredItem{
			ID:                 item.ID,
			TotalScore:         total,
			AlgorithmScores:    components,
			RecommendationType: RecommendationTypeMixed,
			Tags:               item.Tags,
			hotScore:           item.HotScore,
		})
	}
	return scored
}

// finishResponse applies the per-request presentation options that stay
// outside the cached snapshot: social transparency info and within-page
// diversification. Page membership never changes here.
func (m *Mixer) finishResponse(ctx context.Context, resp *Response, req Request) {
	if req.IncludeSocialScores {
		stats, err := m.collab.Stats(ctx, req.UserID)
		if err != nil {
			m.config.Logger.Warn("failed to load social stats", "user_id", req.UserID, "error", err)
		} else {
			resp.SocialInfo = stats
		}
	}
	if req.IncludeDiversity {
		diversify(resp.Items)
	}
	resp.Filters = req
}

// diversify greedily reorders a page so adjacent items avoid sharing their
// leading tag where possible.
func diversify(items []ScoredItem) {
	for i := 1; i < len(items); i++ {
		if leadTag(items[i]) != leadTag(items[i-1]) {
			continue
		}
		for j := i + 1; j < len(items); j++ {
			if leadTag(items[j]) != leadTag(items[i-1]) {
				items[i], items[j] = items[j], items[i]
				break
			}
		}
	}
}

func leadTag(item ScoredItem) string {
	if len(item.Tags) == 0 {
		return ""
	}
	return item.Tags[0]
}

func (m *Mixer) detectColdStart(ctx context.Context, userID string) bool {
	count, err := m.events.CountByActor(ctx, userID)
	if err != nil {
		// Without history data the behavior engines cannot score anyway.
		m.config.Logger.Warn("failed to count interactions, assuming cold start", "user_id", userID, "error", err)
		return true
	}
	return count < m.config.ColdStartThreshold
}

func (m *Mixer) emptyResponse(req Request, weights *Weights, coldStart bool) *Response {
	return &Response{
		Items:   []ScoredItem{},
		Filters: req,
		Pagination: Pagination{
			Page:  req.Page,
			Limit: req.Limit,
			Skip:  (req.Page - 1) * req.Limit,
		},
		Weights:   *weights,
		ColdStart: coldStart,
	}
}

func (m *Mixer) userCachePrefix(userID string) string {
	return "rank:" + userID + ":"
}

// cacheKey derives the page cache key from the request identity and the
// active weight profile version.
func (m *Mixer) cacheKey(req Request) string {
	excludes := make([]string, len(req.ExcludeIDs))
	copy(excludes, req.ExcludeIDs)
	sort.Strings(excludes)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s|%s",
		req.UserID, req.Page, req.Limit, strings.Join(excludes, ","), m.config.WeightsVersion)
	return m.userCachePrefix(req.UserID) + hex.EncodeToString(h.Sum(nil))[:32]
}

// recencyScore maps item age to [0, 1] with gradual decay: 1.0 for brand-new
// items, 0.5 at one week, tapering toward 0 for old inventory.
func recencyScore(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 1.0 / (1.0 + ageDays/7)
}

// normalizeScores scales a score map so the maximum becomes 1.
func normalizeScores(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return map[string]float64{}
	}
	var max float64
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	if max == 0 {
		return scores
	}
	normalized := make(map[string]float64, len(scores))
	for id, s := range scores {
		normalized[id] = s / max
	}
	return normalized
}
