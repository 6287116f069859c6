package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/client"
	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// fakeSender serves scripted pages. Probe requests (size 1) get probeBody.
type fakeSender struct {
	mu        sync.Mutex
	probeBody string
	probeErr  error
	pages     map[int]string
	failFrom  int
	requests  []reviewListRequest
}

func (f *fakeSender) Send(_ context.Context, spec client.RequestSpec, _ int) ([]byte, error) {
	req, ok := spec.Body.(reviewListRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected body %T", spec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if req.PageInfo.Size == probePageSize {
		if f.probeErr != nil {
			return nil, f.probeErr
		}
		return []byte(f.probeBody), nil
	}
	if f.failFrom > 0 && req.PageInfo.Num >= f.failFrom {
		return nil, &client.TerminalError{URL: spec.URL, Attempts: 5, Err: errors.New("boom")}
	}
	if body, ok := f.pages[req.PageInfo.Num]; ok {
		return []byte(body), nil
	}
	return []byte(`{"details":[]}`), nil
}

func (f *fakeSender) walkPages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pages []int
	for _, r := range f.requests {
		if r.PageInfo.Size != probePageSize {
			pages = append(pages, r.PageInfo.Num)
		}
	}
	return pages
}

func reviewJSON(id string) string {
	return fmt.Sprintf(`{"userReviewId":%q,"memberInfo":{"displayName":"user-%s"},"rating":5,"title":"t","content":"c-%s","lang":"en"}`, id, id, id)
}

func pageJSON(ids ...string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, reviewJSON(id))
	}
	return `{"details":[` + strings.Join(parts, ",") + `]}`
}

func newTestCollector(cfg Config, sender Sender) *Collector {
	cfg.Endpoint = "http://api.test/reviews"
	c := New(cfg, sender, nil)
	c.pause = func(context.Context) error { return nil }
	return c
}

var testEntity = harvest.EntityID{ParentID: "60763", LocationID: "105127"}

func TestCollect_StopsAfterFiveConsecutiveEmptyPages(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		probeBody: `{"details":[]}`,
		pages: map[int]string{
			1: pageJSON("a", "b"),
			2: pageJSON("c"),
			3: pageJSON("d"),
		},
	}
	res, err := newTestCollector(Config{}, sender).Collect(context.Background(), "u", testEntity, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d"}, res.ReviewIDs())
	// Pages are empty from K=4 onward, so the walk stops at page K+4.
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, sender.walkPages())
}

func TestCollect_StopsAfterTenEmptyPagesInTotal(t *testing.T) {
	t.Parallel()

	// Empty and non-empty pages interleave so the consecutive counter never
	// reaches five; the total empty count ends the walk.
	pages := map[int]string{}
	for p := 1; p <= 40; p += 2 {
		pages[p] = pageJSON(fmt.Sprintf("r%d", p))
	}
	sender := &fakeSender{probeBody: `{"details":[]}`, pages: pages}
	res, err := newTestCollector(Config{}, sender).Collect(context.Background(), "u", testEntity, nil)
	require.NoError(t, err)

	walked := sender.walkPages()
	require.Equal(t, 20, walked[len(walked)-1])
	require.Len(t, res.Reviews, 10)
}

func TestCollect_PreservesPageOrder(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		probeBody: `{"details":[]}`,
		pages: map[int]string{
			1: pageJSON("p1a", "p1b"),
			2: pageJSON("p2a"),
			3: pageJSON("p3a", "p3b"),
		},
	}
	res, err := newTestCollector(Config{}, sender).Collect(context.Background(), "u", testEntity, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"p1a", "p1b", "p2a", "p3a", "p3b"}, res.ReviewIDs())
}

func TestCollect_SkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		probeBody: `{"details":[]}`,
		pages: map[int]string{
			1: `{"details":[` + reviewJSON("ok1") + `,{"userReviewId":{"bad":true}},` + reviewJSON("ok2") + `]}`,
		},
	}
	res, err := newTestCollector(Config{}, sender).Collect(context.Background(), "u", testEntity, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"ok1", "ok2"}, res.ReviewIDs())
}

func TestCollect_SkipsNullRecords(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		probeBody: `{"details":[]}`,
		pages: map[int]string{
			1: `{"details":[` + reviewJSON("a") + `,null,"text",[]]}`,
		},
	}
	res, err := newTestCollector(Config{}, sender).Collect(context.Background(), "u", testEntity, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, res.ReviewIDs())
	require.Len(t, res.Reviews, 1)
}

func TestCollect_ProbeDiscoversLanguagesAndMetadata(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		probeBody: `{
			"langAggs":[{"key":"all","count":30},{"key":"zhCN","count":20},{"key":"en","count":10},{"key":"fr","count":0}],
			"details":[{"userReviewId":1,"locationInfo":{"name":"Bund","cityName":"Shanghai","cityId":"60763","address":"Zhongshan Rd","rating":4.5,"reviewCount":30}}]
		}`,
		pages: map[int]string{1: pageJSON("x")},
	}
	res, err := newTestCollector(Config{}, sender).Collect(context.Background(), "u", testEntity, []string{"all"})
	require.NoError(t, err)
	require.Equal(t, []string{"zhCN", "en"}, res.Languages)
	require.True(t, res.InfoFound)
	require.Equal(t, "Bund", res.Info.Name)
	require.Equal(t, "Shanghai", res.Info.ParentName)
	require.EqualValues(t, 60763, res.Info.ParentID)
	require.Equal(t, "4.5", res.Info.Rating)
	require.Equal(t, "30", res.Info.DeclaredReviewCount)

	sender.mu.Lock()
	probe := sender.requests[0]
	sender.mu.Unlock()
	require.Equal(t, "USER_REVIEWS", probe.FrontPage)
	require.EqualValues(t, 105127, probe.LocationID)
	require.Equal(t, 1, probe.PageInfo.Num)
	require.Empty(t, probe.Selected.Langs)
}

func TestCollect_PinnedLanguagesSkipProbe(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{pages: map[int]string{1: pageJSON("x")}}
	res, err := newTestCollector(Config{}, sender).Collect(context.Background(), "u", testEntity, []string{"en", "ja"})
	require.NoError(t, err)
	require.Equal(t, []string{"en", "ja"}, res.Languages)
	for _, r := range sender.requests {
		require.NotEqual(t, probePageSize, r.PageInfo.Size)
		require.Empty(t, r.Selected.Langs)
	}
}

func TestCollect_FailedProbeFallsBackToAll(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{probeErr: errors.New("probe down"), pages: map[int]string{1: pageJSON("x", "y")}}
	res, err := newTestCollector(Config{}, sender).Collect(context.Background(), "u", testEntity, nil)
	require.NoError(t, err)
	require.Equal(t, []string{AllLanguages}, res.Languages)
	require.False(t, res.InfoFound)
	require.Equal(t, "entity 105127", res.Info.Name)
	require.EqualValues(t, 60763, res.Info.ParentID)
	require.Equal(t, "2", res.Info.DeclaredReviewCount)
}

func TestCollect_TerminalFailureStopsWalk(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		probeBody: `{"details":[]}`,
		pages:     map[int]string{1: pageJSON("a"), 2: pageJSON("b")},
		failFrom:  3,
	}
	res, err := newTestCollector(Config{}, sender).Collect(context.Background(), "u", testEntity, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, res.ReviewIDs())
	require.Equal(t, []int{1, 2, 3}, sender.walkPages())
}

func TestCollect_NothingHarvested(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{probeErr: errors.New("down"), failFrom: 1}
	_, err := newTestCollector(Config{}, sender).Collect(context.Background(), "u", testEntity, nil)
	require.ErrorIs(t, err, ErrNothingHarvested)
}

func TestCollect_DedupeReviews(t *testing.T) {
	t.Parallel()

	pages := map[int]string{1: pageJSON("a", "b"), 2: pageJSON("b", "c")}

	res, err := newTestCollector(Config{}, &fakeSender{probeBody: `{}`, pages: pages}).
		Collect(context.Background(), "u", testEntity, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "b", "c"}, res.ReviewIDs())

	res, err = newTestCollector(Config{DedupeReviews: true}, &fakeSender{probeBody: `{}`, pages: pages}).
		Collect(context.Background(), "u", testEntity, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, res.ReviewIDs())
}

func TestCollect_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sender := &fakeSender{probeBody: `{}`, pages: map[int]string{1: pageJSON("a")}}
	c := newTestCollector(Config{}, sender)
	c.pause = func(context.Context) error {
		cancel()
		return context.Canceled
	}
	_, err := c.Collect(ctx, "u", testEntity, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRequestPayloadShape(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(newReviewListRequest(42, nil, 3, 10))
	require.NoError(t, err)
	require.JSONEq(t, `{
		"frontPage":"USER_REVIEWS",
		"locationId":42,
		"selected":{"airlineIds":[],"airlineSeatIds":[],"langs":[],"ratings":[],"seasons":[],"tripTypes":[],"airlineLevel":[]},
		"pageInfo":{"num":3,"size":10}
	}`, string(b))
}

func TestReviewDetailRecord(t *testing.T) {
	t.Parallel()

	var d reviewDetail
	require.NoError(t, json.Unmarshal([]byte(`{
		"userReviewId":987654321,
		"memberInfo":{"displayName":"","username":"traveler"},
		"rating":"4",
		"submitTime":"2024-05-01"
	}`), &d))
	rec := d.record()
	require.Equal(t, "987654321", rec.ID)
	require.Equal(t, "traveler", rec.Author)
	require.InDelta(t, 4.0, rec.Rating, 0.0001)
	require.Equal(t, "2024-05-01", rec.SubmittedAt)

	var anon reviewDetail
	require.NoError(t, json.Unmarshal([]byte(`{"userReviewId":"1"}`), &anon))
	require.Equal(t, anonymousAuthor, anon.record().Author)
}
