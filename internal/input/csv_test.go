package input

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

func TestExtractID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		want    harvest.EntityID
		wantErr bool
	}{
		{
			name: "attraction",
			url:  "https://www.tripadvisor.cn/Attraction_Review-g60763-d105127-Reviews-Central_Park.html",
			want: harvest.EntityID{ParentID: "60763", LocationID: "105127"},
		},
		{
			name: "first match wins",
			url:  "https://x.test/A-g1-d2-B-g3-d4-C",
			want: harvest.EntityID{ParentID: "1", LocationID: "2"},
		},
		{name: "no segment", url: "https://www.tripadvisor.cn/Tourism-g60763", wantErr: true},
		{name: "missing trailing dash", url: "https://x.test/A-g1-d2", wantErr: true},
		{name: "non digits", url: "https://x.test/A-gx-d2-", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractID(tt.url)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrNoMatch)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseURLs(t *testing.T) {
	t.Parallel()

	in := "\ufeffname,url\n" +
		"a, https://x.test/A-g1-d2- \n" +
		"b,\n" +
		"c\n" +
		"d,https://x.test/A-g1-d2-\n" +
		"e,not-a-url\n"
	urls, err := ParseURLs(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []string{"https://x.test/A-g1-d2-", "https://x.test/A-g1-d2-", "not-a-url"}, urls)
}

func TestParseURLsMissingColumn(t *testing.T) {
	t.Parallel()

	_, err := ParseURLs(strings.NewReader("link\nhttps://x.test\n"))
	require.ErrorIs(t, err, ErrNoURLColumn)

	_, err = ParseURLs(strings.NewReader(""))
	require.ErrorIs(t, err, ErrNoURLColumn)
}

func TestWriteSampleRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "attraction_urls.csv")
	require.NoError(t, WriteSample(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), byteOrderMark))

	urls, err := ReadURLs(path)
	require.NoError(t, err)
	require.Equal(t, SampleURLs, urls)
	for _, u := range urls {
		_, err := ExtractID(u)
		require.NoError(t, err)
	}
}

func TestReadURLsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := ReadURLs(filepath.Join(t.TempDir(), "none.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseLanguages(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"all"}, ParseLanguages("all"))
	require.Equal(t, []string{"all"}, ParseLanguages(" ALL "))
	require.Equal(t, []string{"all"}, ParseLanguages(" , "))
	require.Equal(t, []string{"zhCN", "en", "fr"}, ParseLanguages("zhCN, en,,fr"))
}
