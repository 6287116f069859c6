// Package input reads the entity list and extracts entity identifiers from
// listing URLs.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

var (
	// ErrNoMatch means the URL does not carry the -g<digits>-d<digits>- segment.
	ErrNoMatch = errors.New("url does not contain an entity identifier")
	// ErrNoURLColumn means the CSV header has no "url" column.
	ErrNoURLColumn = errors.New("csv header has no url column")
)

var entityPattern = regexp.MustCompile(`-g(\d+)-d(\d+)-`)

// SampleURLs seed the example input file.
var SampleURLs = []string{
	"https://www.tripadvisor.cn/Attraction_Review-g297701-d3683097-Reviews-Bali_Private_Tour_Id-Ubud_Gianyar_Regency_Bali.html",
	"https://www.tripadvisor.cn/Attraction_Review-g15880600-d20087279-Reviews-Heavenly_Spa_By_Westin_Ubud-Singakerta_Ubud_Gianyar_Regency_Bali.html",
	"https://www.tripadvisor.cn/Attraction_Review-g3961414-d16858110-Reviews-Bali_Experience_Adventure_Tour-Singapadu_Sukawati_Gianyar_Regency_Bali.html",
}

const byteOrderMark = "\ufeff"

// ExtractID pulls the parent and location ids out of a listing URL.
func ExtractID(url string) (harvest.EntityID, error) {
	m := entityPattern.FindStringSubmatch(url)
	if m == nil {
		return harvest.EntityID{}, fmt.Errorf("%q: %w", url, ErrNoMatch)
	}
	return harvest.EntityID{ParentID: m[1], LocationID: m[2]}, nil
}

// ReadURLs reads the url column of the CSV file at path.
func ReadURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return ParseURLs(f)
}

// ParseURLs reads the url column from r. Values are trimmed and empty ones
// skipped; the order of the file is kept, repeats included.
func ParseURLs(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoURLColumn
	}
	if err != nil {
		return nil, fmt.Errorf("read input header: %w", err)
	}
	col := -1
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, byteOrderMark)
		}
		if strings.EqualFold(strings.TrimSpace(name), "url") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, ErrNoURLColumn
	}

	var urls []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read input row: %w", err)
		}
		if col >= len(row) {
			continue
		}
		if u := strings.TrimSpace(row[col]); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// WriteSample writes an example input file containing SampleURLs.
func WriteSample(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create sample: %w", err)
	}
	if _, err := f.WriteString(byteOrderMark); err != nil {
		_ = f.Close()
		return fmt.Errorf("write sample: %w", err)
	}
	w := csv.NewWriter(f)
	rows := [][]string{{"url"}}
	for _, u := range SampleURLs {
		rows = append(rows, []string{u})
	}
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write sample: %w", err)
	}
	return f.Close()
}

// ParseLanguages turns a comma-separated list into language tags. "all" (any
// case) or an empty list selects every language.
func ParseLanguages(s string) []string {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return []string{"all"}
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"all"}
	}
	return out
}
