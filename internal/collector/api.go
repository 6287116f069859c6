package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

const frontPageUserReviews = "USER_REVIEWS"

type reviewListRequest struct {
	FrontPage  string    `json:"frontPage"`
	LocationID int64     `json:"locationId"`
	Selected   selection `json:"selected"`
	PageInfo   pageInfo  `json:"pageInfo"`
}

// selection is the filter block. Every list must encode as [] rather than null.
type selection struct {
	AirlineIDs     []string `json:"airlineIds"`
	AirlineSeatIDs []string `json:"airlineSeatIds"`
	Langs          []string `json:"langs"`
	Ratings        []string `json:"ratings"`
	Seasons        []string `json:"seasons"`
	TripTypes      []string `json:"tripTypes"`
	AirlineLevel   []string `json:"airlineLevel"`
}

type pageInfo struct {
	Num  int `json:"num"`
	Size int `json:"size"`
}

func newReviewListRequest(locationID int64, langs []string, page, size int) reviewListRequest {
	if langs == nil {
		langs = []string{}
	}
	return reviewListRequest{
		FrontPage:  frontPageUserReviews,
		LocationID: locationID,
		Selected: selection{
			AirlineIDs:     []string{},
			AirlineSeatIDs: []string{},
			Langs:          langs,
			Ratings:        []string{},
			Seasons:        []string{},
			TripTypes:      []string{},
			AirlineLevel:   []string{},
		},
		PageInfo: pageInfo{Num: page, Size: size},
	}
}

type reviewListResponse struct {
	LangAggs []langAgg         `json:"langAggs"`
	Details  []json.RawMessage `json:"details"`
}

type langAgg struct {
	Key   string  `json:"key"`
	Count flexInt `json:"count"`
}

type memberInfo struct {
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
}

type reviewDetail struct {
	UserReviewID   flexString    `json:"userReviewId"`
	MemberInfo     *memberInfo   `json:"memberInfo"`
	Rating         flexFloat     `json:"rating"`
	Title          string        `json:"title"`
	TripTypeString string        `json:"tripTypeString"`
	Content        string        `json:"content"`
	Lang           string        `json:"lang"`
	SubmitTime     flexString    `json:"submitTime"`
	Attribution    string        `json:"attribution"`
	LocationInfo   *locationInfo `json:"locationInfo"`
}

type locationInfo struct {
	Name        string     `json:"name"`
	CityName    string     `json:"cityName"`
	CityID      flexInt    `json:"cityId"`
	Address     string     `json:"address"`
	Rating      flexString `json:"rating"`
	ReviewCount flexString `json:"reviewCount"`
}

const anonymousAuthor = "Tripadvisor user"

func (d reviewDetail) record() harvest.ReviewRecord {
	author := anonymousAuthor
	if d.MemberInfo != nil {
		switch {
		case d.MemberInfo.DisplayName != "":
			author = d.MemberInfo.DisplayName
		case d.MemberInfo.Username != "":
			author = d.MemberInfo.Username
		}
	}
	return harvest.ReviewRecord{
		ID:          string(d.UserReviewID),
		Author:      author,
		Rating:      float64(d.Rating),
		Title:       d.Title,
		TripType:    d.TripTypeString,
		Body:        d.Content,
		Language:    d.Lang,
		SubmittedAt: string(d.SubmitTime),
		Attribution: d.Attribution,
	}
}

func (l locationInfo) info() harvest.LocationInfo {
	out := harvest.LocationInfo{
		Name:                l.Name,
		ParentName:          l.CityName,
		ParentID:            int64(l.CityID),
		Address:             l.Address,
		Rating:              string(l.Rating),
		DeclaredReviewCount: string(l.ReviewCount),
	}
	if out.Rating == "" {
		out.Rating = "N/A"
	}
	if out.DeclaredReviewCount == "" {
		out.DeclaredReviewCount = "0"
	}
	return out
}

// flexString accepts a JSON string, number, or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// flexFloat accepts a JSON number, a numeric string, or null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	raw := strings.TrimSpace(string(s))
	if raw == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", raw, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexInt accepts a JSON integer, a numeric string, or null.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var v flexFloat
	if err := v.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = flexInt(int64(v))
	return nil
}
