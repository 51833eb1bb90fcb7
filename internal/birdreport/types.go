// Package birdreport provides a client for the BirdReport CN API, including
// the signed/encrypted request protocol, paginated searches and the member
// report aggregation used for eBird migration.
package birdreport

import (
	"strconv"
	"strings"
	"time"
)

// TaxonVersion identifies the taxonomy generation a report was recorded
// against.
type TaxonVersion string

const (
	// TaxonVersionG3 is the older generation. Reports on it still need the
	// two-stage migration and are not converted directly.
	TaxonVersionG3 TaxonVersion = "G3"
	// TaxonVersionCH4 is the current generation and the source side of the
	// eBird conversion path.
	TaxonVersionCH4 TaxonVersion = "CH4"
)

// Category discriminates the two report shapes. It is assigned during
// ingestion rather than inferred from key presence.
type Category string

const (
	// CategoryPoint marks reports tied to a registered point.
	CategoryPoint Category = "point"
	// CategoryCasual marks "handy" reports whose location is carried on the
	// first observation entry instead of a registered point.
	CategoryCasual Category = "casual"
)

// timeLayout is the wall-clock format used by the platform, local to the
// observation site.
const timeLayout = "2006-01-02 15:04:05"

// Observation is one species entry within a report. Casual report rows also
// carry their own location fields.
type Observation struct {
	ActivityID     int64  `json:"activity_id,omitempty"`
	ScientificName string `json:"latinname"`
	CommonName     string `json:"taxon_name"`
	Count          int    `json:"taxon_count"`
	Note           string `json:"note,omitempty"`

	// Location fields present on casual report entries only.
	PointName    string `json:"point_name,omitempty"`
	CityName     string `json:"city_name,omitempty"`
	DistrictName string `json:"district_name,omitempty"`
	Lat          string `json:"lat,omitempty"`
	Lng          string `json:"lng,omitempty"`
}

// Report is one checklist/submission event.
type Report struct {
	ID           int64        `json:"id"`
	SerialID     string       `json:"serial_id"`
	StartTime    string       `json:"start_time"`
	EndTime      string       `json:"end_time"`
	PointName    string       `json:"point_name"`
	Lat          string       `json:"lat,omitempty"`
	Lng          string       `json:"lng,omitempty"`
	ProvinceName string       `json:"province_name,omitempty"`
	CityName     string       `json:"city_name,omitempty"`
	DistrictName string       `json:"district_name,omitempty"`
	Version      TaxonVersion `json:"version"`
	Category     Category     `json:"category"`
	IsConvert    int          `json:"is_convert"`
	Note         string       `json:"note,omitempty"`

	// EyeAllBirds is the completeness tri-state: nil means the field was
	// absent (treated as "all reported"), empty string means explicitly not
	// all reported.
	EyeAllBirds *string `json:"eye_all_birds,omitempty"`

	// RealQuantity indicates whether counts are exact. When absent the
	// all-ones heuristic applies.
	RealQuantity *int `json:"real_quantity,omitempty"`

	Observations []Observation `json:"obs,omitempty"`
}

// StartDate returns the local observation date (YYYY-MM-DD part of the start
// timestamp).
func (r *Report) StartDate() string {
	date, _, _ := strings.Cut(r.StartTime, " ")
	return date
}

// StartMonth returns the calendar month (1-12) of the report's start time,
// or 0 if the timestamp cannot be parsed.
func (r *Report) StartMonth() int {
	parts := strings.Split(r.StartDate(), "-")
	if len(parts) < 2 {
		return 0
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return month
}

// DurationMinutes returns the report duration in whole minutes, clamped to
// [1, 1440].
func (r *Report) DurationMinutes() int {
	start, err1 := time.Parse(timeLayout, r.StartTime)
	end, err2 := time.Parse(timeLayout, r.EndTime)
	if err1 != nil || err2 != nil {
		return 1
	}
	minutes := int(end.Sub(start).Minutes())
	if minutes > 24*60 {
		return 24 * 60
	}
	if minutes < 1 {
		return 1
	}
	return minutes
}

// AllObserved reports whether every species seen was recorded. Absence of
// the completeness field defaults to true.
func (r *Report) AllObserved() bool {
	if r.EyeAllBirds == nil {
		return true
	}
	return *r.EyeAllBirds != ""
}

// QuantityExact reports whether observation counts are exact integers. When
// the platform flag is absent, a report where every count equals exactly 1 is
// assumed to use presence-only counts.
func (r *Report) QuantityExact() bool {
	if r.RealQuantity != nil {
		return *r.RealQuantity == 1
	}
	for i := range r.Observations {
		if r.Observations[i].Count != 1 {
			return true
		}
	}
	return false
}

// MemberSearchQuery filters the point-based member report search.
type MemberSearchQuery struct {
	StartDate string
	EndDate   string
	PointName string
	SerialID  string
	State     string
	TaxonID   string
}

func (q *MemberSearchQuery) params(page, limit int) map[string]string {
	return map[string]string{
		"start_date": q.StartDate,
		"start":      q.StartDate,
		"end_date":   q.EndDate,
		"end":        q.EndDate,
		"point_name": q.PointName,
		"serial_id":  q.SerialID,
		"state":      q.State,
		"taxon_id":   q.TaxonID,
		"page":       strconv.Itoa(page),
		"limit":      strconv.Itoa(limit),
	}
}

// HandySearchQuery filters the casual ("handy") report search. Casual reports
// are not tied to a registered point, so there is no point name filter.
type HandySearchQuery struct {
	StartDate string
	EndDate   string
	SerialID  string
	State     string
	TaxonID   string
}

func (q *HandySearchQuery) params(page, limit int) map[string]string {
	return map[string]string{
		"start_date": q.StartDate,
		"start":      q.StartDate,
		"end_date":   q.EndDate,
		"end":        q.EndDate,
		"serial_id":  q.SerialID,
		"state":      q.State,
		"taxon_id":   q.TaxonID,
		"page":       strconv.Itoa(page),
		"limit":      strconv.Itoa(limit),
	}
}

// FrontSearchQuery filters the public report search (signed endpoint family).
type FrontSearchQuery struct {
	TaxonID   string
	StartDate string
	EndDate   string
	Province  string
	City      string
	District  string
	PointName string
	Username  string
	SerialID  string
	CTime     string
	TaxonName string
	State     string
	Mode      string
}

func (q *FrontSearchQuery) params(page, limit int) map[string]string {
	return map[string]string{
		"page":         strconv.Itoa(page),
		"limit":        strconv.Itoa(limit),
		"taxonid":      q.TaxonID,
		"startTime":    q.StartDate,
		"endTime":      q.EndDate,
		"province":     q.Province,
		"city":         q.City,
		"district":     q.District,
		"pointname":    q.PointName,
		"username":     q.Username,
		"serial_id":    q.SerialID,
		"ctime":        q.CTime,
		"taxonname":    q.TaxonName,
		"state":        q.State,
		"mode":         q.Mode,
		"outside_type": "",
	}
}

// User is the authenticated member's account information.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// TaxonInfo is one entry of the platform taxonomy list.
type TaxonInfo struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	ScientificName string `json:"latinname"`
	EnglishName    string `json:"englishname,omitempty"`
}

// PointHotspot is a platform point returned by the hotspot name search.
type PointHotspot struct {
	Name     string `json:"point_name"`
	Province string `json:"province_name,omitempty"`
	City     string `json:"city_name,omitempty"`
	Lat      string `json:"lat,omitempty"`
	Lng      string `json:"lng,omitempty"`
}
