package collector

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"harvester/internal/core/records"
)

type searchRequest struct {
	PYear          condition `json:"pYear"`
	FullTextSearch condition `json:"fullTextSearch"`
}

type condition struct {
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type searchResponse struct {
	TotalProperty *struct {
		PropertyCount int `json:"propertyCount"`
	} `json:"totalProperty"`
	Results []propertyRow `json:"results"`
}

type propertyRow struct {
	PID              flexString `json:"pid"`
	DisplayName      string     `json:"displayName"`
	PropType         string     `json:"propType"`
	SitusCity        string     `json:"situsCity"`
	City             string     `json:"city"`
	StreetPrimary    string     `json:"streetPrimary"`
	SitusAddress     string     `json:"situsAddress"`
	AssessedValue    flexFloat  `json:"assessedValue"`
	AppraisedValue   flexFloat  `json:"appraisedValue"`
	GeoID            flexString `json:"geoID"`
	LegalDescription string     `json:"legalDescription"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexFloat accepts a number, a numeric string (with optional $ and commas) or null.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*f = flexFloat{}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		*f = flexFloat{v: v, set: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat{v: v, set: true}
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// toRecord maps one upstream row into the record shape. ok is false when the
// row carries no property id.
func (r propertyRow) toRecord() (records.Record, bool) {
	id := strings.TrimSpace(string(r.PID))
	if id == "" {
		return records.Record{}, false
	}
	return records.Record{
		ExternalID:     id,
		OwnerName:      strings.TrimSpace(r.DisplayName),
		PropertyType:   strings.TrimSpace(r.PropType),
		City:           firstNonEmpty(r.SitusCity, r.City),
		Address:        firstNonEmpty(r.StreetPrimary, r.SitusAddress),
		AssessedValue:  r.AssessedValue.ptr(),
		AppraisedValue: r.AppraisedValue.ptr(),
		GeoID:          string(r.GeoID),
		Description:    strings.TrimSpace(r.LegalDescription),
	}, true
}
