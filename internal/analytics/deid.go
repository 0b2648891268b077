package analytics

import (
	"fmt"
	"time"
)

// allowedEventTypes is the closed vocabulary of analytics events. Anything
// else is dropped at emission, so a new feature cannot leak events without a
// review of this list.
var allowedEventTypes = map[string]bool{
	"triage_completed":            true,
	"triage_emergency":            true,
	"complaint_submitted":         true,
	"complaint_resolved":          true,
	"complaint_escalated":         true,
	"vaccination_recorded":        true,
	"neuroscreen_completed":       true,
	"daily_wellness_logged":       true,
	"tele_request_created":        true,
	"tele_consultation_completed": true,
}

// allowedCategories is the closed category vocabulary shared across event
// types: triage outcomes, complaint categories and screening bands. An empty
// category is valid; anything outside the set is rejected before it can
// become an aggregate key.
var allowedCategories = map[string]bool{
	"self_care": true, "phc": true, "emergency": true,
	"service_quality": true, "staff_behavior": true, "facility_issues": true,
	"medication_error": true, "billing_dispute": true, "discrimination": true,
	"other": true, "low": true, "medium": true, "high": true,
}

func categoryAllowed(category string) bool {
	return category == "" || allowedCategories[category]
}

// disallowedKeys can never appear in an analytics payload, at any depth.
var disallowedKeys = map[string]bool{
	"user_id": true, "username": true, "phone": true, "email": true,
	"complaint_id": true, "full_name": true, "name": true, "address": true,
	"gps": true, "latitude": true, "longitude": true, "evidence": true,
	"filename": true, "url": true, "comment": true, "text": true,
	"description": true,
}

func payloadClean(v interface{}) bool {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, inner := range t {
			if disallowedKeys[k] {
				return false
			}
			if !payloadClean(inner) {
				return false
			}
		}
	case []interface{}:
		for _, inner := range t {
			if !payloadClean(inner) {
				return false
			}
		}
	}
	return true
}

// ageBucket coarsens an exact age into the reporting bands.
func ageBucket(age *int) string {
	if age == nil {
		return "unknown"
	}
	switch a := *age; {
	case a < 0:
		return "unknown"
	case a <= 5:
		return "0-5"
	case a <= 12:
		return "6-12"
	case a <= 18:
		return "13-18"
	case a <= 35:
		return "19-35"
	case a <= 60:
		return "36-60"
	default:
		return "60+"
	}
}

// genderBucket normalizes profile sex to the reporting values.
func genderBucket(sex *string) string {
	if sex == nil {
		return "unknown"
	}
	switch *sex {
	case "male", "female", "other":
		return *sex
	}
	return "unknown"
}

// geoCell truncates a 6-digit pincode to its first digits, e.g.
// "560001" -> "pincode_560xxx". An unusable pincode becomes unknown.
func geoCell(pincode *string, prefixDigits int) string {
	if prefixDigits <= 0 || prefixDigits > 6 {
		prefixDigits = 3
	}
	if pincode == nil || len(*pincode) != 6 {
		return "unknown"
	}
	p := *pincode
	for _, r := range p {
		if r < '0' || r > '9' {
			return "unknown"
		}
	}
	return fmt.Sprintf("pincode_%s%s", p[:prefixDigits], "xxxxxx"[:6-prefixDigits])
}

// timeBucket floors t to the bucket boundary.
func timeBucket(t time.Time, size time.Duration) time.Time {
	return t.UTC().Truncate(size)
}
