// Package quake defines the message types delivered by the P2P地震情報
// realtime API and the routing from raw frames to typed payloads.
package quake

import (
	"time"

	"github.com/otiai10/p2pws/emitter"
)

// Message codes used as the discriminant on every inbound frame.
const (
	CodeEarthquake = 551 // 地震情報（震源・震度・各地の震度）
	CodeTsunami    = 552 // 津波予報
	CodeEEW        = 556 // 緊急地震速報 配信データ
)

// Typed event names, one per supported message code.
const (
	EventEarthquake emitter.Event = "earthquake"
	EventTsunami    emitter.Event = "tsunami"
	EventEEW        emitter.Event = "eew"
)

// Scale constants for the Japanese seismic intensity scale.
const (
	Scale1       = 10 // 震度1
	Scale2       = 20 // 震度2
	Scale3       = 30 // 震度3
	Scale4       = 40 // 震度4
	Scale5Weak   = 45 // 震度5弱
	Scale5Strong = 50 // 震度5強
	Scale6Weak   = 55 // 震度6弱
	Scale6Strong = 60 // 震度6強
	Scale7       = 70 // 震度7
)

// Envelope carries the fields common to every inbound frame.
// It is decoded first to read the discriminant.
type Envelope struct {
	ID   string `json:"_id"`
	Code int    `json:"code"`
	Time string `json:"time"`
}

// EarthquakeReport is the code 551 payload: hypocenter, magnitude and
// per-location observed intensities.
type EarthquakeReport struct {
	ID         string      `json:"_id"`
	Code       int         `json:"code"`
	Time       string      `json:"time"`
	Issue      Issue       `json:"issue"`
	Earthquake *Earthquake `json:"earthquake,omitempty"`
	Points     []Point     `json:"points,omitempty"`
}

// Issue contains information about when/who issued a report.
type Issue struct {
	Source  string `json:"source"`
	Time    string `json:"time"`
	Type    string `json:"type"`
	Correct string `json:"correct,omitempty"`
}

// Earthquake contains hypocenter and magnitude info.
type Earthquake struct {
	Time            string     `json:"time"`
	Hypocenter      Hypocenter `json:"hypocenter"`
	MaxScale        int        `json:"maxScale"`
	DomesticTsunami string     `json:"domesticTsunami"`
	ForeignTsunami  string     `json:"foreignTsunami,omitempty"`
}

// Hypocenter contains epicenter location info.
type Hypocenter struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Depth     int     `json:"depth"`
	Magnitude float64 `json:"magnitude"`
}

// Point contains the observed intensity at one location.
type Point struct {
	Prefecture string `json:"pref"`
	Name       string `json:"addr"`
	Scale      int    `json:"scale"`
	IsArea     bool   `json:"isArea"`
}

// Tsunami is the code 552 payload: a tsunami forecast.
// When Cancelled is true, Areas is empty.
type Tsunami struct {
	ID        string        `json:"_id"`
	Code      int           `json:"code"`
	Time      string        `json:"time"`
	Cancelled bool          `json:"cancelled"`
	Issue     Issue         `json:"issue"`
	Areas     []TsunamiArea `json:"areas,omitempty"`
}

// TsunamiArea describes the forecast for one forecast region.
type TsunamiArea struct {
	Grade       string       `json:"grade"` // "MajorWarning" | "Warning" | "Watch" | "Unknown"
	Immediate   bool         `json:"immediate"`
	Name        string       `json:"name"`
	FirstHeight *FirstHeight `json:"firstHeight,omitempty"`
	MaxHeight   *MaxHeight   `json:"maxHeight,omitempty"`
}

// FirstHeight is the expected arrival of the first wave.
type FirstHeight struct {
	ArrivalTime string `json:"arrivalTime,omitempty"`
	Condition   string `json:"condition,omitempty"`
}

// MaxHeight is the expected tsunami height.
type MaxHeight struct {
	Description string  `json:"description,omitempty"`
	Value       float64 `json:"value,omitempty"`
}

// EEW is the code 556 payload: an Earthquake Early Warning broadcast.
// Test is true for drill broadcasts; consumers should usually skip those.
type EEW struct {
	ID         string         `json:"_id"`
	Code       int            `json:"code"`
	Time       string         `json:"time"`
	Test       bool           `json:"test"`
	Cancelled  bool           `json:"cancelled"`
	Issue      EEWIssue       `json:"issue"`
	Earthquake *EEWEarthquake `json:"earthquake,omitempty"`
	Areas      []EEWArea      `json:"areas,omitempty"`
}

// EEWIssue identifies one warning in a series of updates.
type EEWIssue struct {
	Time    string `json:"time"`
	EventID string `json:"eventId"`
	Serial  string `json:"serial"`
}

// EEWEarthquake is the estimated hypocenter of a warning.
type EEWEarthquake struct {
	OriginTime  string     `json:"originTime"`
	ArrivalTime string     `json:"arrivalTime"`
	Condition   string     `json:"condition,omitempty"`
	Hypocenter  Hypocenter `json:"hypocenter"`
}

// EEWArea is one region expected to observe strong shaking.
type EEWArea struct {
	Prefecture  string `json:"pref"`
	Name        string `json:"name"`
	ScaledFrom  int    `json:"scaledFrom"`
	ScaledTo    int    `json:"scaledTo"`
	KindCode    string `json:"kindCode"`
	ArrivalTime string `json:"arrivalTime,omitempty"`
}

// ParseTime parses a timestamp from the P2P地震情報 API.
// Format: "2006/01/02 15:04:05" in JST.
func ParseTime(s string) (time.Time, error) {
	jst := time.FixedZone("JST", 9*60*60)
	return time.ParseInLocation("2006/01/02 15:04:05", s, jst)
}

// ScaleToSeverity converts a JMA scale value (10-70) to a normalized
// severity (0-100).
func ScaleToSeverity(scale int) int {
	switch scale {
	case Scale1:
		return 10
	case Scale2:
		return 20
	case Scale3:
		return 30
	case Scale4:
		return 40
	case Scale5Weak:
		return 50
	case Scale5Strong:
		return 60
	case Scale6Weak:
		return 70
	case Scale6Strong:
		return 80
	case Scale7:
		return 100
	default:
		return 0
	}
}

// ScaleToString returns the human-readable scale name.
func ScaleToString(scale int) string {
	switch scale {
	case Scale1:
		return "震度1"
	case Scale2:
		return "震度2"
	case Scale3:
		return "震度3"
	case Scale4:
		return "震度4"
	case Scale5Weak:
		return "震度5弱"
	case Scale5Strong:
		return "震度5強"
	case Scale6Weak:
		return "震度6弱"
	case Scale6Strong:
		return "震度6強"
	case Scale7:
		return "震度7"
	default:
		return "不明"
	}
}
