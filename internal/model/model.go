// Package model contains the review manager entities shared by the API client,
// the record store and the local cache.
package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxResponseLength is the longest developer response the platform accepts.
const MaxResponseLength = 5970

// DefaultLocale is used when the platform does not report a primary locale.
const DefaultLocale = "en-US"

// App is an app listed under the developer account.
type App struct {
	ID              string       `gorm:"primaryKey" json:"id"`
	Name            string       `gorm:"not null" json:"name"`
	BundleID        string       `gorm:"index" json:"bundle_id"`
	SKU             string       `json:"sku,omitempty"`
	PrimaryLocale   string       `json:"primary_locale,omitempty"`
	IconURL         string       `json:"icon_url,omitempty"`
	CurrentVersion  string       `json:"current_version,omitempty"`
	VersionState    VersionState `json:"version_state,omitempty"`
	LastCheckedDate time.Time    `json:"last_checked_date,omitempty"`
	LastSynced      time.Time    `json:"last_synced,omitempty"`

	// UnansweredCount is the badge shown next to the app.
	UnansweredCount  int       `gorm:"-" json:"unanswered_count"`
	Downloads30Days  int       `gorm:"-" json:"downloads_30_days,omitempty"`
	DownloadsFetched time.Time `gorm:"-" json:"downloads_fetched,omitempty"`

	Reviews []*CustomerReview `gorm:"foreignKey:AppID;constraint:OnDelete:CASCADE" json:"-"`
}

// Clone returns a copy of the app without its review associations.
func (a *App) Clone() *App {
	if a == nil {
		return nil
	}
	c := *a
	c.Reviews = nil
	return &c
}

// VersionState is the release pipeline state of an app's latest version.
type VersionState string

const (
	ReadyForSale               VersionState = "READY_FOR_SALE"
	ProcessingForAppStore      VersionState = "PROCESSING_FOR_APP_STORE"
	PendingDeveloperRelease    VersionState = "PENDING_DEVELOPER_RELEASE"
	InReview                   VersionState = "IN_REVIEW"
	WaitingForReview           VersionState = "WAITING_FOR_REVIEW"
	PrepareForSubmission       VersionState = "PREPARE_FOR_SUBMISSION"
	Rejected                   VersionState = "REJECTED"
	MetadataRejected           VersionState = "METADATA_REJECTED"
	RemovedFromSale            VersionState = "REMOVED_FROM_SALE"
	DeveloperRemovedFromSale   VersionState = "DEVELOPER_REMOVED_FROM_SALE"
	DeveloperRejected          VersionState = "DEVELOPER_REJECTED"
	PendingAppleRelease        VersionState = "PENDING_APPLE_RELEASE"
	PendingContract            VersionState = "PENDING_CONTRACT"
	InvalidBinary              VersionState = "INVALID_BINARY"
	WaitingForExportCompliance VersionState = "WAITING_FOR_EXPORT_COMPLIANCE"
	ReplacedWithNewVersion     VersionState = "REPLACED_WITH_NEW_VERSION"
	PreorderReadyForSale       VersionState = "PREORDER_READY_FOR_SALE"
)

var versionStates = map[VersionState]string{
	ReadyForSale:               "green",
	PreorderReadyForSale:       "green",
	InReview:                   "blue",
	WaitingForReview:           "blue",
	ProcessingForAppStore:      "blue",
	PrepareForSubmission:       "orange",
	PendingDeveloperRelease:    "orange",
	PendingAppleRelease:        "orange",
	WaitingForExportCompliance: "orange",
	Rejected:                   "red",
	MetadataRejected:           "red",
	InvalidBinary:              "red",
	RemovedFromSale:            "red",
	DeveloperRemovedFromSale:   "red",
	DeveloperRejected:          "red",
	PendingContract:            "gray",
	ReplacedWithNewVersion:     "gray",
}

// ParseVersionState returns the state for raw, or "" when raw is not a known state.
func ParseVersionState(raw string) VersionState {
	s := VersionState(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := versionStates[s]; ok {
		return s
	}
	return ""
}

// Valid reports whether s is one of the known states.
func (s VersionState) Valid() bool {
	_, ok := versionStates[s]
	return ok
}

// BadgeColor is the colour used when rendering the state.
func (s VersionState) BadgeColor() string {
	if c, ok := versionStates[s]; ok {
		return c
	}
	return "gray"
}

// DisplayName is a human readable form of the state, e.g. "Ready For Sale".
func (s VersionState) DisplayName() string {
	words := strings.Split(strings.ToLower(string(s)), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// CustomerReview is a review left by a customer on the store.
type CustomerReview struct {
	ID               string    `gorm:"primaryKey" json:"id"`
	AppID            string    `gorm:"index;not null" json:"app_id"`
	Rating           int       `gorm:"not null" json:"rating"`
	Title            string    `json:"title,omitempty"`
	Body             string    `json:"body,omitempty"`
	ReviewerNickname string    `json:"reviewer_nickname,omitempty"`
	CreatedDate      time.Time `gorm:"index" json:"created_date"`
	Territory        string    `json:"territory"`
	Response         *Response `gorm:"foreignKey:ReviewID;constraint:OnDelete:CASCADE" json:"response,omitempty"`
}

// Validate checks that the review is well formed.
func (r *CustomerReview) Validate() error {
	if r.ID == "" {
		return NewError(ValidationFailure, "review", "missing review id", nil)
	}
	if r.Rating < 1 || r.Rating > 5 {
		return NewError(ValidationFailure, "review", fmt.Sprintf("rating %d out of range [1,5]", r.Rating), nil)
	}
	return nil
}

// Answered reports whether the developer has responded to the review.
func (r *CustomerReview) Answered() bool {
	return r.Response != nil
}

// Stars renders the rating as five filled/empty stars.
func (r *CustomerReview) Stars() string {
	n := min(max(r.Rating, 0), 5)
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
}

// Clone deep copies the review including its response.
func (r *CustomerReview) Clone() *CustomerReview {
	if r == nil {
		return nil
	}
	c := *r
	if r.Response != nil {
		resp := *r.Response
		c.Response = &resp
	}
	return &c
}

// ResponseState is the publication state of a developer response.
type ResponseState string

const (
	PendingPublish ResponseState = "PENDING_PUBLISH"
	Published      ResponseState = "PUBLISHED"
)

// ParseResponseState defaults unknown values to Published.
func ParseResponseState(raw string) ResponseState {
	if ResponseState(raw) == PendingPublish {
		return PendingPublish
	}
	return Published
}

// Response is the developer's reply to a review.
type Response struct {
	ID               string        `gorm:"primaryKey" json:"id"`
	ReviewID         string        `gorm:"uniqueIndex;not null" json:"review_id"`
	Body             string        `gorm:"not null" json:"response_body"`
	LastModifiedDate time.Time     `json:"last_modified_date"`
	State            ResponseState `gorm:"not null" json:"state"`
}

// ValidateResponseBody enforces the platform's response constraints.
func ValidateResponseBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return NewError(ValidationFailure, "respond", "response body is empty", nil)
	}
	if n := utf8.RuneCountInString(body); n > MaxResponseLength {
		return NewError(ValidationFailure, "respond",
			fmt.Sprintf("response body is %d characters, maximum is %d", n, MaxResponseLength), nil)
	}
	return nil
}

// CountUnanswered returns the number of reviews without a response.
func CountUnanswered(reviews []*CustomerReview) int {
	var n int
	for _, r := range reviews {
		if !r.Answered() {
			n++
		}
	}
	return n
}

// Credentials identify an App Store Connect API key.
type Credentials struct {
	IssuerID   string `json:"issuer_id"`
	KeyID      string `json:"key_id"`
	PrivateKey string `json:"private_key"`
}

// Complete reports whether all three parts are present.
func (c Credentials) Complete() bool {
	return c.IssuerID != "" && c.KeyID != "" && c.PrivateKey != ""
}

func (c Credentials) String() string {
	return fmt.Sprintf("issuer=%s kid=%s key=%s", c.IssuerID, c.KeyID, redact(c.PrivateKey))
}

func redact(s string) string {
	if s == "" {
		return "<empty>"
	}
	return fmt.Sprintf("<redacted %d bytes>", len(s))
}

// UserSettings are preferences shared between installations.
type UserSettings struct {
	HiddenApps []string `json:"hidden_apps,omitempty"`
	AppOrder   []string `json:"app_order,omitempty"`
}

// IsHidden reports whether appID is in the hidden set.
func (s UserSettings) IsHidden(appID string) bool {
	for _, id := range s.HiddenApps {
		if id == appID {
			return true
		}
	}
	return false
}
