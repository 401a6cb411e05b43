package records

import (
	"strings"
	"time"

	"github.com/blacktop/reviewsync/internal/model"
	"github.com/spf13/cast"
)

// Field names, shared with the other installations.
const (
	fieldAppID            = "appID"
	fieldName             = "name"
	fieldBundleID         = "bundleID"
	fieldSKU              = "sku"
	fieldPrimaryLocale    = "primaryLocale"
	fieldIconURL          = "iconURL"
	fieldCurrentVersion   = "currentVersion"
	fieldVersionState     = "versionState"
	fieldLastCheckedDate  = "lastCheckedDate"
	fieldReviewID         = "reviewID"
	fieldRating           = "rating"
	fieldTitle            = "title"
	fieldBody             = "body"
	fieldReviewerNickname = "reviewerNickname"
	fieldCreatedDate      = "createdDate"
	fieldTerritory        = "territory"
	fieldResponseID       = "responseID"
	fieldResponseBody     = "responseBody"
	fieldResponseModified = "responseLastModifiedDate"
	fieldResponseState    = "responseState"
	fieldIssuerID         = "issuerID"
	fieldKeyID            = "keyID"
	fieldPrivateKey       = "privateKey"
	fieldHiddenApps       = "hiddenApps"
	fieldAppOrder         = "appOrder"
)

type fields map[string]any

// set stores non-empty values only, so an empty value clears the field.
func (f fields) set(key string, v any) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return
		}
	case time.Time:
		if val.IsZero() {
			return
		}
		v = val.UTC().Format(time.RFC3339Nano)
	case []string:
		if len(val) == 0 {
			return
		}
	}
	f[key] = v
}

func getString(r *Record, key string) string { return cast.ToString(r.Get(key)) }

func getTime(r *Record, key string) time.Time {
	v := r.Get(key)
	if v == nil {
		return time.Time{}
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func encodeApp(app *model.App) fields {
	f := fields{}
	f.set(fieldAppID, app.ID)
	f.set(fieldName, app.Name)
	f.set(fieldBundleID, app.BundleID)
	f.set(fieldSKU, app.SKU)
	f.set(fieldPrimaryLocale, app.PrimaryLocale)
	f.set(fieldIconURL, portableIconURL(app.IconURL))
	f.set(fieldCurrentVersion, app.CurrentVersion)
	f.set(fieldVersionState, string(app.VersionState))
	return f
}

// portableIconURL drops file:// icon URLs, they only resolve on the machine
// that cached the icon.
func portableIconURL(u string) string {
	if strings.HasPrefix(u, "file://") {
		return ""
	}
	return u
}

func decodeApp(r *Record) *model.App {
	locale := getString(r, fieldPrimaryLocale)
	if locale == "" {
		locale = model.DefaultLocale
	}
	return &model.App{
		ID:             getString(r, fieldAppID),
		Name:           getString(r, fieldName),
		BundleID:       getString(r, fieldBundleID),
		SKU:            getString(r, fieldSKU),
		PrimaryLocale:  locale,
		IconURL:        portableIconURL(getString(r, fieldIconURL)),
		CurrentVersion: getString(r, fieldCurrentVersion),
		VersionState:   model.ParseVersionState(getString(r, fieldVersionState)),
		LastSynced:     r.Modified,
	}
}

// encodeReview flattens the response into the review record.
func encodeReview(rev *model.CustomerReview) fields {
	f := fields{}
	f.set(fieldReviewID, rev.ID)
	f.set(fieldAppID, rev.AppID)
	f[fieldRating] = rev.Rating
	f.set(fieldTitle, rev.Title)
	f.set(fieldBody, rev.Body)
	f.set(fieldReviewerNickname, rev.ReviewerNickname)
	f.set(fieldCreatedDate, rev.CreatedDate)
	f.set(fieldTerritory, rev.Territory)
	if resp := rev.Response; resp != nil {
		f.set(fieldResponseID, resp.ID)
		f.set(fieldResponseBody, resp.Body)
		f.set(fieldResponseModified, resp.LastModifiedDate)
		f.set(fieldResponseState, string(resp.State))
	}
	return f
}

func decodeReview(r *Record) *model.CustomerReview {
	rev := &model.CustomerReview{
		ID:               getString(r, fieldReviewID),
		AppID:            getString(r, fieldAppID),
		Rating:           cast.ToInt(r.Get(fieldRating)),
		Title:            getString(r, fieldTitle),
		Body:             getString(r, fieldBody),
		ReviewerNickname: getString(r, fieldReviewerNickname),
		CreatedDate:      getTime(r, fieldCreatedDate),
		Territory:        getString(r, fieldTerritory),
	}
	if id := getString(r, fieldResponseID); id != "" {
		rev.Response = &model.Response{
			ID:               id,
			ReviewID:         rev.ID,
			Body:             getString(r, fieldResponseBody),
			LastModifiedDate: getTime(r, fieldResponseModified),
			State:            model.ParseResponseState(getString(r, fieldResponseState)),
		}
	}
	return rev
}

func encodeCredentials(c model.Credentials) fields {
	f := fields{}
	f.set(fieldIssuerID, c.IssuerID)
	f.set(fieldKeyID, c.KeyID)
	f.set(fieldPrivateKey, c.PrivateKey)
	return f
}

func decodeCredentials(r *Record) model.Credentials {
	return model.Credentials{
		IssuerID:   getString(r, fieldIssuerID),
		KeyID:      getString(r, fieldKeyID),
		PrivateKey: getString(r, fieldPrivateKey),
	}
}

func encodeAppMetadata(appID string, lastChecked time.Time) fields {
	f := fields{}
	f.set(fieldAppID, appID)
	f.set(fieldLastCheckedDate, lastChecked)
	return f
}

func encodeUserSettings(s model.UserSettings) fields {
	f := fields{}
	f.set(fieldHiddenApps, s.HiddenApps)
	f.set(fieldAppOrder, s.AppOrder)
	return f
}

func decodeUserSettings(r *Record) model.UserSettings {
	return model.UserSettings{
		HiddenApps: cast.ToStringSlice(r.Get(fieldHiddenApps)),
		AppOrder:   cast.ToStringSlice(r.Get(fieldAppOrder)),
	}
}
