package appstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/model"
)

type AppAttributes struct {
	BundleID string `json:"bundleId"`
	Name     string `json:"name"`
	Locale   string `json:"primaryLocale"`
	SKU      string `json:"sku"`
}

type App struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"` // apps
	Attributes AppAttributes `json:"attributes"`
	Links      Links         `json:"links"`
}

type AppsResponse struct {
	Data  []App              `json:"data"`
	Links PagedDocumentLinks `json:"links"`
	Meta  Meta               `json:"meta"`
}

type AppStoreVersion struct {
	ID         string `json:"id"`
	Type       string `json:"type"` // appStoreVersions
	Attributes struct {
		VersionString   string `json:"versionString"`
		AppStoreState   string `json:"appStoreState"`
		AppVersionState string `json:"appVersionState"`
		Platform        string `json:"platform"`
		CreatedDate     Date   `json:"createdDate"`
	} `json:"attributes"`
}

type AppStoreVersionsResponse struct {
	Data  []AppStoreVersion  `json:"data"`
	Links PagedDocumentLinks `json:"links"`
}

// ListApps returns every app of the account with its latest version, if it
// could be fetched.
func (c *Client) ListApps(ctx context.Context) ([]*model.App, error) {
	var apps []*model.App

	next := "/apps?limit=" + strconv.Itoa(pageLimit)
	for next != "" {
		var page AppsResponse
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("failed to list apps: %w", err)
		}
		for _, a := range page.Data {
			apps = append(apps, a.toModel())
		}
		next = page.Links.Next
	}

	for _, app := range apps {
		v, err := c.LatestVersion(ctx, app.ID)
		if err != nil {
			log.WithError(err).WithField("app", app.ID).Warn("failed to fetch version info")
			continue
		}
		if v == nil {
			continue
		}
		app.CurrentVersion = v.Attributes.VersionString
		state := v.Attributes.AppStoreState
		if state == "" {
			state = v.Attributes.AppVersionState
		}
		app.VersionState = model.ParseVersionState(state)
	}

	return apps, nil
}

// LatestVersion returns the most recently created App Store version of an
// app, or nil if it has none.
func (c *Client) LatestVersion(ctx context.Context, appID string) (*AppStoreVersion, error) {
	q := url.Values{}
	q.Set("limit", "1")
	q.Set("sort", "-createdDate")

	var resp AppStoreVersionsResponse
	if err := c.getJSON(ctx, "/apps/"+url.PathEscape(appID)+"/appStoreVersions?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return &resp.Data[0], nil
}

func (a App) toModel() *model.App {
	locale := a.Attributes.Locale
	if locale == "" {
		locale = model.DefaultLocale
	}
	return &model.App{
		ID:            a.ID,
		Name:          a.Attributes.Name,
		BundleID:      a.Attributes.BundleID,
		SKU:           a.Attributes.SKU,
		PrimaryLocale: locale,
	}
}
