package records

import (
	"context"
	"testing"
	"time"

	"github.com/blacktop/reviewsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})

// externalWrite changes one field the way another installation would.
func externalWrite(t *testing.T, b Backend, name, key string, value any) {
	t.Helper()
	ctx := context.Background()
	cur, err := b.Fetch(ctx, name)
	require.NoError(t, err)
	cur.Fields[key] = value
	_, err = b.Save(ctx, cur, []string{key})
	require.NoError(t, err)
}

func TestUpsertKeepsConcurrentWrite(t *testing.T) {
	for _, bb := range backends {
		t.Run(bb.name, func(t *testing.T) {
			ctx := context.Background()
			b := bb.new(t)
			s := NewStore(b, fastRetry)

			app := &model.App{ID: "app1", Name: "Reviews", BundleID: "com.example.reviews", SKU: "REV"}
			require.NoError(t, s.SaveApp(ctx, app))

			externalWrite(t, b, AppName("app1"), fieldName, "Renamed Elsewhere")

			app.IconURL = "https://is1-ssl.mzstatic.com/image/thumb/reviews/512x512bb.png"
			require.NoError(t, s.SaveApp(ctx, app))

			apps, err := s.FetchApps(ctx)
			require.NoError(t, err)
			require.Len(t, apps, 1)
			assert.Equal(t, "Renamed Elsewhere", apps[0].Name)
			assert.Equal(t, "https://is1-ssl.mzstatic.com/image/thumb/reviews/512x512bb.png", apps[0].IconURL)
			assert.Equal(t, "REV", apps[0].SKU)
		})
	}
}

func TestSaveAppDropsLocalIconURL(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	s := NewStore(b, fastRetry)

	app := &model.App{ID: "app1", Name: "Reviews", BundleID: "com.example.reviews",
		IconURL: "file:///home/alice/.config/reviewsync/icons/com_example_reviews.png"}
	require.NoError(t, s.SaveApp(ctx, app))

	rec, err := b.Fetch(ctx, AppName("app1"))
	require.NoError(t, err)
	assert.NotContains(t, rec.Fields, fieldIconURL)

	// records written before file URLs were filtered
	externalWrite(t, b, AppName("app1"), fieldIconURL, "file:///home/alice/icon.png")
	apps, err := s.FetchApps(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Empty(t, apps[0].IconURL)
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	s := NewStore(b, fastRetry)

	app := &model.App{ID: "app1", Name: "Reviews"}
	require.NoError(t, s.SaveApp(ctx, app))
	first, err := b.Fetch(ctx, AppName("app1"))
	require.NoError(t, err)

	require.NoError(t, s.SaveApp(ctx, app))
	second, err := b.Fetch(ctx, AppName("app1"))
	require.NoError(t, err)
	assert.Equal(t, first.ChangeTag, second.ChangeTag)
	assert.Equal(t, 1, b.Len())

	// a fresh client without snapshots also finds nothing to write
	require.NoError(t, NewStore(b).SaveApp(ctx, app))
	third, err := b.Fetch(ctx, AppName("app1"))
	require.NoError(t, err)
	assert.Equal(t, first.ChangeTag, third.ChangeTag)
}

func TestUpsertRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	s := NewStore(b, fastRetry)

	app := &model.App{ID: "app1", Name: "Reviews", SKU: "REV"}
	require.NoError(t, s.SaveApp(ctx, app))

	var saves, interfere int
	inHook := false
	b.BeforeSave = func(name string) {
		if inHook {
			return
		}
		saves++
		if saves > interfere {
			return
		}
		inHook = true
		defer func() { inHook = false }()
		externalWrite(t, b, name, fieldSKU, "SKU-"+time.Now().String())
	}

	t.Run("succeeds within budget", func(t *testing.T) {
		saves, interfere = 0, 2
		app.CurrentVersion = "2.0"
		require.NoError(t, s.SaveApp(ctx, app))
		assert.Equal(t, 3, saves)

		rec, err := b.Fetch(ctx, AppName("app1"))
		require.NoError(t, err)
		assert.Equal(t, "2.0", rec.Fields[fieldCurrentVersion])
		assert.Contains(t, rec.Fields[fieldSKU], "SKU-")
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		saves, interfere = 0, 100
		app.CurrentVersion = "3.0"
		err := s.SaveApp(ctx, app)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrConflict)
		assert.ErrorIs(t, err, ErrServerRecordChanged)
		assert.Equal(t, 3, saves)

		rec, err := b.Fetch(ctx, AppName("app1"))
		require.NoError(t, err)
		assert.Equal(t, "2.0", rec.Fields[fieldCurrentVersion])
	})
}

func TestUpsertRecreatesMismatchedKind(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	s := NewStore(b, fastRetry)

	_, err := b.Save(ctx, &Record{
		Name:   AppName("app1"),
		Kind:   "LegacyApp",
		Fields: map[string]any{"title": "old schema"},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, s.SaveApp(ctx, &model.App{ID: "app1", Name: "Reviews"}))

	rec, err := b.Fetch(ctx, AppName("app1"))
	require.NoError(t, err)
	assert.Equal(t, KindApp, rec.Kind)
	assert.Equal(t, "Reviews", rec.Fields[fieldName])
	assert.NotContains(t, rec.Fields, "title")
}

func TestReviewRoundTrip(t *testing.T) {
	for _, bb := range backends {
		t.Run(bb.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewStore(bb.new(t), fastRetry)

			t1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
			t2 := t1.Add(48 * time.Hour)
			r1 := &model.CustomerReview{ID: "r1", AppID: "app1", Rating: 5, Title: "Great", CreatedDate: t1, Territory: "USA"}
			r2 := &model.CustomerReview{
				ID: "r2", AppID: "app1", Rating: 2, Body: "meh", CreatedDate: t2, Territory: "DEU",
				Response: &model.Response{ID: "resp2", ReviewID: "r2", Body: "Thanks!", LastModifiedDate: t2, State: model.PendingPublish},
			}
			other := &model.CustomerReview{ID: "r3", AppID: "app2", Rating: 3, CreatedDate: t1}
			for _, r := range []*model.CustomerReview{r1, r2, other} {
				require.NoError(t, s.SaveReview(ctx, r))
			}

			reviews, err := s.FetchReviews(ctx, "app1")
			require.NoError(t, err)
			require.Len(t, reviews, 2)
			assert.Equal(t, "r2", reviews[0].ID, "newest first")
			assert.Equal(t, 2, reviews[0].Rating)
			assert.True(t, t2.Equal(reviews[0].CreatedDate))
			require.NotNil(t, reviews[0].Response)
			assert.Equal(t, "Thanks!", reviews[0].Response.Body)
			assert.Equal(t, model.PendingPublish, reviews[0].Response.State)
			assert.Nil(t, reviews[1].Response)

			// response deleted upstream
			r2.Response = nil
			require.NoError(t, s.SaveReview(ctx, r2))
			reviews, err = s.FetchReviews(ctx, "app1")
			require.NoError(t, err)
			assert.Nil(t, reviews[0].Response)

			assert.ErrorIs(t, s.SaveReview(ctx, &model.CustomerReview{ID: "bad", Rating: 9}), model.ErrValidation)
		})
	}
}

func TestCredentialsAndSettings(t *testing.T) {
	for _, bb := range backends {
		t.Run(bb.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewStore(bb.new(t), fastRetry)

			_, err := s.FetchCredentials(ctx)
			assert.ErrorIs(t, err, model.ErrNotFound)

			creds := model.Credentials{IssuerID: "iss", KeyID: "kid", PrivateKey: "key"}
			require.NoError(t, s.SaveCredentials(ctx, creds))
			got, err := s.FetchCredentials(ctx)
			require.NoError(t, err)
			assert.Equal(t, creds, got)
			require.NoError(t, s.DeleteCredentials(ctx))
			_, err = s.FetchCredentials(ctx)
			assert.ErrorIs(t, err, model.ErrNotFound)

			settings, err := s.FetchUserSettings(ctx)
			require.NoError(t, err)
			assert.Empty(t, settings.HiddenApps)

			require.NoError(t, s.SaveUserSettings(ctx, model.UserSettings{HiddenApps: []string{"app2"}, AppOrder: []string{"app3", "app1"}}))
			settings, err = s.FetchUserSettings(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"app2"}, settings.HiddenApps)
			assert.Equal(t, []string{"app3", "app1"}, settings.AppOrder)

			checked := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
			require.NoError(t, s.SaveAppMetadata(ctx, "app1", checked))
			require.NoError(t, s.SaveAppMetadata(ctx, "app2", checked.Add(time.Hour)))
			meta, err := s.FetchAppMetadata(ctx, "app1")
			require.NoError(t, err)
			assert.True(t, checked.Equal(meta))
			all, err := s.FetchAllAppMetadata(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestStoreUnavailable(t *testing.T) {
	ctx := context.Background()

	_, err := NewStore(nil).FetchApps(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, err, model.ErrRemoteUnavailable)

	b := NewMemory()
	b.SetDown(true)
	s := NewStore(b)
	assert.ErrorIs(t, s.SaveApp(ctx, &model.App{ID: "a"}), model.ErrRemoteUnavailable)

	b.SetDown(false)
	require.NoError(t, s.Available(ctx))
	// checked once per session
	b.SetDown(true)
	assert.NoError(t, s.Available(ctx))
}
