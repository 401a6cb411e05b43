/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/config"
	"github.com/blacktop/reviewsync/internal/db"
	"github.com/blacktop/reviewsync/internal/icons"
	"github.com/blacktop/reviewsync/internal/manager"
	"github.com/blacktop/reviewsync/internal/records"
	"github.com/blacktop/reviewsync/pkg/appstore"
	"github.com/fatih/color"
	"github.com/spf13/viper"
)

// app is everything a subcommand needs, closed by close.
type app struct {
	conf    *config.Config
	client  *appstore.Client
	manager *manager.Manager
	closers []func() error
}

func (a *app) close() {
	if a.manager != nil {
		a.manager.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.WithError(err).Warn("failed to close")
		}
	}
}

func setup() {
	if viper.GetBool("verbose") {
		log.SetLevel(log.DebugLevel)
	}
	color.NoColor = viper.GetBool("no-color")
}

func newRecordBackend(conf *config.Config) (records.Backend, error) {
	switch conf.Store.Backend {
	case config.BackendSqlite, config.BackendPostgres:
		var (
			b   *records.SQL
			err error
		)
		if conf.Store.Backend == config.BackendSqlite {
			b, err = records.NewSQLite(conf.Store.Path)
		} else {
			b, err = records.NewPostgres(conf.Store.Host, conf.Store.Port, conf.Store.User, conf.Store.Password, conf.Store.Database)
		}
		if err != nil {
			return nil, err
		}
		if err := b.Connect(); err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendRedis:
		return records.NewRedis(conf.Store.URL)
	default:
		return records.NewMemory(), nil
	}
}

func newLocalCache(conf *config.Config) (db.Database, error) {
	var (
		d   db.Database
		err error
	)
	switch conf.Cache.Backend {
	case config.BackendMemory:
		d, err = db.NewInMemory(conf.Cache.Path)
	default:
		d, err = db.NewSqlite(conf.Cache.Path)
	}
	if err != nil {
		return nil, err
	}
	if err := d.Connect(); err != nil {
		return nil, fmt.Errorf("failed to open local cache: %w", err)
	}
	return d, nil
}

// newApp wires the manager from the config and loads the credentials.
func newApp(ctx context.Context, requireCredentials bool) (*app, error) {
	setup()

	conf, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	opts := []appstore.Option{
		appstore.WithProxy(conf.API.Proxy, conf.API.Insecure),
		appstore.WithReportDelay(conf.API.ReportDelay),
	}
	if conf.API.BaseURL != "" {
		opts = append(opts, appstore.WithBaseURL(conf.API.BaseURL))
	}
	// credentials from the config file are used unless the settings hold others
	client := appstore.NewClient(conf.APICredentials(), opts...)

	a := &app{conf: conf, client: client}

	local, err := newLocalCache(conf)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, local.Close)

	backend, err := newRecordBackend(conf)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	store := records.NewStore(backend)
	a.closers = append(a.closers, store.Close)

	resolver, err := icons.NewITunes(conf.Icons.Dir)
	if err != nil {
		a.close()
		return nil, err
	}

	settings := config.NewViperSettings(viper.GetViper())
	if conf.API.VendorNumber != "" && settings.GetString(config.KeyVendorNumber) == "" {
		if err := settings.Set(config.KeyVendorNumber, conf.API.VendorNumber); err != nil {
			log.WithError(err).Warn("failed to save vendor number")
		}
	}

	a.manager = manager.New(client, local, settings,
		manager.WithStore(store),
		manager.WithIcons(resolver),
	)

	ok, err := a.manager.LoadCredentials(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	if !ok && !client.Configured() && requireCredentials {
		a.close()
		return nil, errors.New("no API credentials found, run `reviewsync configure` or set them in the config file")
	}
	if _, err := a.manager.LoadCached(); err != nil {
		log.WithError(err).Debug("failed to load cached apps")
	}
	return a, nil
}
