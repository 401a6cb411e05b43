package appstore

import (
	"net/http"
	"net/url"

	"github.com/apex/log"
	"golang.org/x/net/http/httpproxy"
)

// GetProxy returns the proxy func for an explicit proxy URL, falling back to
// the environment (HTTP_PROXY, HTTPS_PROXY, NO_PROXY).
func GetProxy(proxy string) func(*http.Request) (*url.URL, error) {
	if len(proxy) > 0 {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			log.WithError(err).Error("bad proxy url, using environment")
		} else {
			log.Debugf("proxy set to: %s", proxyURL.Redacted())
			return http.ProxyURL(proxyURL)
		}
	}

	conf := httpproxy.FromEnvironment()
	if len(conf.HTTPProxy) > 0 || len(conf.HTTPSProxy) > 0 {
		log.WithFields(log.Fields{
			"http_proxy":  conf.HTTPProxy,
			"https_proxy": conf.HTTPSProxy,
			"no_proxy":    conf.NoProxy,
		}).Debugf("proxy info from environment")
	}

	return http.ProxyFromEnvironment
}
