package engine

import (
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/GriffinCanCode/scriptbridge/internal/config"
	"github.com/GriffinCanCode/scriptbridge/internal/markup"
)

// newHTTPClient builds the client behind net.sendRequest.
func newHTTPClient(cfg config.NetConfig) *resty.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.Logger = nil

	client := resty.New()
	client.
		SetTimeout(time.Duration(cfg.TimeoutMS)*time.Millisecond).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("User-Agent", cfg.UserAgent)
	client.SetTransport(retryClient.HTTPClient.Transport)
	return client
}

type request struct {
	method      string
	headers     map[string]string
	data        string
	contentType string
}

func (c *Context) parseRequest(v goja.Value) request {
	req := request{method: "GET", headers: map[string]string{}}
	obj, ok := v.(*goja.Object)
	if !ok || obj == nil {
		return req
	}
	if m := obj.Get("method"); m != nil && !goja.IsUndefined(m) {
		req.method = strings.ToUpper(m.String())
	}
	if h, ok := obj.Get("headers").(*goja.Object); ok {
		for _, k := range h.Keys() {
			req.headers[k] = h.Get(k).String()
		}
	}
	if d := obj.Get("data"); d != nil && !goja.IsUndefined(d) && !goja.IsNull(d) {
		req.data = d.String()
	}
	if ct := obj.Get("contentType"); ct != nil && !goja.IsUndefined(ct) {
		req.contentType = ct.String()
	}
	return req
}

// sendRequest(uri, {method, headers, data, contentType}) returns a
// Deferred. It resolves with {body, charset, headers, status} for 2xx and 3xx
// responses and rejects with the same shape, or {status: -1, error},
// otherwise. Bodies are decoded to UTF-8. Hosts whose circuit is open are refused without a request.
func (c *Context) jsSendRequest(call goja.FunctionCall) goja.Value {
	d, obj := c.newDeferred()
	uri := call.Argument(0).String()
	req := c.parseRequest(call.Argument(1))

	r := c.http.R().SetContext(c.ctx).SetHeaders(req.headers)
	if req.data != "" {
		if req.contentType != "" {
			r.SetHeader("Content-Type", req.contentType)
		}
		r.SetBody(req.data)
	}

	host := requestHost(uri)
	done, err := c.breakers.Allow(host)
	if err != nil {
		c.m.metrics.Requests.WithLabelValues("refused").Inc()
		c.m.post(c, func() {
			d.Reject(c.newObject(map[string]any{"status": -1, "error": err.Error()}))
		})
		return obj
	}

	go func() {
		resp, err := r.Execute(req.method, uri)
		done(err == nil && resp.StatusCode() < 500)
		c.m.post(c, func() {
			if err != nil {
				c.m.metrics.Requests.WithLabelValues("error").Inc()
				c.logger.Debug("request failed", zap.String("uri", uri), zap.Error(err))
				d.Reject(c.newObject(map[string]any{"status": -1, "error": err.Error()}))
				return
			}
			headers := c.vm.NewObject()
			for k, v := range resp.Header() {
				_ = headers.Set(k, strings.Join(v, ", "))
			}
			body, cs := markup.Decode(resp.Body(), resp.Header().Get("Content-Type"))
			result := c.newObject(map[string]any{
				"body":    body,
				"charset": cs,
				"headers": headers,
				"status":  resp.StatusCode(),
			})
			if resp.StatusCode() >= 400 {
				c.m.metrics.Requests.WithLabelValues("rejected").Inc()
				d.Reject(result)
				return
			}
			c.m.metrics.Requests.WithLabelValues("ok").Inc()
			d.Resolve(result)
		})
	}()
	return obj
}

// requestHost keys the circuit breakers.
func requestHost(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return uri
	}
	return u.Hostname()
}

func (c *Context) netNamespace() *goja.Object {
	return c.newObject(map[string]any{
		"sendRequest": c.jsSendRequest,
		// parseUri splits a URI into its parts, or returns null.
		"parseUri": func(raw string) goja.Value {
			u, err := url.Parse(raw)
			if err != nil {
				return goja.Null()
			}
			return c.newObject(map[string]any{
				"scheme":   u.Scheme,
				"host":     u.Hostname(),
				"port":     u.Port(),
				"path":     u.Path,
				"query":    u.RawQuery,
				"fragment": u.Fragment,
				"user":     u.User.Username(),
			})
		},
		// domainFromHost returns the registrable domain of a host name.
		"domainFromHost": func(host string) goja.Value {
			domain, err := publicsuffix.EffectiveTLDPlusOne(host)
			if err != nil {
				return goja.Null()
			}
			return c.vm.ToValue(domain)
		},
	})
}
