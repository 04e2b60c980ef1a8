package engine

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredChain(t *testing.T) {
	f := newFixture(t, nil)

	f.eval(`
		var log = [];
		var d = new Deferred();
		d.then(function(v) { log.push("a" + v); return "x"; })
		 .then(function(v) { log.push("b" + v); });
		d.fail(function() { log.push("never"); });
		var pending = d.isFulfilled;
		d.resolve(1);
		d.resolve(2);
	`)
	assert.Equal(t, "a1,bx", f.eval("log.join(',')"))
	assert.Equal(t, false, f.eval("pending"))
	assert.Equal(t, true, f.eval("d.isFulfilled"))

	// Registering on a settled Deferred runs at once.
	assert.Equal(t, int64(1), f.eval(`var late; d.done(function(v) { late = v; }); late`))
}

func TestDeferredFollowsReturnedDeferred(t *testing.T) {
	f := newFixture(t, nil)

	f.eval(`
		var log = [];
		var inner = new Deferred();
		var outer = new Deferred();
		outer.then(function() { return inner; })
		     .then(function(v) { log.push("ok " + v); }, function(e) { log.push("err " + e); })
		     .fail(function(e) { log.push("later " + e); });
		outer.resolve();
	`)
	assert.Equal(t, "", f.eval("log.join(',')"))
	// A chain that continued from a fulfillment skips the rejection
	// callbacks of its follower, the rejection itself travels on.
	f.eval(`inner.reject("boom");`)
	assert.Equal(t, "later boom", f.eval("log.join(',')"))
}

func TestDeferredRejectionRecovers(t *testing.T) {
	f := newFixture(t, nil)

	f.eval(`
		var log = [];
		var d = new Deferred();
		d.then(null, function(e) { return "x"; })
		 .then(function(v) { log.push("ok " + v); }, function(e) { log.push("fail " + e); });
		d.fail(function() {})
		 .then(function(v) { log.push("passed " + v); });
		d.done(function() { log.push("never"); })
		 .fail(function(e) { log.push("unhandled " + e); });
		d.reject("boom");
	`)
	assert.Equal(t, "ok x,passed boom,unhandled boom", f.eval("log.join(',')"))
}

func TestDeferredCallbackThis(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, true, f.eval(`
		var self;
		var d = new Deferred();
		d.then(function() { self = this; });
		d.resolve();
		self === d
	`))
	assert.Equal(t, true, f.eval(`
		var failSelf;
		var r = new Deferred();
		r.fail(function() { failSelf = this; });
		r.reject();
		failSelf === r
	`))
}

func TestDeferredWhen(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, int64(10), f.eval(`Deferred.when(5, function(v) { return v * 2; })`))
	assert.Equal(t, "rejected", f.eval(`
		var state;
		var d = new Deferred();
		Deferred.when(d, function() { state = "resolved"; }, function() { state = "rejected"; });
		d.reject();
		state
	`))
	assert.Equal(t, true, f.eval(`Deferred.when(new Deferred(), function() {}) instanceof Deferred`))
}

func TestDeferredCallbackErrors(t *testing.T) {
	f := newFixture(t, nil)

	f.eval(`
		var after = [];
		var d = new Deferred();
		d.then(function() { throw new Error("inside"); }).then(function(v) { after.push(v); });
		d.resolve("passed");
	`)
	assert.Equal(t, "passed", f.eval("after.join(',')"))
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.ScriptErrors), 1.0)
}

func TestTimerRepeatsUntilFalsy(t *testing.T) {
	f := newFixture(t, nil)

	id := f.eval(`var n = 0; namespace("timer").start(5, function() { n++; return n < 3; })`)
	assert.NotEqual(t, int64(0), id)
	f.eventually("n === 3")
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.TimersActive))
	assert.Equal(t, false, f.eval(fmt.Sprintf(`namespace("timer").stop(%d)`, id)))
}

func TestTimerStop(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, int64(0), f.eval(`namespace("timer").start(5, "not a function")`))
	assert.Equal(t, true, f.eval(`
		var ticks = 0;
		var id = namespace("timer").start(10000, function() { ticks++; return true; });
		namespace("timer").stop(id)
	`))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.TimersActive))

	f.eval(`
		var self = 0;
		var selfId = namespace("timer").start(5, function() {
			self++;
			namespace("timer").stop(selfId);
			return true;
		});
	`)
	f.eventually("self === 1")
}

func TestSpawn(t *testing.T) {
	f := newFixture(t, nil)

	f.eval(`
		var lines = [], finished, result;
		namespace("system").spawn("printf %s hi", {
			onStdout: function(line) { lines.push(line); },
			onFinished: function(r) { finished = r.status; },
		}).then(function(r) { result = r; });
	`)
	f.eventually("result !== undefined")
	assert.Equal(t, `{"lines":["hi"],"finished":0,"result":{"status":0,"stdout":"hi"}}`,
		f.eval(`JSON.stringify({lines: lines, finished: finished, result: result})`))
}

func TestSpawnRejects(t *testing.T) {
	f := newFixture(t, nil)

	f.eval(`
		var failed, resolved = false;
		namespace("system").spawn("sh -c 'echo oops >&2; exit 2'", {cacheStderr: true})
			.then(function() { resolved = true; }, function(r) { failed = r; });
		var startFailed;
		namespace("system").spawn("/no/such/binary")
			.fail(function(r) { startFailed = r.status; });
	`)
	f.eventually("failed !== undefined && startFailed !== undefined")
	assert.Equal(t, false, f.eval("resolved"))
	assert.Equal(t, int64(2), f.eval("failed.status"))
	assert.Equal(t, "oops\n", f.eval("failed.stderr"))
	assert.Equal(t, "undefined", f.eval("typeof failed.stdout"))
	assert.Equal(t, int64(-1), f.eval("startFailed"))
}

func TestSystemNamespace(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, "x\n", f.eval(`namespace("system").spawnSync("sh -c 'echo $V'", {V: "x"}).stdout`))
	assert.Equal(t, int64(-1), f.eval(`namespace("system").spawnSync("/no/such/binary").status`))

	t.Setenv("BRIDGE_TEST_VAR", "one")
	assert.Equal(t, "one", f.eval(`namespace("system").getEnv("BRIDGE_TEST_VAR")`))
	f.eval(`namespace("system").setEnv("BRIDGE_TEST_VAR", "two", false)`)
	assert.Equal(t, "one", os.Getenv("BRIDGE_TEST_VAR"))
	f.eval(`namespace("system").setEnv("BRIDGE_TEST_VAR", "two")`)
	assert.Equal(t, "two", os.Getenv("BRIDGE_TEST_VAR"))
	assert.Nil(t, f.eval(`namespace("system").getEnv("BRIDGE_TEST_MISSING")`))

	assert.Equal(t, int64(os.Getpid()), f.eval(`namespace("system").getPid()`))

	dir := filepath.Join(t.TempDir(), "a", "b")
	assert.Equal(t, true, f.eval(fmt.Sprintf(`namespace("system").mkdir(%q)`, dir)))
	assert.Equal(t, true, f.eval(fmt.Sprintf(`namespace("system").fileTest(%q, FileTest.dir)`, dir)))
	assert.Equal(t, false, f.eval(fmt.Sprintf(`namespace("system").fileTest(%q, FileTest.regular)`, dir)))

	assert.Equal(t, `'a b'`, f.eval(`namespace("system").shellQuote("a b")`))
	assert.Equal(t, "a b", f.eval(`namespace("system").shellUnquote("'a b'")`))
}

func TestUtilNamespace(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", f.eval(`namespace("util").checksum("abc", ChecksumType.md5)`))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", f.eval(`namespace("util").checksum("abc")`))
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", f.eval(`namespace("util").checksum("abc", "sha1")`))
	assert.Nil(t, f.eval(`namespace("util").checksum("abc", "crc")`))

	assert.Equal(t, true, f.eval(`namespace("util").glob("*.example.com").match("www.example.com")`))
	assert.Equal(t, false, f.eval(`namespace("util").glob("*.example.com").match("example.org")`))
	assert.Nil(t, f.eval(`namespace("util").glob("[")`))

	assert.Equal(t, "load-status", f.eval(`namespace("util").uncamelize("loadStatus")`))
	assert.Equal(t, "loadStatus", f.eval(`namespace("util").camelize("load-status")`))
}

func TestIONamespace(t *testing.T) {
	f := newFixture(t, nil)
	p := filepath.Join(t.TempDir(), "out.txt")

	f.eval(`namespace("io").print("to stdout"); namespace("io").print("to stderr", "stderr");`)
	assert.Equal(t, "to stdout\n", f.stdout.String())
	assert.Equal(t, "to stderr\n", f.stderr.String())

	assert.Equal(t, true, f.eval(fmt.Sprintf(`namespace("io").write(%q, "w", "one")`, p)))
	assert.Equal(t, true, f.eval(fmt.Sprintf(`namespace("io").write(%q, "a", "two")`, p)))
	assert.Equal(t, false, f.eval(fmt.Sprintf(`namespace("io").write(%q, "x", "three")`, p)))
	assert.Equal(t, "onetwo", f.eval(fmt.Sprintf(`namespace("io").read(%q)`, p)))
	assert.Nil(t, f.eval(`namespace("io").read("/does/not/exist")`))
	assert.Equal(t, "out.txt", f.eval(fmt.Sprintf(`namespace("io").dirNames(%q).join(",")`, filepath.Dir(p))))

	assert.Equal(t, true, f.eval(`Object.isFrozen(namespace("io"))`))
	assert.Equal(t, "undefined", f.eval(`typeof namespace("nothing")`))
}

func TestNetNamespace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Method", r.Method)
		fmt.Fprint(w, "pong")
	}))
	defer srv.Close()
	f := newFixture(t, nil)

	f.eval(fmt.Sprintf(`
		var ok, notFound;
		namespace("net").sendRequest(%q, {method: "post", data: "ping"})
			.then(function(r) { ok = r; });
		namespace("net").sendRequest(%q)
			.fail(function(r) { notFound = r.status; });
	`, srv.URL+"/ping", srv.URL+"/missing"))
	f.eventually("ok !== undefined && notFound !== undefined")
	assert.Equal(t, "pong", f.eval("ok.body"))
	assert.Equal(t, int64(200), f.eval("ok.status"))
	assert.Equal(t, "POST", f.eval(`ok.headers["X-Method"]`))
	assert.Equal(t, "utf-8", f.eval("ok.charset"))
	assert.Equal(t, int64(404), f.eval("notFound"))

	assert.Equal(t, "example.co.uk", f.eval(`namespace("net").domainFromHost("www.example.co.uk")`))
	uri := f.eval(`namespace("net").parseUri("https://user@example.com:8080/p?q=1#frag")`)
	require.IsType(t, map[string]any{}, uri)
	parts := uri.(map[string]any)
	assert.Equal(t, "https", parts["scheme"])
	assert.Equal(t, "example.com", parts["host"])
	assert.Equal(t, "8080", parts["port"])
	assert.Equal(t, "/p", parts["path"])
	assert.Equal(t, "q=1", parts["query"])
	assert.Equal(t, "frag", parts["fragment"])
	assert.Equal(t, "user", parts["user"])
}

func TestSendRequestBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()
	f := newFixture(t, nil)
	f.cfg.Net.BreakerThreshold = 1
	f.reapply()

	f.eval(fmt.Sprintf(`
		var first;
		namespace("net").sendRequest(%q).fail(function(r) { first = r; });
	`, srv.URL))
	f.eventually("first !== undefined")
	assert.Equal(t, int64(500), f.eval("first.status"))

	f.eval(fmt.Sprintf(`
		var second;
		namespace("net").sendRequest(%q).fail(function(r) { second = r; });
	`, srv.URL))
	f.eventually("second !== undefined")
	assert.Equal(t, int64(-1), f.eval("second.status"))
	assert.Contains(t, f.eval("second.error"), "circuit breaker is open")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Requests.WithLabelValues("refused")))
}

func TestConsole(t *testing.T) {
	f := newFixture(t, nil)
	assert.Nil(t, f.eval(`console.log("a", 1); console.warn("b"); console.debug({})`))
}

func TestSendRequestDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		fmt.Fprint(w, "<p class=\"msg\">caf\xe9</p>")
	}))
	defer srv.Close()
	f := newFixture(t, nil)

	f.eval(fmt.Sprintf(`
		var page;
		namespace("net").sendRequest(%q).then(function(r) { page = r; });
	`, srv.URL))
	f.eventually("page !== undefined")
	assert.Equal(t, "iso-8859-1", f.eval("page.charset"))
	assert.Equal(t, "café", f.eval(`namespace("html").select(page.body, "p.msg")[0].text`))
}

func TestHTMLNamespace(t *testing.T) {
	f := newFixture(t, nil)
	f.eval(`var doc = '<ul><li id="a">one</li><li id="b">two <i>2</i></li></ul><script>x()</script>';`)

	assert.Equal(t, "one,two 2", f.eval(`namespace("html").select(doc, "li").map(function(e) { return e.text; }).join()`))
	assert.Equal(t, "b", f.eval(`namespace("html").xpath(doc, "//li[i]")[0].attrs.id`))
	assert.Equal(t, "two <i>2</i>", f.eval(`namespace("html").select(doc, "#b")[0].html`))
	assert.Equal(t, "one two", f.eval(`namespace("html").text("<p>one</p>\n<p>two</p><script>x()</script>")`))
	assert.Equal(t, "<ul><li>one</li></ul>", f.eval(`namespace("html").sanitize('<ul><li onclick="x()">one</li></ul>')`))
	assert.Equal(t, int64(0), f.eval(`namespace("html").select(doc, "table").length`))

	assert.Equal(t, true, f.eval(`
		var threw = false;
		try { namespace("html").xpath(doc, "//li["); } catch (e) { threw = true; }
		threw;
	`))
}
