package adminhttp

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nanocms/nanocms/internal/credstore"
	"github.com/nanocms/nanocms/internal/fsops"
	"github.com/nanocms/nanocms/internal/guard"
	"github.com/nanocms/nanocms/internal/sandbox"
	"github.com/nanocms/nanocms/internal/session"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	router chi.Router
	root   string
	store  *credstore.Store
	signer *session.Signer
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	store, _, err := credstore.Open(filepath.Join(root, "nanocms.json"))
	if err != nil {
		t.Fatalf("credstore.Open: %v", err)
	}
	sb, err := sandbox.New(root, "nanocms.json")
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	g := guard.New(5, 300*time.Second, guard.WithClock(clk.now))
	signer := session.NewSigner(store.Secret())

	api, err := New(Options{
		Store:  store,
		Guard:  g,
		Signer: signer,
		Ops:    fsops.New(sb),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	router := chi.NewRouter()
	api.RegisterRoutes(router)
	return &fixture{router: router, root: root, store: store, signer: signer, clock: clk}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func jsonReq(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withCookie(req *http.Request, token string) *http.Request {
	req.AddCookie(session.Cookie(token))
	return req
}

func decodeResp(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func (f *fixture) loginCookie(t *testing.T) string {
	t.Helper()
	rec := f.do(t, jsonReq(t, http.MethodPost, "/login", map[string]string{"password": credstore.DefaultPassword}))
	if resp := decodeResp(t, rec); resp.Status != "success" {
		t.Fatalf("login failed: %+v", resp)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c.Value
		}
	}
	t.Fatal("no session cookie in login response")
	return ""
}

func TestAPIRequiresAuth(t *testing.T) {
	f := newFixture(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/list"},
		{http.MethodGet, "/api/load?file=index.html"},
		{http.MethodPost, "/api/save"},
		{http.MethodPost, "/api/delete"},
		{http.MethodPost, "/api/change_password"},
	}
	for _, p := range paths {
		rec := f.do(t, httptest.NewRequest(p.method, p.path, http.NoBody))
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s without cookie = %d, want 403", p.method, p.path, rec.Code)
		}
	}

	// a tampered cookie is as good as none
	token := f.loginCookie(t)
	bad := token[:len(token)-1] + string(token[len(token)-1]^1)
	rec := f.do(t, withCookie(httptest.NewRequest(http.MethodGet, "/api/list", http.NoBody), bad))
	if rec.Code != http.StatusForbidden {
		t.Errorf("tampered cookie = %d, want 403", rec.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, jsonReq(t, http.MethodPost, "/login", map[string]string{"password": "wrong"}))
	resp := decodeResp(t, rec)
	if resp.Status != "error" || resp.Message != "Invalid password" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("failed login must not set a cookie")
	}
}

func TestLockoutEndToEnd(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		f.do(t, jsonReq(t, http.MethodPost, "/login", map[string]string{"password": "wrong"}))
	}

	// correct password during the window is still refused
	rec := f.do(t, jsonReq(t, http.MethodPost, "/login", map[string]string{"password": credstore.DefaultPassword}))
	resp := decodeResp(t, rec)
	if resp.Status != "error" || !strings.Contains(resp.Message, "Too many attempts") {
		t.Fatalf("locked resp = %+v", resp)
	}

	// after the window elapses the correct password works
	f.clock.advance(301 * time.Second)
	token := f.loginCookie(t)

	rec = f.do(t, withCookie(httptest.NewRequest(http.MethodGet, "/api/list", http.NoBody), token))
	if rec.Code != http.StatusOK {
		t.Fatalf("list with fresh cookie = %d", rec.Code)
	}
	if resp := decodeResp(t, rec); resp.Status != "success" {
		t.Fatalf("list resp = %+v", resp)
	}
}

func TestAdminPage(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/admin", http.NoBody))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "login") {
		t.Fatalf("unauthenticated /admin: %d", rec.Code)
	}

	token := f.loginCookie(t)
	rec = f.do(t, withCookie(httptest.NewRequest(http.MethodGet, "/admin", http.NoBody), token))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "admin.js") {
		t.Fatalf("authenticated /admin: %d", rec.Code)
	}
}

func TestFileLifecycle(t *testing.T) {
	f := newFixture(t)
	token := f.loginCookie(t)

	post := func(path string, body any) apiResponse {
		t.Helper()
		return decodeResp(t, f.do(t, withCookie(jsonReq(t, http.MethodPost, path, body), token)))
	}

	if resp := post("/api/create_file", map[string]string{"path": "notes/a.txt"}); resp.Status != "success" {
		t.Fatalf("create: %+v", resp)
	}
	if resp := post("/api/save", map[string]string{"file": "notes/a.txt", "content": "hi"}); resp.Status != "success" {
		t.Fatalf("save: %+v", resp)
	}

	rec := f.do(t, withCookie(httptest.NewRequest(http.MethodGet, "/api/load?file=notes/a.txt", http.NoBody), token))
	if rec.Code != http.StatusOK || rec.Body.String() != "hi" {
		t.Fatalf("load = %d %q", rec.Code, rec.Body.String())
	}

	if resp := post("/api/rename", map[string]string{"old_path": "notes/a.txt", "new_name": "b.txt"}); resp.Status != "success" {
		t.Fatalf("rename: %+v", resp)
	}
	if resp := post("/api/delete", map[string]string{"path": "notes"}); resp.Status != "success" {
		t.Fatalf("delete: %+v", resp)
	}

	rec = f.do(t, withCookie(httptest.NewRequest(http.MethodGet, "/api/load?file=notes/b.txt", http.NoBody), token))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("load after delete = %d, want 404", rec.Code)
	}
}

func TestLoadNeverLeaksOutsideRoot(t *testing.T) {
	f := newFixture(t)
	token := f.loginCookie(t)

	for _, file := range []string{"../etc/passwd", "nanocms.json", ".git/config"} {
		rec := f.do(t, withCookie(httptest.NewRequest(http.MethodGet, "/api/load?file="+file, http.NoBody), token))
		if rec.Code != http.StatusNotFound {
			t.Errorf("load %q = %d, want 404", file, rec.Code)
		}
	}
}

func TestSaveErrors(t *testing.T) {
	f := newFixture(t)
	token := f.loginCookie(t)

	// missing parent directory
	resp := decodeResp(t, f.do(t, withCookie(jsonReq(t, http.MethodPost, "/api/save",
		map[string]string{"file": "no/dir/x.html", "content": "x"}), token)))
	if resp.Status != "error" || resp.Message != "Write error" {
		t.Fatalf("resp = %+v", resp)
	}

	// malformed body degrades to empty fields, then fails validation
	req := httptest.NewRequest(http.MethodPost, "/api/save", strings.NewReader("{not json"))
	resp = decodeResp(t, f.do(t, withCookie(req, token)))
	if resp.Status != "error" {
		t.Fatalf("malformed body resp = %+v", resp)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	token := f.loginCookie(t)

	resp := decodeResp(t, f.do(t, withCookie(jsonReq(t, http.MethodPost, "/api/change_password",
		map[string]string{"password": ""}), token)))
	if resp.Status != "error" || resp.Message != "Empty password" {
		t.Fatalf("empty password resp = %+v", resp)
	}

	resp = decodeResp(t, f.do(t, withCookie(jsonReq(t, http.MethodPost, "/api/change_password",
		map[string]string{"password": "new-secret"}), token)))
	if resp.Status != "success" {
		t.Fatalf("change resp = %+v", resp)
	}

	// old password no longer logs in
	rec := f.do(t, jsonReq(t, http.MethodPost, "/login", map[string]string{"password": credstore.DefaultPassword}))
	if decodeResp(t, rec).Status != "error" {
		t.Error("old password still accepted")
	}

	// new password does
	rec = f.do(t, jsonReq(t, http.MethodPost, "/login", map[string]string{"password": "new-secret"}))
	if decodeResp(t, rec).Status != "success" {
		t.Error("new password rejected")
	}

	// the secret key survives, so the existing session still verifies
	rec = f.do(t, withCookie(httptest.NewRequest(http.MethodGet, "/api/list", http.NoBody), token))
	if rec.Code != http.StatusOK {
		t.Errorf("existing session after password change = %d", rec.Code)
	}
}

func TestUpload(t *testing.T) {
	f := newFixture(t)
	token := f.loginCookie(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "pic.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("png-bytes"))
	mw.WriteField("path", "")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := decodeResp(t, f.do(t, withCookie(req, token)))
	if resp.Status != "success" {
		t.Fatalf("upload resp = %+v", resp)
	}

	b, err := os.ReadFile(filepath.Join(f.root, "resources", "pic.png"))
	if err != nil || string(b) != "png-bytes" {
		t.Fatalf("stored upload = %q, %v", b, err)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/logout", http.NoBody))
	if rec.Code != http.StatusFound {
		t.Fatalf("logout status = %d, want 302", rec.Code)
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("logout did not clear the session cookie")
	}
}

func TestStaticAssetsServed(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/admin/static/login.js", http.NoBody))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "fetch('/login'") {
		t.Fatalf("login.js = %d", rec.Code)
	}
}
