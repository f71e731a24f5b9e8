package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/idolboard/internal/library"
	"github.com/kalambet/idolboard/internal/match"
	"github.com/kalambet/idolboard/internal/metrics"
	"github.com/kalambet/idolboard/internal/profile"
	"github.com/kalambet/idolboard/internal/recognize"
	"github.com/kalambet/idolboard/internal/storage"
)

const testToken = "test-token-12345"

type fakeTranscriber struct {
	text     string
	err      error
	filename string
	body     string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, filename string, r io.Reader) (string, error) {
	data, _ := io.ReadAll(r)
	f.filename = filename
	f.body = string(data)
	return f.text, f.err
}

type testEnv struct {
	handler  http.Handler
	lib      *library.Library
	store    *storage.Store
	profiles *profile.Manager
	metrics  *metrics.Metrics
}

func setupHandler(t *testing.T, configure func(*Deps)) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	resolver := library.NewResolver(t.TempDir())
	lib := library.New(resolver, nil, "m4a")
	profiles := profile.NewManager(resolver)
	m := metrics.New()

	rec := recognize.New(lib, match.New(match.DefaultThreshold), recognize.DefaultStopPhrase)
	rec.SetHistory(store)
	rec.SetObserver(m)

	deps := Deps{
		Library:    lib,
		Profiles:   profiles,
		Recognizer: rec,
		Store:      store,
		Metrics:    m,
		Identity:   Identity{Mode: IdentityQuery},
	}
	if configure != nil {
		configure(&deps)
	}
	return &testEnv{handler: NewHandler(deps), lib: lib, store: store, profiles: profiles, metrics: m}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// multipartRequest builds a multipart POST with the given fields and one
// optional file part.
func multipartRequest(t *testing.T, url string, fields map[string]string, fileField, fileName string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rr.Body.String())
	}
	return m
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, code, rr.Body.String())
	}
	if msg, _ := decodeBody(t, rr)["error"].(string); msg == "" {
		t.Errorf("missing error message in %s", rr.Body.String())
	}
}

func upload(t *testing.T, e *testEnv, userID, command, fileName string, content []byte) {
	t.Helper()
	fields := map[string]string{"command": command}
	if userID != "" {
		fields["user_id"] = userID
	}
	rr := e.do(multipartRequest(t, "/upload", fields, "audio", fileName, content))
	if rr.Code != http.StatusOK {
		t.Fatalf("upload %q: status = %d; body = %s", command, rr.Code, rr.Body.String())
	}
}

func TestHealth(t *testing.T) {
	e := setupHandler(t, nil)

	rr := e.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
}

func TestBearerAuth(t *testing.T) {
	e := setupHandler(t, func(d *Deps) { d.Token = testToken })

	rr := e.do(httptest.NewRequest(http.MethodGet, "/commands", nil))
	expectError(t, rr, http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/commands", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	expectError(t, e.do(req), http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodGet, "/commands", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if rr := e.do(req); rr.Code != http.StatusOK {
		t.Fatalf("authorized status = %d; body = %s", rr.Code, rr.Body.String())
	}

	for _, path := range []string{"/health", "/metrics"} {
		if rr := e.do(httptest.NewRequest(http.MethodGet, path, nil)); rr.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200 without token", path, rr.Code)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	e := setupHandler(t, nil)
	expectError(t, e.do(httptest.NewRequest(http.MethodGet, "/nope", nil)), http.StatusNotFound)
}

func TestUpload_ThenListCommands(t *testing.T) {
	e := setupHandler(t, nil)

	rr := e.do(multipartRequest(t, "/upload", map[string]string{"command": " world "}, "audio", "clip.m4a", []byte("w")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != true || body["command"] != "world" || body["queued"] != false {
		t.Errorf("upload response = %v", body)
	}

	upload(t, e, "", "hello", "x.mp3", []byte("h"))
	upload(t, e, "bob", "other", "x.m4a", []byte("o"))

	rr = e.do(httptest.NewRequest(http.MethodGet, "/commands", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Success  bool     `json:"success"`
		Commands []string `json:"commands"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if !resp.Success || strings.Join(resp.Commands, ",") != "hello,world" {
		t.Errorf("commands = %+v, want [hello world]", resp)
	}

	rr = e.do(httptest.NewRequest(http.MethodGet, "/get_commands?user_id=bob", nil))
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if strings.Join(resp.Commands, ",") != "other" {
		t.Errorf("bob commands = %v, want [other]", resp.Commands)
	}
}

func TestListCommands_EmptyIsArray(t *testing.T) {
	e := setupHandler(t, nil)
	rr := e.do(httptest.NewRequest(http.MethodGet, "/commands?user_id=nobody", nil))
	if !strings.Contains(rr.Body.String(), `"commands":[]`) {
		t.Errorf("body = %s, want empty array", rr.Body.String())
	}
}

func TestUpload_CommandFallsBackToFilename(t *testing.T) {
	e := setupHandler(t, nil)

	rr := e.do(multipartRequest(t, "/upload", nil, "audio", "早安.m4a", []byte("x")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["command"]; got != "早安" {
		t.Errorf("command = %v, want 早安", got)
	}
}

func TestUpload_Rejects(t *testing.T) {
	e := setupHandler(t, nil)

	t.Run("missing file", func(t *testing.T) {
		rr := e.do(multipartRequest(t, "/upload", map[string]string{"command": "a"}, "", "", nil))
		expectError(t, rr, http.StatusBadRequest)
	})
	t.Run("unsupported format", func(t *testing.T) {
		rr := e.do(multipartRequest(t, "/upload", map[string]string{"command": "a"}, "audio", "a.exe", []byte("x")))
		expectError(t, rr, http.StatusBadRequest)
	})
	t.Run("traversal in command", func(t *testing.T) {
		rr := e.do(multipartRequest(t, "/upload", map[string]string{"command": "../../etc/passwd"}, "audio", "a.m4a", []byte("x")))
		expectError(t, rr, http.StatusBadRequest)
	})
	t.Run("invalid user", func(t *testing.T) {
		rr := e.do(multipartRequest(t, "/upload", map[string]string{"command": "a", "user_id": "../bob"}, "audio", "a.m4a", []byte("x")))
		expectError(t, rr, http.StatusBadRequest)
	})
	t.Run("not multipart", func(t *testing.T) {
		rr := e.do(jsonRequest(http.MethodPost, "/upload", `{"command":"a"}`))
		expectError(t, rr, http.StatusBadRequest)
	})
}

func TestUpload_TooLarge(t *testing.T) {
	e := setupHandler(t, func(d *Deps) { d.MaxUploadBytes = 1024 })

	big := bytes.Repeat([]byte("a"), 8<<10)
	rr := e.do(multipartRequest(t, "/upload", map[string]string{"command": "big"}, "audio", "big.m4a", big))
	expectError(t, rr, http.StatusRequestEntityTooLarge)

	commands, err := e.lib.ListCommands("default")
	if err != nil {
		t.Fatal(err)
	}
	if len(commands) != 0 {
		t.Errorf("commands = %v, oversized upload must not be stored", commands)
	}
}

func TestRecognize_JSON(t *testing.T) {
	e := setupHandler(t, nil)
	upload(t, e, "", "hello", "a.m4a", []byte("h"))
	upload(t, e, "", "world", "a.m4a", []byte("w"))

	t.Run("fuzzy play", func(t *testing.T) {
		rr := e.do(jsonRequest(http.MethodPost, "/recognize", `{"command":"helo"}`))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
		}
		body := decodeBody(t, rr)
		if body["action"] != "play" || body["file_name"] != "hello" || body["success"] != true {
			t.Errorf("response = %v", body)
		}
		if score, _ := body["score"].(float64); score < 0.88 || score > 0.89 {
			t.Errorf("score = %v, want 8/9", body["score"])
		}
	})

	t.Run("stop phrase", func(t *testing.T) {
		rr := e.do(jsonRequest(http.MethodPost, "/recognize", `{"command":"結束"}`))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		body := decodeBody(t, rr)
		if body["action"] != "stop" || body["success"] != true {
			t.Errorf("response = %v", body)
		}
		if _, ok := body["file_name"]; ok {
			t.Errorf("stop response must not name a file: %v", body)
		}
	})

	t.Run("no match", func(t *testing.T) {
		rr := e.do(jsonRequest(http.MethodPost, "/recognize", `{"command":"xyz"}`))
		expectError(t, rr, http.StatusNotFound)
		if decodeBody(t, rr)["success"] != false {
			t.Errorf("success must be false: %s", rr.Body.String())
		}
	})

	t.Run("missing command", func(t *testing.T) {
		expectError(t, e.do(jsonRequest(http.MethodPost, "/recognize", `{}`)), http.StatusBadRequest)
	})

	t.Run("malformed body", func(t *testing.T) {
		expectError(t, e.do(jsonRequest(http.MethodPost, "/recognize", `{not json`)), http.StatusBadRequest)
	})

	t.Run("other user has no clips", func(t *testing.T) {
		rr := e.do(jsonRequest(http.MethodPost, "/recognize", `{"command":"hello","user_id":"bob"}`))
		expectError(t, rr, http.StatusNotFound)
	})

	recs, err := e.store.ListRecognitions("default", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Errorf("history has %d entries for default, want 3 (play, stop, not_found)", len(recs))
	}
}

func TestRecognize_Audio(t *testing.T) {
	tr := &fakeTranscriber{text: "hello"}
	e := setupHandler(t, func(d *Deps) { d.Transcriber = tr })
	upload(t, e, "", "hello", "a.m4a", []byte("h"))

	rr := e.do(multipartRequest(t, "/recognize", nil, "audio", "speech.wav", []byte("RIFF")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["file_name"]; got != "hello" {
		t.Errorf("file_name = %v, want hello", got)
	}
	if tr.filename != "speech.wav" || tr.body != "RIFF" {
		t.Errorf("transcriber saw %q/%q", tr.filename, tr.body)
	}

	recs, err := e.store.ListRecognitions("default", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Source != recognize.SourceAudio {
		t.Errorf("history = %+v, want one audio entry", recs)
	}
}

func TestRecognize_AudioErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		e := setupHandler(t, nil)
		rr := e.do(multipartRequest(t, "/recognize", nil, "audio", "speech.wav", []byte("RIFF")))
		expectError(t, rr, http.StatusServiceUnavailable)
	})
	t.Run("upstream failure", func(t *testing.T) {
		e := setupHandler(t, func(d *Deps) { d.Transcriber = &fakeTranscriber{err: errors.New("boom")} })
		rr := e.do(multipartRequest(t, "/recognize", nil, "audio", "speech.wav", []byte("RIFF")))
		expectError(t, rr, http.StatusBadGateway)
	})
	t.Run("form command without audio", func(t *testing.T) {
		e := setupHandler(t, nil)
		rr := e.do(multipartRequest(t, "/recognize", map[string]string{"command": "結束"}, "", "", nil))
		if rr.Code != http.StatusOK || decodeBody(t, rr)["action"] != "stop" {
			t.Errorf("status = %d; body = %s", rr.Code, rr.Body.String())
		}
	})
}

func TestPlay(t *testing.T) {
	e := setupHandler(t, nil)
	upload(t, e, "", "hello", "a.m4a", []byte("clip-bytes"))

	rr := e.do(httptest.NewRequest(http.MethodGet, "/play/hello", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	data, err := base64.StdEncoding.DecodeString(body["audio_data"].(string))
	if err != nil {
		t.Fatalf("audio_data is not base64: %v", err)
	}
	if string(data) != "clip-bytes" {
		t.Errorf("audio_data = %q", data)
	}
	if body["mime_type"] != "audio/mp4" {
		t.Errorf("mime_type = %v", body["mime_type"])
	}

	rr = e.do(httptest.NewRequest(http.MethodGet, "/play/hello?format=raw", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("raw status = %d", rr.Code)
	}
	if rr.Body.String() != "clip-bytes" {
		t.Errorf("raw body = %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/mp4" {
		t.Errorf("Content-Type = %q", ct)
	}

	expectError(t, e.do(httptest.NewRequest(http.MethodGet, "/play/missing", nil)), http.StatusNotFound)
}

func TestPlay_EscapedName(t *testing.T) {
	e := setupHandler(t, nil)
	upload(t, e, "", "早安 晨光", "a.m4a", []byte("x"))

	rr := e.do(httptest.NewRequest(http.MethodGet, "/play/%E6%97%A9%E5%AE%89%20%E6%99%A8%E5%85%89", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
}

func TestDeleteCommand(t *testing.T) {
	e := setupHandler(t, nil)
	upload(t, e, "", "bye", "a.m4a", []byte("x"))

	rr := e.do(httptest.NewRequest(http.MethodDelete, "/commands/bye", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	expectError(t, e.do(httptest.NewRequest(http.MethodDelete, "/commands/bye", nil)), http.StatusNotFound)
}

func TestConfig_GetDefaultsAndUpdateJSON(t *testing.T) {
	e := setupHandler(t, nil)

	rr := e.do(httptest.NewRequest(http.MethodGet, "/config?user_id=alice", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var p profile.UserProfile
	json.Unmarshal(rr.Body.Bytes(), &p)
	if p != profile.Defaults() {
		t.Errorf("profile = %+v, want defaults", p)
	}

	rr = e.do(jsonRequest(http.MethodPost, "/config", `{"user_id":"alice","idol_name":"Miku","theme_color":"#39c5bb"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	got, err := e.profiles.Get("alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.IdolName != "Miku" || got.ThemeColor != "#39c5bb" || got.ButtonColor != "#FF69B4" {
		t.Errorf("profile = %+v", got)
	}

	rr = e.do(jsonRequest(http.MethodPost, "/config", `{"user_id":"alice","button_color":"pink"}`))
	expectError(t, rr, http.StatusBadRequest)
}

func TestConfig_MultipartWithImage(t *testing.T) {
	e := setupHandler(t, nil)

	fields := map[string]string{"user_id": "alice", "idol_name": "Rin"}
	rr := e.do(multipartRequest(t, "/update_config", fields, "profile_image", "me.PNG", []byte("png-bytes")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	p, err := e.profiles.Get("alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.IdolName != "Rin" || p.ProfileImage != "/profile_images/alice/profile.png" {
		t.Errorf("profile = %+v", p)
	}

	rr = e.do(httptest.NewRequest(http.MethodGet, p.ProfileImage, nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "png-bytes" {
		t.Errorf("serving image: status = %d body = %q", rr.Code, rr.Body.String())
	}
}

func TestConfig_InvalidUpdateKeepsImage(t *testing.T) {
	e := setupHandler(t, nil)

	rr := e.do(multipartRequest(t, "/config", map[string]string{"user_id": "alice"}, "profile_image", "a.png", []byte("first")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	fields := map[string]string{"user_id": "alice", "theme_color": "not-a-color"}
	rr = e.do(multipartRequest(t, "/config", fields, "profile_image", "b.jpg", []byte("second")))
	expectError(t, rr, http.StatusBadRequest)

	p, err := e.profiles.Get("alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.ProfileImage != "/profile_images/alice/profile.png" {
		t.Fatalf("ProfileImage = %q", p.ProfileImage)
	}
	rr = e.do(httptest.NewRequest(http.MethodGet, p.ProfileImage, nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "first" {
		t.Errorf("serving image: status = %d body = %q", rr.Code, rr.Body.String())
	}
}

func TestProfileImage(t *testing.T) {
	e := setupHandler(t, nil)

	rr := e.do(multipartRequest(t, "/profile_image", map[string]string{"user_id": "alice"}, "profile", "me.jpg", []byte("one")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["image_url"]; got != "/profile_images/alice/profile.jpg" {
		t.Errorf("image_url = %v", got)
	}

	rr = e.do(multipartRequest(t, "/upload_profile", map[string]string{"user_id": "alice"}, "profile", "me.gif", []byte("two")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	dirs, err := e.lib.Resolver().Paths("alice")
	if err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dirs.Profile)
	if len(entries) != 1 || entries[0].Name() != "profile.gif" {
		t.Errorf("profile dir = %v, want only profile.gif", entries)
	}

	p, _ := e.profiles.Get("alice")
	if p.ProfileImage != "/profile_images/alice/profile.gif" {
		t.Errorf("ProfileImage = %q", p.ProfileImage)
	}

	rr = e.do(multipartRequest(t, "/profile_image", nil, "profile", "me.svg", []byte("<svg/>")))
	expectError(t, rr, http.StatusBadRequest)

	rr = e.do(multipartRequest(t, "/profile_image", nil, "", "", nil))
	expectError(t, rr, http.StatusBadRequest)
}

func TestServeProfileImage_Rejects(t *testing.T) {
	e := setupHandler(t, nil)
	expectError(t, e.do(httptest.NewRequest(http.MethodGet, "/profile_images/alice/profile.png", nil)), http.StatusNotFound)
	expectError(t, e.do(httptest.NewRequest(http.MethodGet, "/profile_images/alice/..%2Fsecret", nil)), http.StatusBadRequest)
}

func TestSessionIdentity(t *testing.T) {
	e := setupHandler(t, func(d *Deps) {
		d.Identity = Identity{Mode: IdentitySession, CookieName: "uid"}
	})

	rr := e.do(multipartRequest(t, "/upload", map[string]string{"command": "mine", "user_id": "spoofed"}, "audio", "a.m4a", []byte("x")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "uid" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("session cookie not issued")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	if cmds, _ := e.lib.ListCommands("spoofed"); len(cmds) != 0 {
		t.Errorf("request user_id must be ignored in session mode, got %v", cmds)
	}
	if cmds, _ := e.lib.ListCommands(cookie.Value); len(cmds) != 1 {
		t.Errorf("session user commands = %v", cmds)
	}

	req := httptest.NewRequest(http.MethodGet, "/commands", nil)
	req.AddCookie(cookie)
	rr = e.do(req)
	if !strings.Contains(rr.Body.String(), `"mine"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Error("existing session must not be reissued")
	}

	// A fresh client sees an empty library.
	rr = e.do(httptest.NewRequest(http.MethodGet, "/commands", nil))
	if !strings.Contains(rr.Body.String(), `"commands":[]`) {
		t.Errorf("new session body = %s", rr.Body.String())
	}
}

func TestHistory(t *testing.T) {
	e := setupHandler(t, nil)
	upload(t, e, "", "hello", "a.m4a", []byte("h"))
	for _, q := range []string{"hello", "xyz", "helo"} {
		e.do(jsonRequest(http.MethodPost, "/recognize", `{"command":"`+q+`"}`))
	}

	rr := e.do(httptest.NewRequest(http.MethodGet, "/history?limit=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		History []storage.Recognition `json:"history"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.History) != 2 {
		t.Fatalf("got %d entries, want 2", len(resp.History))
	}
	if resp.History[0].Query != "helo" {
		t.Errorf("newest entry = %q, want helo", resp.History[0].Query)
	}

	rr = e.do(httptest.NewRequest(http.MethodDelete, "/history/"+resp.History[0].ID+"?user_id=bob", nil))
	expectError(t, rr, http.StatusNotFound)

	rr = e.do(httptest.NewRequest(http.MethodDelete, "/history/"+resp.History[0].ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = e.do(httptest.NewRequest(http.MethodDelete, "/history", nil))
	if got := decodeBody(t, rr)["deleted"]; got != float64(2) {
		t.Errorf("deleted = %v, want 2", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := setupHandler(t, nil)
	upload(t, e, "", "hello", "a.m4a", []byte("h"))
	e.do(jsonRequest(http.MethodPost, "/recognize", `{"command":"hello"}`))

	rr := e.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`idolboard_http_requests_total{method="POST",route="/upload",status_code="200"} 1`,
		`idolboard_uploads_total{format="m4a",outcome="ok"} 1`,
		`idolboard_recognitions_total{action="play",source="text"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestUpload_StoredOnDisk(t *testing.T) {
	e := setupHandler(t, nil)
	upload(t, e, "carol", "晚安", "a.m4a", []byte("gn"))

	dirs, err := e.lib.Resolver().Paths("carol")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dirs.Audio, "晚安.m4a"))
	if err != nil {
		t.Fatalf("clip not stored: %v", err)
	}
	if string(data) != "gn" {
		t.Errorf("stored = %q", data)
	}
}
