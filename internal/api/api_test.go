package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/compact"
	"github.com/starford/ansuz/internal/docstore"
	"github.com/starford/ansuz/internal/testutil"
)

func newTestRouter(t *testing.T) (chi.Router, *docstore.Registry) {
	t.Helper()
	reg, store := testutil.TestRegistry(t, "writerA")
	comp := compact.New(store, compact.Policy{}, testutil.Logger())
	gc := compact.NewGC(store, testutil.Logger())
	svc := NewService(reg, store, comp, gc, compact.GCConfig{KeepSnapshots: 1}, testutil.Logger())
	return NewRouter(svc, false, "", nil), reg
}

func doJSON(t *testing.T, r chi.Router, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	reg, store := testutil.TestRegistry(t, "writerA")
	comp := compact.New(store, compact.Policy{}, testutil.Logger())
	gc := compact.NewGC(store, testutil.Logger())
	svc := NewService(reg, store, comp, gc, compact.GCConfig{KeepSnapshots: 1}, testutil.Logger())
	r := NewRouter(svc, true, "secret", nil)

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: %d", w.Code)
	}
}

func TestCreateAndGetDocument(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/documents", map[string]string{})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created DocumentDetail
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Kind != "note" || created.State != "ready" {
		t.Errorf("created = %+v", created)
	}

	w = doJSON(t, r, http.MethodGet, "/documents/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
}

func TestCreateDocumentRejectsBadIDs(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, id := range []string{"../folders", "folders", "a/b", ".."} {
		w := doJSON(t, r, http.MethodPost, "/documents", map[string]string{"id": id})
		if w.Code != http.StatusBadRequest {
			t.Errorf("create %q: code = %d, want 400", id, w.Code)
		}
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/documents/no-such-doc", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", w.Code)
	}
}

func TestAppendBlockAndText(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/documents", map[string]string{"id": "n1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/documents/n1/blocks",
		map[string]string{"tag": "h1", "text": "My Note\nbody"})
	if w.Code != http.StatusOK {
		t.Fatalf("append: %d %s", w.Code, w.Body.String())
	}
	var detail DocumentDetail
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if detail.Clock["writerA"] != 1 {
		t.Errorf("clock = %v", detail.Clock)
	}

	w = doJSON(t, r, http.MethodGet, "/documents/n1/text", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("text: %d", w.Code)
	}
	var text DocumentText
	if err := json.Unmarshal(w.Body.Bytes(), &text); err != nil {
		t.Fatal(err)
	}
	if text.Title != "My Note" || !strings.Contains(text.Text, "body") {
		t.Errorf("text = %+v", text)
	}
}

func TestListDocuments(t *testing.T) {
	r, reg := newTestRouter(t)
	if _, err := reg.OpenTree(context.Background()); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, r, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	var resp struct {
		Documents []DocumentSummary `json:"documents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Documents) != 1 || resp.Documents[0].Kind != "tree" {
		t.Errorf("documents = %+v", resp.Documents)
	}
}

func TestFolderEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPut, "/folders",
		FolderInfo{ID: "f1", Name: "Inbox", Order: 1})
	if w.Code != http.StatusNoContent {
		t.Fatalf("upsert: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/folders", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	var resp struct {
		Folders []FolderInfo `json:"folders"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Folders) != 1 || resp.Folders[0].Name != "Inbox" {
		t.Errorf("folders = %+v", resp.Folders)
	}

	w = doJSON(t, r, http.MethodDelete, "/folders/f1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/folders", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Folders) != 0 {
		t.Errorf("folders after delete = %+v", resp.Folders)
	}
}

func TestRemoveFolderUnknownID(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodDelete, "/folders/no-such-folder", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", w.Code)
	}
}

func TestCompactEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/documents", map[string]string{"id": "n1"})
	for i := 0; i < 3; i++ {
		w := doJSON(t, r, http.MethodPost, "/documents/n1/blocks", map[string]string{"text": "x"})
		if w.Code != http.StatusOK {
			t.Fatalf("append: %d", w.Code)
		}
	}

	w := doJSON(t, r, http.MethodPost, "/documents/n1/compact", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("compact: %d %s", w.Code, w.Body.String())
	}
	var res CompactResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Snapshot == "" || len(res.Subsumed) != 3 {
		t.Errorf("result = %+v", res)
	}
	if res.Pack == "" {
		t.Errorf("expected a pack from three contiguous updates")
	}
}

func TestGCEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/gc?dry_run=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("gc: %d %s", w.Code, w.Body.String())
	}
	var resp GCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.DryRun {
		t.Error("dry_run flag not echoed")
	}
}

func TestMigrateEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/migrate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("migrate: %d %s", w.Code, w.Body.String())
	}
}
