package imhd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const searchResultHTML = `<!DOCTYPE html>
<html><body>
<div class="cestovny_poriadok_zastavkova_tabula">
<a href="/ba/online-zastavkova-tabula?z=94&amp;skin=2">Blument&#225;lske n&#225;mestie</a>
</div>
</body></html>`

const searchAmbiguousHTML = `<!DOCTYPE html>
<html><body>
<div class="cestovny_poriadok_zastavkova_tabula">
<a href="/ba/online-zastavkova-tabula?z=94">One</a>
<a href="/ba/online-zastavkova-tabula?z=95">Two</a>
</div>
</body></html>`

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient("")
	if client.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", client.BaseURL(), DefaultBaseURL)
	}

	client = NewClient("http://example.com/")
	if client.BaseURL() != "http://example.com" {
		t.Errorf("BaseURL = %q, want trailing slash stripped", client.BaseURL())
	}
}

func TestResolveStopName(t *testing.T) {
	var gotUA, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ba/vyhladavanie" {
			http.NotFound(w, r)
			return
		}
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.Query().Get("hladaj")
		w.Write([]byte(searchResultHTML))
	}))
	defer server.Close()

	client := NewClient("")
	client.baseURL = server.URL

	id, err := client.ResolveStopName(context.Background(), "Blument")
	if err != nil {
		t.Fatalf("ResolveStopName failed: %v", err)
	}
	if id != 94 {
		t.Errorf("stop id = %d, want 94", id)
	}
	if gotQuery != "Blument" {
		t.Errorf("hladaj query = %q, want %q", gotQuery, "Blument")
	}
	if gotUA != UserAgent {
		t.Errorf("User-Agent = %q, want the browser string", gotUA)
	}
}

func TestResolveStopName_NoUniqueMatch(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no results", body: `<html><body><p>nothing found</p></body></html>`},
		{name: "two results", body: searchAmbiguousHTML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient("")
			client.baseURL = server.URL

			_, err := client.ResolveStopName(context.Background(), "Nam")
			if !errors.Is(err, ErrNoMatch) {
				t.Errorf("expected ErrNoMatch, got %v", err)
			}
		})
	}
}

func TestResolveStopName_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient("")
	client.baseURL = server.URL

	_, err := client.ResolveStopName(context.Background(), "Blument")
	var connErr *ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnError, got %v", err)
	}
	if connErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", connErr.Status)
	}
}

func TestNearestStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ba/api/sk/cp" || r.URL.Query().Get("op") != "gns" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("lat") == "" || r.URL.Query().Get("lng") == "" {
			t.Error("expected lat and lng query parameters")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"z":94,"n":[1,"2"],"vzdialenost":42.5,"nazov":"Blumentálske námestie","oznacenie":"BLNM","info":"(c) imhd.sk"}`))
	}))
	defer server.Close()

	client := NewClient("")
	client.baseURL = server.URL

	stop, err := client.NearestStop(context.Background(), 48.1552, 17.1173)
	if err != nil {
		t.Fatalf("NearestStop failed: %v", err)
	}
	if stop.StopID != 94 {
		t.Errorf("StopID = %d, want 94", stop.StopID)
	}
	if stop.Name != "Blumentálske námestie" {
		t.Errorf("Name = %q", stop.Name)
	}
	if len(stop.Platforms) != 2 || stop.Platforms[0].String() != "1" || stop.Platforms[1].String() != "2" {
		t.Errorf("Platforms = %v, want [1 2]", stop.Platforms)
	}
	if stop.Distance != 42.5 {
		t.Errorf("Distance = %v, want 42.5", stop.Distance)
	}
}

func TestDestinationNames(t *testing.T) {
	var gotIDs string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ba/api/sk/cp" || r.URL.Query().Get("op") != "gsn" {
			http.NotFound(w, r)
			return
		}
		gotIDs = r.URL.Query().Get("id")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sn":{"5":"Hlavná stanica","7":"Petržalka"}}`))
	}))
	defer server.Close()

	client := NewClient("")
	client.baseURL = server.URL

	names, err := client.DestinationNames(context.Background(), []int{5, 7})
	if err != nil {
		t.Fatalf("DestinationNames failed: %v", err)
	}
	if gotIDs != "5,7" {
		t.Errorf("id query = %q, want %q", gotIDs, "5,7")
	}
	if names[5] != "Hlavná stanica" || names[7] != "Petržalka" {
		t.Errorf("names = %v", names)
	}
}

func TestDestinationNames_MissingMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient("")
	client.baseURL = server.URL

	_, err := client.DestinationNames(context.Background(), []int{5})
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("expected ParseError, got %v", err)
	}
}

func TestStopPlatforms(t *testing.T) {
	boardPage := strings.Join([]string{
		"<html><head><script>",
		"var z=94;",
		`nastupiste=[1,2,"A"];`,
		"</script></head><body></body></html>",
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ba/online-zastavkova-tabula" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("z") != "94" {
			t.Errorf("z query = %q, want 94", r.URL.Query().Get("z"))
		}
		w.Write([]byte(boardPage))
	}))
	defer server.Close()

	client := NewClient("")
	client.baseURL = server.URL

	platforms, err := client.StopPlatforms(context.Background(), 94)
	if err != nil {
		t.Fatalf("StopPlatforms failed: %v", err)
	}
	want := []string{"1", "2", "A"}
	if len(platforms) != len(want) {
		t.Fatalf("platforms = %v, want %v", platforms, want)
	}
	for i := range want {
		if platforms[i] != want[i] {
			t.Errorf("platforms[%d] = %q, want %q", i, platforms[i], want[i])
		}
	}
}

func TestStopPlatforms_NoAssignment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>no script here</body></html>"))
	}))
	defer server.Close()

	client := NewClient("")
	client.baseURL = server.URL

	_, err := client.StopPlatforms(context.Background(), 94)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("expected ParseError, got %v", err)
	}
}
