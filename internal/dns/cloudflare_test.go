package dns

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/types"
)

func testLogger() *logging.Logger {
	return logging.New(types.LogLevelNone, false)
}

func ipServer(t *testing.T, ip string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ip+"\n")
	}))
	t.Cleanup(server.Close)
	return server
}

// fakeZone serves a minimal Cloudflare v4 zone with updatable records.
type fakeZone struct {
	records map[string]*record // keyed by id
	puts    []string
	auth    string
}

func (z *fakeZone) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		z.auth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodGet:
			var list []record
			for id, rec := range z.records {
				withID := *rec
				withID.ID = id
				list = append(list, withID)
			}
			raw, _ := json.Marshal(list)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "result": json.RawMessage(raw)})
		case r.Method == http.MethodPut:
			parts := strings.Split(r.URL.Path, "/")
			id := parts[len(parts)-1]
			rec, ok := z.records[id]
			if !ok {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"errors":  []map[string]string{{"message": "record not found"}},
				})
				return
			}
			body, _ := io.ReadAll(r.Body)
			var update record
			_ = json.Unmarshal(body, &update)
			rec.Content = update.Content
			z.puts = append(z.puts, rec.Name)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "result": json.RawMessage(body)})
		}
	}
}

func newUpdaterForZone(t *testing.T, zone *fakeZone, ip string, names ...string) *Updater {
	t.Helper()
	api := httptest.NewServer(zone.handler())
	t.Cleanup(api.Close)

	u, err := NewUpdater(Config{
		Enabled:          true,
		APIToken:         "cf-token",
		ZoneID:           "zone1",
		Records:          names,
		PublicIPEndpoint: ipServer(t, ip).URL,
		APIBase:          api.URL,
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestRunUpdatesStaleRecord(t *testing.T) {
	zone := &fakeZone{records: map[string]*record{
		"r1": {Type: "A", Name: "home.example.net", Content: "203.0.113.7"},
		"r2": {Type: "A", Name: "nas.example.net", Content: "198.51.100.4"},
	}}
	u := newUpdaterForZone(t, zone, "198.51.100.4", "home.example.net", "nas.example.net")

	result, err := u.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.PublicIP != "198.51.100.4" {
		t.Errorf("public IP = %s", result.PublicIP)
	}
	if len(result.Updated) != 1 || result.Updated[0] != "home.example.net" {
		t.Errorf("updated = %v", result.Updated)
	}
	if len(result.UpToDate) != 1 || result.UpToDate[0] != "nas.example.net" {
		t.Errorf("up to date = %v", result.UpToDate)
	}
	if zone.records["r1"].Content != "198.51.100.4" {
		t.Errorf("record not rewritten: %s", zone.records["r1"].Content)
	}
	if zone.auth != "Bearer cf-token" {
		t.Errorf("auth header = %q", zone.auth)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	zone := &fakeZone{records: map[string]*record{
		"r1": {Type: "A", Name: "home.example.net", Content: "198.51.100.4"},
	}}
	u := newUpdaterForZone(t, zone, "198.51.100.4", "home.example.net")

	for i := 0; i < 2; i++ {
		result, err := u.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(result.Updated) != 0 {
			t.Errorf("pass %d rewrote a matching record: %v", i, result.Updated)
		}
	}
	if len(zone.puts) != 0 {
		t.Errorf("unexpected PUTs: %v", zone.puts)
	}
}

func TestRunReportsMissingRecord(t *testing.T) {
	zone := &fakeZone{records: map[string]*record{}}
	u := newUpdaterForZone(t, zone, "198.51.100.4", "ghost.example.net")

	result, err := u.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "ghost.example.net" {
		t.Errorf("missing = %v", result.Missing)
	}
}

func TestRunRejectsBadPublicIP(t *testing.T) {
	zone := &fakeZone{records: map[string]*record{}}
	api := httptest.NewServer(zone.handler())
	t.Cleanup(api.Close)

	u, err := NewUpdater(Config{
		Enabled:          true,
		APIToken:         "t",
		ZoneID:           "z",
		Records:          []string{"home.example.net"},
		PublicIPEndpoint: ipServer(t, "<html>garbage</html>").URL,
		APIBase:          api.URL,
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := u.Run(context.Background()); err == nil {
		t.Error("expected error for a non-IPv4 response")
	}
}

func TestNewUpdaterValidation(t *testing.T) {
	if _, err := NewUpdater(Config{Enabled: true}, testLogger()); err == nil {
		t.Error("enabled updater without token must be rejected")
	}
	if _, err := NewUpdater(Config{Enabled: true, APIToken: "t", ZoneID: "z"}, testLogger()); err == nil {
		t.Error("enabled updater without records must be rejected")
	}
	if _, err := NewUpdater(Config{}, testLogger()); err != nil {
		t.Errorf("disabled updater should not validate: %v", err)
	}
}
