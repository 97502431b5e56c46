package maps

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
)

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("test-key",
		WithBaseURL("http://maps.test/api"),
		WithRegion("kz"),
		WithHTTPClient(&http.Client{Transport: rt}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestClientGeocodeRequest(t *testing.T) {
	respBody := `{"status":"OK","results":[{"formatted_address":"123 Elm St, Almaty, Kazakhstan","place_id":"p1","geometry":{"location":{"lat":43.25,"lng":76.91}}}]}`

	var captured *http.Request
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		return jsonResponse(http.StatusOK, respBody), nil
	})

	result, err := client.Geocode(context.Background(), "  123 Elm St ")
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if captured.URL.Path != "/api/geocode/json" {
		t.Fatalf("unexpected path %q", captured.URL.Path)
	}
	q := captured.URL.Query()
	if q.Get("address") != "123 Elm St" || q.Get("key") != "test-key" || q.Get("components") != "country:KZ" {
		t.Fatalf("unexpected query %v", q)
	}
	if result.FormattedAddress != "123 Elm St, Almaty, Kazakhstan" {
		t.Fatalf("unexpected address %q", result.FormattedAddress)
	}
	if result.Location.Latitude != 43.25 || result.Location.Longitude != 76.91 {
		t.Fatalf("unexpected location %+v", result.Location)
	}
}

func TestClientGeocodeZeroResults(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"status":"ZERO_RESULTS","results":[]}`), nil
	})

	_, err := client.Geocode(context.Background(), "nowhere")
	if got := pkgerrors.CodeOf(err); got != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %s (%v)", got, err)
	}
}

func TestClientGeocodeDependencyFailures(t *testing.T) {
	cases := map[string]roundTripFunc{
		"transport": func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("dial tcp: refused")
		},
		"http status": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusBadGateway, "upstream"), nil
		},
		"denied": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"status":"REQUEST_DENIED","error_message":"bad key"}`), nil
		},
		"garbage": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{not json`), nil
		},
	}
	for name, rt := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newTestClient(t, rt).Geocode(context.Background(), "123 Elm St")
			if got := pkgerrors.CodeOf(err); got != pkgerrors.CodeDependency {
				t.Fatalf("expected dependency error, got %s (%v)", got, err)
			}
		})
	}
}

func TestClientRequiresKeyAndAddress(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected missing api key to fail")
	}
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	if _, err := client.Geocode(context.Background(), " "); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for blank address, got %v", err)
	}
	var missing *Client
	if _, err := missing.Geocode(context.Background(), "x"); pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error for nil client, got %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
