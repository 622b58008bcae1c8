package shiftdropsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClaimShiftSendsCasualID(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(ClaimResult{
			Shift: Shift{ID: "s1", Status: "Filled"},
			Claim: Claim{ID: "c1", ShiftID: "s1", CasualID: "cas-1", Status: "Active"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.ClaimShift(context.Background(), "s1", "cas-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if gotPath != "/v1/shifts/s1/claims" || gotBody["casual_id"] != "cas-1" {
		t.Fatalf("unexpected request %s %v", gotPath, gotBody)
	}
	if res.Shift.Status != "Filled" || res.Claim.ID != "c1" {
		t.Fatalf("unexpected response %+v", res)
	}
}

func TestErrorEnvelopeIsParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"code":"already_filled","message":"shift is already filled"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).ClaimShift(context.Background(), "s1", "cas-1")
	if !IsCode(err, "already_filled") {
		t.Fatalf("expected already_filled, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message != "shift is already filled" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestListOutboxQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"items":[{"id":"m1","message_type":"ShiftBroadcast","status":"Pending","payload":{"recipient":"+614"}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.Timeout = time.Second
	items, err := c.ListOutbox(context.Background(), "Pending", 20)
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "limit=20&status=Pending" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if len(items) != 1 || items[0].Payload["recipient"] != "+614" {
		t.Fatalf("unexpected items %+v", items)
	}
}
