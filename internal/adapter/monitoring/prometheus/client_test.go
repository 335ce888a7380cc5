package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestClient_QueryVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/-/ready" {
			w.WriteHeader(http.StatusOK)
			return
		}
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[
			{"metric":{"instance":"bee-a:9100"},"value":[1700000000,"12.5"]},
			{"metric":{"instance":"bee-b:9100"},"value":[1700000000,7]}
		]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", zap.NewNop())
	samples, err := c.QueryVector(context.Background(), "up")
	if err != nil {
		t.Fatalf("QueryVector: %v", err)
	}
	if samples["bee-a:9100"] != 12.5 || samples["bee-b:9100"] != 7 {
		t.Fatalf("unexpected samples: %v", samples)
	}
	if err := c.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}
}

func TestClient_QueryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("query") {
		case "empty":
			fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[]}}`)
		case "bad":
			fmt.Fprint(w, `{"status":"error","errorType":"bad_data","error":"parse error"}`)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	for _, q := range []string{"empty", "bad", "down"} {
		if _, err := c.Query(context.Background(), q); err == nil {
			t.Errorf("query %q: want error", q)
		}
	}
}
