package frontproxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/steinfletcher/apitest"
)

func TestProxy(t *testing.T) {
	paths := map[string]int{}
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths[r.URL.Path]++
		w.WriteHeader(http.StatusOK)
	}))
	defer front.Close()

	handler, err := AsHandler(context.Background(), front.URL)
	if err != nil {
		t.Fatal(err)
	}
	apitest.Handler(handler).Get("/index.html").Expect(t).Status(http.StatusOK).End()
	apitest.Handler(handler).Get("/assets/app.js").Expect(t).Status(http.StatusOK).End()

	if paths["/index.html"] != 1 || paths["/assets/app.js"] != 1 {
		t.Fatalf("Unexpected calls to the frontend: %v", paths)
	}
}

func TestUnreachableFrontend(t *testing.T) {
	front := httptest.NewServer(http.NotFoundHandler())
	target := front.URL
	front.Close()

	handler, err := AsHandler(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	apitest.Handler(handler).Get("/").Expect(t).Status(http.StatusBadGateway).End()
}

func TestInvalidTarget(t *testing.T) {
	for _, target := range []string{"localhost:5173", "ftp://example.com", "/relative"} {
		_, err := AsHandler(context.Background(), target)
		if !errors.Is(err, InvalidTarget{Target: target}) {
			t.Fatalf("Unexpected error for %v: %v", target, err)
		}
	}
}
