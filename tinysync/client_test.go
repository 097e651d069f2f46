package tinysync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
)

func testClient(t *testing.T, baseURL string) *tinyClient {
	t.Helper()
	c := &tinyClient{
		account:   "eliane",
		token:     "test-token",
		baseURL:   baseURL,
		http:      &http.Client{Timeout: 5 * time.Second},
		logger:    config.GetLogger(),
		baseDelay: time.Millisecond,
		sleep:     func(time.Duration) {},
	}
	return c
}

func TestCallWithRetryExhaustsBudgetAndDoublesWaits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var waits []time.Duration
	c.sleep = func(d time.Duration) { waits = append(waits, d) }

	_, err := c.callWithRetry(context.Background(), "produtos.pesquisa.php", url.Values{}, defaultMaxAttempts)

	var persistent *PersistentFailure
	if !errors.As(err, &persistent) {
		t.Fatalf("expected PersistentFailure, got %v", err)
	}
	if persistent.Attempts != defaultMaxAttempts {
		t.Errorf("attempts = %d, want %d", persistent.Attempts, defaultMaxAttempts)
	}
	if got := calls.Load(); got != defaultMaxAttempts {
		t.Errorf("remote calls = %d, want %d", got, defaultMaxAttempts)
	}

	// 7 waits between 8 attempts, each double the previous.
	if len(waits) != defaultMaxAttempts-1 {
		t.Fatalf("waits = %d, want %d", len(waits), defaultMaxAttempts-1)
	}
	for i, wait := range waits {
		want := c.baseDelay << i
		if wait != want {
			t.Errorf("wait[%d] = %s, want %s", i, wait, want)
		}
	}
}

func TestCallWithRetryRecoversMidBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"retorno":{"status":"OK","pagina":1,"numero_paginas":1}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	ret, err := c.callWithRetry(context.Background(), "notas.fiscais.pesquisa.php", url.Values{}, defaultMaxAttempts)
	if err != nil {
		t.Fatalf("callWithRetry: %v", err)
	}
	if ret.Status != "OK" {
		t.Errorf("status = %q, want OK", ret.Status)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("remote calls = %d, want 3", got)
	}
}

func TestCallWithRetryNoRecordsIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"retorno":{"status":"Erro","codigo_erro":20,"erros":[{"erro":"A consulta não retornou registros"}]}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.callWithRetry(context.Background(), "produtos.pesquisa.php", url.Values{}, defaultMaxAttempts)
	if !errors.Is(err, errNoRecords) {
		t.Fatalf("expected errNoRecords, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("remote calls = %d, want 1 (no records must not be retried)", got)
	}
}

func TestCallWithRetryApiErroIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"retorno":{"status":"Erro","codigo_erro":6,"erros":[{"erro":"API bloqueada temporariamente"}]}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.callWithRetry(context.Background(), "produto.obter.php", url.Values{"id": {"1"}}, 3)

	var persistent *PersistentFailure
	if !errors.As(err, &persistent) {
		t.Fatalf("expected PersistentFailure, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("remote calls = %d, want 3", got)
	}
}

func TestCallWithRetryHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := testClient(t, srv.URL)
	c.sleep = func(time.Duration) { cancel() }

	_, err := c.callWithRetry(ctx, "produtos.pesquisa.php", url.Values{}, defaultMaxAttempts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCallSendsTokenAndJSONFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("token") != "test-token" || q.Get("formato") != "json" {
			t.Errorf("query = %v, missing token/formato", q)
		}
		if q.Get("numero") != "123456" {
			t.Errorf("numero = %q, want 123456", q.Get("numero"))
		}
		fmt.Fprint(w, `{"retorno":{"status":"OK"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if _, err := c.call(context.Background(), "notas.fiscais.pesquisa.php", url.Values{"numero": {"123456"}}); err != nil {
		t.Fatalf("call: %v", err)
	}
}
