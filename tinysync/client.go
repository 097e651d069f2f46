package tinysync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts = 8

	// Minimum pause before each detail fetch inside a paginated pass.
	// Tiny throttles aggressively; the sync jobs are not latency-sensitive.
	interCallDelay = 500 * time.Millisecond
)

// Tiny error code 20: the query matched no records. This is the one remote
// "failure" that must not be retried — it is how empty pages and legitimate
// lookup misses surface.
const tinyErrorCodeNoRecords = "20"

var errNoRecords = errors.New("tiny: query returned no records")

// PersistentFailure is returned after the retry budget is exhausted. It keeps
// the last underlying error; callers treat it as a page-level abort.
type PersistentFailure struct {
	Endpoint string
	Account  string
	Attempts int
	Err      error
}

func (e *PersistentFailure) Error() string {
	return fmt.Sprintf("tiny %s failed for account %s after %d attempts: %v",
		e.Endpoint, e.Account, e.Attempts, e.Err)
}

func (e *PersistentFailure) Unwrap() error { return e.Err }

// tinyClient is the only sanctioned way to reach the Tiny API. Every call
// goes through callWithRetry: Tiny's rate limiting, transient 5xx and
// timeouts all surface the same way, so the policy is retry everything with
// exponential backoff rather than classifying failures.
type tinyClient struct {
	account string
	token   string
	baseURL string
	http    *http.Client
	logger  *logrus.Logger

	// baseDelay is the first retry wait (doubles per attempt). Tests shrink
	// it and swap sleep for a recorder.
	baseDelay time.Duration
	sleep     func(time.Duration)
}

func newTinyClient(account string) (*tinyClient, error) {
	token, err := config.TinyToken(account)
	if err != nil {
		return nil, err
	}
	return &tinyClient{
		account:   account,
		token:     token,
		baseURL:   config.TinyBaseURL(),
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    config.GetLogger(),
		baseDelay: time.Second,
		sleep:     time.Sleep,
	}, nil
}

// callWithRetry performs the GET and retries ANY failure (transport, non-2xx,
// "Erro" envelope) waiting 2^(attempt-1) * baseDelay between attempts. After
// maxAttempts it fails with *PersistentFailure carrying the last error.
// errNoRecords is terminal and returned immediately.
func (c *tinyClient) callWithRetry(ctx context.Context, endpoint string, params url.Values, maxAttempts int) (*tinyRetorno, error) {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ret, err := c.call(ctx, endpoint, params)
		if err == nil {
			return ret, nil
		}
		if errors.Is(err, errNoRecords) {
			return nil, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		wait := c.baseDelay << (attempt - 1)
		c.logger.WithFields(logrus.Fields{
			"module":   "tinysync",
			"account":  c.account,
			"endpoint": endpoint,
			"attempt":  attempt,
			"wait":     wait.String(),
		}).Info("tiny call failed; retrying: " + err.Error())
		c.sleep(wait)
	}

	return nil, &PersistentFailure{
		Endpoint: endpoint,
		Account:  c.account,
		Attempts: maxAttempts,
		Err:      lastErr,
	}
}

func (c *tinyClient) call(ctx context.Context, endpoint string, params url.Values) (*tinyRetorno, error) {
	query := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set("token", c.token)
	query.Set("formato", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/"+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tiny api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed tinyEnvelope
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	ret := parsed.Retorno
	if strings.EqualFold(ret.Status, "Erro") {
		if ret.CodigoErro.String() == tinyErrorCodeNoRecords {
			return nil, errNoRecords
		}
		return nil, fmt.Errorf("tiny api erro %s: %s", ret.CodigoErro.String(), joinErros(ret.Erros))
	}
	return &ret, nil
}

// throttle pauses before a detail fetch so paginated passes stay under Tiny's
// rate limits.
func (c *tinyClient) throttle() {
	c.sleep(interCallDelay)
}

func joinErros(erros []tinyErro) string {
	if len(erros) == 0 {
		return "unknown error"
	}
	msgs := make([]string, 0, len(erros))
	for _, e := range erros {
		if strings.TrimSpace(e.Erro) != "" {
			msgs = append(msgs, e.Erro)
		}
	}
	if len(msgs) == 0 {
		return "unknown error"
	}
	return strings.Join(msgs, "; ")
}
