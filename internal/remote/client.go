package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/mind-engage/quizsync/internal/quiz"
)

type Config struct {
	SiteID  string
	BaseURL string
	UserID  int64

	// Either a static bearer Token or client credentials against TokenURL.
	Token        string
	TokenURL     string
	ClientID     string
	ClientSecret string

	Timeout    time.Duration
	RatePerSec float64 // 0 disables limiting
	Burst      int
	CacheTTL   time.Duration
}

// Client talks to the quiz web services of one site.
type Client struct {
	http    *http.Client
	base    string
	siteID  string
	userID  int64
	limiter *rate.Limiter
	cache   Cache
	ttl     time.Duration
}

func New(cfg Config, cache Cache) *Client {
	var h *http.Client
	switch {
	case cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		h = cc.Client(context.Background())
	case cfg.Token != "":
		h = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}))
	default:
		h = &http.Client{}
	}
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Client{
		http:    h,
		base:    strings.TrimSuffix(cfg.BaseURL, "/"),
		siteID:  cfg.SiteID,
		userID:  cfg.UserID,
		limiter: lim,
		cache:   cache,
		ttl:     ttl,
	}
}

func (c *Client) GetQuiz(ctx context.Context, courseID, quizID int64, opts ReadOpts) (quiz.Quiz, error) {
	var q quiz.Quiz
	q2 := url.Values{"courseid": {strconv.FormatInt(courseID, 10)}}
	err := c.cachedGet(ctx, c.quizKey(quizID, "info"), fmt.Sprintf("/quizzes/%d", quizID), q2, opts, &q)
	return q, err
}

func (c *Client) ListAttempts(ctx context.Context, quizID int64, opts ReadOpts) ([]quiz.Attempt, error) {
	var res struct {
		Attempts []attemptWire `json:"attempts"`
	}
	q := url.Values{"status": {"all"}}
	if c.userID != 0 {
		q.Set("userid", strconv.FormatInt(c.userID, 10))
	}
	if err := c.cachedGet(ctx, c.quizKey(quizID, "attempts"), fmt.Sprintf("/quizzes/%d/attempts", quizID), q, opts, &res); err != nil {
		return nil, err
	}
	out := make([]quiz.Attempt, 0, len(res.Attempts))
	for _, w := range res.Attempts {
		out = append(out, w.toAttempt())
	}
	return out, nil
}

func (c *Client) AccessInfo(ctx context.Context, quizID int64, opts ReadOpts) (quiz.AccessInfo, error) {
	var info quiz.AccessInfo
	err := c.cachedGet(ctx, c.quizKey(quizID, "access"), fmt.Sprintf("/quizzes/%d/access", quizID), nil, opts, &info)
	return info, err
}

// AttemptData returns the questions of one page of an attempt. Always read from the network.
func (c *Client) AttemptData(ctx context.Context, attemptID int64, page int, preflight map[string]string) ([]quiz.Question, error) {
	var res struct {
		Questions []quiz.Question `json:"questions"`
	}
	body := map[string]any{"page": page, "preflight": preflight}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/attempts/%d/data", attemptID), nil, body, &res); err != nil {
		return nil, err
	}
	return res.Questions, nil
}

// ProcessAttempt sends answers and optionally finishes the attempt.
func (c *Client) ProcessAttempt(ctx context.Context, attemptID int64, answers []quiz.SlotAnswers, preflight map[string]string, finish bool) error {
	body := map[string]any{
		"answers":   answers,
		"finish":    finish,
		"preflight": preflight,
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/attempts/%d/process", attemptID), nil, body, nil)
}

func (c *Client) LogPageView(ctx context.Context, attemptID int64, page int, preflight map[string]string) error {
	body := map[string]any{"page": page, "preflight": preflight}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/attempts/%d/view", attemptID), nil, body, nil)
}

func (c *Client) SubmitLogs(ctx context.Context, component string, instanceID int64, entries []LogEntry) error {
	body := map[string]any{"entries": entries}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/activities/%s/%d/logs", url.PathEscape(component), instanceID), nil, body, nil)
}

func (c *Client) CheckUpdates(ctx context.Context, courseID, cmID int64, since time.Time) (ContentUpdates, error) {
	var u ContentUpdates
	q := url.Values{"since": {strconv.FormatInt(since.Unix(), 10)}}
	if since.IsZero() {
		q.Set("since", "0")
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/courses/%d/modules/%d/updates", courseID, cmID), q, nil, &u)
	return u, err
}

func (c *Client) ModuleFiles(ctx context.Context, courseID, cmID int64) ([]ModuleFile, error) {
	var res struct {
		Files []ModuleFile `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/courses/%d/modules/%d/files", courseID, cmID), nil, nil, &res); err != nil {
		return nil, err
	}
	return res.Files, nil
}

// Download opens a module file. The caller closes the body.
func (c *Client) Download(ctx context.Context, fileURL string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if strings.HasPrefix(fileURL, "/") {
		fileURL = c.base + fileURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode/100 != 2 {
		defer res.Body.Close()
		return nil, decodeError(res)
	}
	return res.Body, nil
}

// InvalidateQuiz drops every cached read belonging to the quiz.
func (c *Client) InvalidateQuiz(ctx context.Context, quizID int64) error {
	return c.cache.DeletePrefix(ctx, c.quizKey(quizID, ""))
}

func (c *Client) quizKey(quizID int64, kind string) string {
	return fmt.Sprintf("quizsync:%s:quiz:%d:%s", c.siteID, quizID, kind)
}

func (c *Client) cachedGet(ctx context.Context, key, path string, q url.Values, opts ReadOpts, out any) error {
	if !opts.Fresh {
		if b, ok := c.cache.Get(ctx, key); ok && json.Unmarshal(b, out) == nil {
			return nil
		}
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, q, nil, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	c.cache.Set(ctx, key, raw, c.ttl)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return decodeError(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func decodeError(res *http.Response) error {
	e := &Error{Status: res.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err := json.Unmarshal(b, e); err != nil {
		e.Message = strings.TrimSpace(string(b))
	}
	return e
}
