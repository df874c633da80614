package aimharder

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

	"github.com/example/box-scheduler/internal/session"
)

// Client talks to the AimHarder platform: the central token-update endpoint
// and the per-box booking endpoint. It never touches the session store;
// callers persist whatever it returns.
type Client struct {
	hc      *http.Client
	authURL string
	boxURL  string // fmt pattern, %s is the box subdomain
}

func New(authURL, boxURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		hc:      &http.Client{Timeout: timeout},
		authURL: strings.TrimRight(authURL, "/"),
		boxURL:  boxURL,
	}
}

// Credentials are the pieces of a device session sent on authenticated calls.
type Credentials struct {
	Token   string
	Cookies []session.Cookie
}

type TokenKind int

const (
	TokenSuccess TokenKind = iota
	TokenLogout
	TokenError
)

func (k TokenKind) String() string {
	switch k {
	case TokenSuccess:
		return "success"
	case TokenLogout:
		return "logout"
	default:
		return "error"
	}
}

// TokenResult is the decoded token-update response. Cookies is only set on
// success and already holds the required set merged over the input cookies.
type TokenResult struct {
	Kind     TokenKind
	NewToken string
	Cookies  []session.Cookie
	Message  string
}

type tokenResponse struct {
	NewToken  string `json:"newToken"`
	Logout    flag   `json:"logout"`
	ErrorMssg string `json:"errorMssg"`
}

// UpdateToken exchanges the current token for a fresh one. A non-nil error
// means the platform could not be reached or answered garbage; it is transient.
func (c *Client) UpdateToken(ctx context.Context, creds Credentials, fingerprint string) (TokenResult, error) {
	form := url.Values{}
	form.Set("token", creds.Token)
	form.Set("fingerprint", fingerprint)

	res, status, body, err := c.do(ctx, c.authURL+"/api/tokenUpdate", form, creds.Cookies)
	if err != nil {
		return TokenResult{}, fmt.Errorf("token update: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return TokenResult{Kind: TokenLogout, Message: fmt.Sprintf("status=%d", status)}, nil
	}
	if status >= 400 {
		return TokenResult{}, fmt.Errorf("token update failed (status=%d)", status)
	}

	var r tokenResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return TokenResult{}, fmt.Errorf("token update: decode response: %w", err)
	}
	switch {
	case bool(r.Logout):
		return TokenResult{Kind: TokenLogout, Message: r.ErrorMssg}, nil
	case r.NewToken != "":
		return TokenResult{
			Kind:     TokenSuccess,
			NewToken: r.NewToken,
			Cookies:  session.Merge(creds.Cookies, session.FromResponse(res)),
		}, nil
	default:
		msg := r.ErrorMssg
		if msg == "" {
			msg = "token update returned no token"
		}
		return TokenResult{Kind: TokenError, Message: msg}, nil
	}
}

type BookKind int

const (
	Booked BookKind = iota
	Rejected
	LoggedOut
)

func (k BookKind) String() string {
	switch k {
	case Booked:
		return "booked"
	case Rejected:
		return "rejected"
	default:
		return "logout"
	}
}

type BookRequest struct {
	Subdomain string
	BoxID     string
	ClassID   string
	Day       string // YYYYMMDD
	FamilyID  string
}

// BookResult is the decoded booking response. Code and Message carry the
// platform's own wording on rejection.
type BookResult struct {
	Kind      BookKind
	BookingID string
	Code      string
	Message   string
}

type bookResponse struct {
	BookState     *int   `json:"bookState"`
	ID            text   `json:"id"`
	ErrorMssg     string `json:"errorMssg"`
	ErrorMssgLang string `json:"errorMssgLang"`
	Logout        flag   `json:"logout"`
}

// Book fires one booking request. Only transport or protocol failures are
// errors; a refusal by the box is a Rejected result.
func (c *Client) Book(ctx context.Context, creds Credentials, req BookRequest) (BookResult, error) {
	if req.Subdomain == "" {
		return BookResult{}, fmt.Errorf("book: box subdomain required")
	}
	form := url.Values{}
	form.Set("id", req.ClassID)
	form.Set("day", req.Day)
	form.Set("insist", "0")
	form.Set("familyId", req.FamilyID)

	endpoint := fmt.Sprintf(c.boxURL, url.PathEscape(req.Subdomain)) + "/api/book"
	_, status, body, err := c.do(ctx, endpoint, form, creds.Cookies)
	if err != nil {
		return BookResult{}, fmt.Errorf("book: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return BookResult{Kind: LoggedOut, Message: fmt.Sprintf("status=%d", status)}, nil
	}
	if status >= 400 {
		return BookResult{}, fmt.Errorf("book failed (status=%d)", status)
	}

	var r bookResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return BookResult{}, fmt.Errorf("book: decode response: %w", err)
	}
	switch {
	case bool(r.Logout):
		return BookResult{Kind: LoggedOut, Message: r.ErrorMssg}, nil
	case r.BookState == nil:
		return BookResult{}, fmt.Errorf("book: response has no bookState")
	case *r.BookState >= 0:
		return BookResult{Kind: Booked, BookingID: string(r.ID)}, nil
	default:
		code := r.ErrorMssgLang
		if code == "" {
			code = strconv.Itoa(*r.BookState)
		}
		return BookResult{Kind: Rejected, Code: code, Message: r.ErrorMssg}, nil
	}
}

func (c *Client) do(ctx context.Context, rawURL string, form url.Values, cookies []session.Cookie) (*http.Response, int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	req.Header.Set("accept", "application/json")
	req.Header.Set("user-agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	if h := session.Header(cookies); h != "" {
		req.Header.Set("cookie", h)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return res, res.StatusCode, nil, err
	}
	return res, res.StatusCode, b, nil
}

// flag decodes the platform's loose booleans: true, 1, "1", "true".
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// text accepts a JSON string or number.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*t = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*t = text(v)
		return nil
	}
	*t = text(s)
	return nil
}
