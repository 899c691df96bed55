package node

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCorsHandler(t *testing.T) {
	h := NewHTTPHandlerStack(okHandler, []string{"test"}, []string{"*"}, nil)

	req := httptest.NewRequest(http.MethodPost, "http://localhost/", nil)
	req.Header.Set("Origin", "test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "http://localhost/", nil)
	req.Header.Set("Origin", "bad")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// TestVhosts makes sure vhosts are properly handled on the http server.
func TestVhosts(t *testing.T) {
	h := NewHTTPHandlerStack(okHandler, nil, []string{"test"}, nil)

	tests := []struct {
		host string
		code int
	}{
		{"test", http.StatusOK},
		{"TEST:8545", http.StatusOK},
		{"127.0.0.1:8545", http.StatusOK},
		{"", http.StatusOK},
		{"bad", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "http://localhost/", nil)
		req.Host = tt.host
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.code, rec.Code, "host %q", tt.host)
	}

	all := NewHTTPHandlerStack(okHandler, nil, []string{"*"}, nil)
	req := httptest.NewRequest(http.MethodPost, "http://localhost/", nil)
	req.Host = "anything"
	rec := httptest.NewRecorder()
	all.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIsWebsocket(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)

	assert.False(t, isWebsocket(r))
	r.Header.Set("upgrade", "websocket")
	assert.False(t, isWebsocket(r))
	r.Header.Set("connection", "upgrade")
	assert.True(t, isWebsocket(r))
	r.Header.Set("connection", "upgrade,keep-alive")
	assert.True(t, isWebsocket(r))
	r.Header.Set("connection", " UPGRADE,keep-alive")
	assert.True(t, isWebsocket(r))
}

func TestCheckPath(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   bool
	}{
		{"/", "", true},
		{"/other", "", false},
		{"/rpc", "/rpc", true},
		{"/rpc/sub", "/rpc", true},
		{"/r", "/rpc", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://localhost"+tt.path, nil)
		assert.Equal(t, tt.want, checkPath(r, tt.prefix), "path %q prefix %q", tt.path, tt.prefix)
	}
}

func TestValidatePrefix(t *testing.T) {
	assert.NoError(t, validatePrefix("HTTP", ""))
	assert.NoError(t, validatePrefix("HTTP", "/rpc"))
	assert.Error(t, validatePrefix("HTTP", "rpc"))
	assert.Error(t, validatePrefix("HTTP", "/rpc?x=1"))
	assert.Error(t, validatePrefix("HTTP", "/rpc#frag"))
}

func TestCheckTimeouts(t *testing.T) {
	timeouts := HTTPTimeouts{ReadTimeout: time.Millisecond, WriteTimeout: 5 * time.Second}
	CheckTimeouts(&timeouts)
	assert.Equal(t, DefaultHTTPTimeouts.ReadTimeout, timeouts.ReadTimeout)
	assert.Equal(t, DefaultHTTPTimeouts.ReadHeaderTimeout, timeouts.ReadHeaderTimeout)
	assert.Equal(t, 5*time.Second, timeouts.WriteTimeout)
	assert.Equal(t, DefaultHTTPTimeouts.IdleTimeout, timeouts.IdleTimeout)
}

func TestJWT(t *testing.T) {
	var secret = []byte("secret")
	issueToken := func(secret []byte, method jwt.SigningMethod, input map[string]interface{}) string {
		if method == nil {
			method = jwt.SigningMethodHS256
		}
		ss, _ := jwt.NewWithClaims(method, jwt.MapClaims(input)).SignedString(secret)
		return ss
	}
	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	h := newJWTHandler(secret, next)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"valid", "Bearer " + issueToken(secret, nil, testClaim{"iat": time.Now().Unix()}), http.StatusOK},
		{"drift", "Bearer " + issueToken(secret, nil, testClaim{"iat": time.Now().Unix() + 4}), http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"no bearer", issueToken(secret, nil, testClaim{"iat": time.Now().Unix()}), http.StatusUnauthorized},
		{"wrong secret", "Bearer " + issueToken([]byte("other"), nil, testClaim{"iat": time.Now().Unix()}), http.StatusUnauthorized},
		{"wrong method", "Bearer " + issueToken(secret, jwt.SigningMethodHS512, testClaim{"iat": time.Now().Unix()}), http.StatusUnauthorized},
		{"no iat", "Bearer " + issueToken(secret, nil, testClaim{}), http.StatusUnauthorized},
		{"stale", "Bearer " + issueToken(secret, nil, testClaim{"iat": time.Now().Unix() - 61}), http.StatusUnauthorized},
		{"future", "Bearer " + issueToken(secret, nil, testClaim{"iat": time.Now().Unix() + 61}), http.StatusUnauthorized},
		{"expired", "Bearer " + issueToken(secret, nil, testClaim{"iat": time.Now().Unix(), "exp": time.Now().Unix() - 1}), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodPost, "http://localhost/", strings.NewReader(""))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code == http.StatusOK, called)
		})
	}
}

func TestNewJWTAuth(t *testing.T) {
	var secret [32]byte
	secret[0] = 7
	header := make(http.Header)
	require.NoError(t, NewJWTAuth(secret)(header))

	req := httptest.NewRequest(http.MethodPost, "http://localhost/", nil)
	req.Header = header
	rec := httptest.NewRecorder()
	newJWTHandler(secret[:], okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type testClaim map[string]interface{}
