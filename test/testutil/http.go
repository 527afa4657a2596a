package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// HTTPTestUtil provides HTTP testing utilities
type HTTPTestUtil struct {
	router *gin.Engine
	server *httptest.Server
}

// SetupTestHTTPServer creates a test HTTP server with Gin router
func SetupTestHTTPServer(t *testing.T) *HTTPTestUtil {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	
	// Add basic middleware for testing
	router.Use(gin.Recovery())
	
	return &HTTPTestUtil{
		router: router,
	}
}

// Router returns the Gin router
func (h *HTTPTestUtil) Router() *gin.Engine {
	return h.router
}

// StartServer starts the test server
func (h *HTTPTestUtil) StartServer() {
	h.server = httptest.NewServer(h.router)
}

// StopServer stops the test server
func (h *HTTPTestUtil) StopServer() {
	if h.server != nil {
		h.server.Close()
	}
}

// GetServerURL returns the test server URL
func (h *HTTPTestUtil) GetServerURL() string {
	if h.server != nil {
		return h.server.URL
	}
	return ""
}

// MakeRequest makes an HTTP request to the test server
func (h *HTTPTestUtil) MakeRequest(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody io.Reader
	
	if body != nil {
		switch v := body.(type) {
		case string:
			reqBody = bytes.NewBufferString(v)
		case []byte:
			reqBody = bytes.NewBuffer(v)
		default:
			jsonBody, err := json.Marshal(body)
			require.NoError(t, err)
			reqBody = bytes.NewBuffer(jsonBody)
		}
	}

	req, err := http.NewRequest(method, path, reqBody)
	require.NoError(t, err)

	// Set default content type for JSON
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	// Add custom headers
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, req)

	return recorder
}

// MakeJSONRequest makes a JSON request and returns the response
func (h *HTTPTestUtil) MakeJSONRequest(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	return h.MakeRequest(t, method, path, body, map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	})
}

// AssertJSONResponse asserts the response is JSON and unmarshals it
func (h *HTTPTestUtil) AssertJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	require.Equal(t, expectedStatus, recorder.Code)
	require.Equal(t, "application/json; charset=utf-8", recorder.Header().Get("Content-Type"))

	if target != nil {
		err := json.Unmarshal(recorder.Body.Bytes(), target)
		require.NoError(t, err)
	}
}

// AssertErrorResponse asserts the response is an error with specific message
func (h *HTTPTestUtil) AssertErrorResponse(t *testing.T, recorder *httptest.ResponseRecorder, expectedStatus int, expectedMessage string) {
	require.Equal(t, expectedStatus, recorder.Code)
	
	var errorResp map[string]interface{}
	err := json.Unmarshal(recorder.Body.Bytes(), &errorResp)
	require.NoError(t, err)
	
	if expectedMessage != "" {
		require.Contains(t, errorResp, "error")
		require.Equal(t, expectedMessage, errorResp["error"])
	}
}

// CreateMockHTTPServer creates a mock HTTP server for external API testing
func CreateMockHTTPServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	
	for path, handler := range handlers {
		mux.HandleFunc(path, handler)
	}
	
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	
	return server
}

// MockUpstreamPaper is the canned record CreateMockUpstreamServer serves.
var MockUpstreamPaper = map[string]interface{}{
	"paperId":        "649def34f8be52c8b66281af98ae884c09aef38b",
	"title":          "Advances in Machine Learning",
	"abstract":       "A survey of recent machine learning advances.",
	"year":           2023,
	"venue":          "Test Journal",
	"citationCount":  42,
	"referenceCount": 25,
	"fieldsOfStudy":  []string{"Computer Science"},
	"authors": []map[string]interface{}{
		{"authorId": "auth_1", "name": "John Doe"},
	},
	"externalIds": map[string]string{
		"DOI":   "10.1000/test.001",
		"ArXiv": "2301.00001",
	},
}

// CreateMockUpstreamServer creates a mock academic-graph API serving one
// known paper over the fetch, search and citations routes.
func CreateMockUpstreamServer(t *testing.T) *httptest.Server {
	writeJSON := func(w http.ResponseWriter, status int, body interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}

	return CreateMockHTTPServer(t, map[string]http.HandlerFunc{
		"/paper/search": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"total":  1,
				"offset": 0,
				"data":   []interface{}{MockUpstreamPaper},
			})
		},
		"/paper/": func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/citations") || strings.HasSuffix(r.URL.Path, "/references") {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"total":  1,
					"offset": 0,
					"data": []map[string]interface{}{
						{
							"isInfluential": true,
							"citingPaper":   map[string]interface{}{"paperId": "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", "title": "A Citing Paper"},
							"citedPaper":    map[string]interface{}{"paperId": "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", "title": "A Cited Paper"},
						},
					},
				})
				return
			}
			ref := strings.TrimPrefix(r.URL.Path, "/paper/")
			if ref == MockUpstreamPaper["paperId"] || strings.EqualFold(ref, "DOI:10.1000/test.001") || strings.EqualFold(ref, "ARXIV:2301.00001") {
				writeJSON(w, http.StatusOK, MockUpstreamPaper)
				return
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Paper not found"})
		},
	})
}

// WithTestContext adds a test context to the Gin router
func (h *HTTPTestUtil) WithTestContext(t *testing.T, fn func(*gin.Context)) {
	h.router.GET("/test", func(c *gin.Context) {
		fn(c)
	})
}

// RequestBuilder helps build HTTP requests for testing
type RequestBuilder struct {
	method  string
	path    string
	body    interface{}
	headers map[string]string
	query   map[string]string
}

// NewRequestBuilder creates a new request builder
func NewRequestBuilder(method, path string) *RequestBuilder {
	return &RequestBuilder{
		method:  method,
		path:    path,
		headers: make(map[string]string),
		query:   make(map[string]string),
	}
}

// WithBody sets the request body
func (rb *RequestBuilder) WithBody(body interface{}) *RequestBuilder {
	rb.body = body
	return rb
}

// WithHeader adds a header
func (rb *RequestBuilder) WithHeader(key, value string) *RequestBuilder {
	rb.headers[key] = value
	return rb
}

// WithQuery adds a query parameter
func (rb *RequestBuilder) WithQuery(key, value string) *RequestBuilder {
	rb.query[key] = value
	return rb
}

// WithJSONBody sets JSON body and content type
func (rb *RequestBuilder) WithJSONBody(body interface{}) *RequestBuilder {
	rb.body = body
	rb.headers["Content-Type"] = "application/json"
	return rb
}

// WithAuth adds authorization header
func (rb *RequestBuilder) WithAuth(token string) *RequestBuilder {
	rb.headers["Authorization"] = "Bearer " + token
	return rb
}

// Execute executes the request using the HTTP test utility
func (rb *RequestBuilder) Execute(t *testing.T, httpUtil *HTTPTestUtil) *httptest.ResponseRecorder {
	path := rb.path
	if len(rb.query) > 0 {
		path += "?"
		first := true
		for key, value := range rb.query {
			if !first {
				path += "&"
			}
			path += key + "=" + value
			first = false
		}
	}
	
	return httpUtil.MakeRequest(t, rb.method, path, rb.body, rb.headers)
}