// Package assistanttest provides an in-process fake of the remote
// OpenAI-compatible API (assistants, chat completions, embeddings) for tests.
package assistanttest

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"unicode"

	"github.com/go-chi/chi/v5"
)

// Endpoint names one of the remote calls the relay makes.
type Endpoint string

const (
	CreateThread Endpoint = "create_thread"
	AddMessage   Endpoint = "add_message"
	CreateRun    Endpoint = "create_run"
	RetrieveRun  Endpoint = "retrieve_run"
	ListMessages Endpoint = "list_messages"
	Completions  Endpoint = "chat_completions"
	Embeddings   Endpoint = "embeddings"
)

const (
	// APIKey is the bearer token the fake accepts.
	APIKey = "sk-test"
	// AssistantID is the assistant id tests configure the client with.
	AssistantID = "asst_test"
)

// Call is one request observed by the fake.
type Call struct {
	Endpoint      Endpoint
	Method        string
	Path          string
	Authorization string
	Beta          string
	ContentType   string
	Body          map[string]any
	Query         map[string]string
}

// Failure makes an endpoint answer with an HTTP error.
type Failure struct {
	Status  int
	Message string
	// RawBody, when set, replaces the JSON error envelope.
	RawBody string
}

// Server is a scripted fake of the Assistants API.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	calls    []Call
	threads  int
	runs     int
	messages int
	polls    int

	// Statuses is replayed one entry per poll; the last entry repeats.
	Statuses []string
	// Reply is the assistant text returned by the message list.
	Reply string
	// OmitReply returns an assistant message without text content.
	OmitReply bool
	// RunError is reported as last_error on failed runs.
	RunError string
	// Failures injects HTTP errors per endpoint.
	Failures map[Endpoint]Failure
	// OmitID drops the id field from the endpoint's response.
	OmitID map[Endpoint]bool
	// Completion is the text of the single chat-completion choice.
	Completion string
	// OmitChoices answers chat completions with an empty choice list.
	OmitChoices bool
}

// NewServer starts a fake that completes every run on the first poll.
func NewServer() *Server {
	s := &Server{
		Statuses:   []string{"completed"},
		Reply:      "Dill, parsley and tarragon all pair well with salmon.",
		Completion: "Sear the salmon skin-side down for 4 to 5 minutes, then finish with dill butter.",
		Failures:   make(map[Endpoint]Failure),
		OmitID:     make(map[Endpoint]bool),
	}

	r := chi.NewRouter()
	r.Route("/v1/threads", func(r chi.Router) {
		r.Post("/", s.handle(CreateThread, s.createThread))
		r.Post("/{threadID}/messages", s.handle(AddMessage, s.addMessage))
		r.Get("/{threadID}/messages", s.handle(ListMessages, s.listMessages))
		r.Post("/{threadID}/runs", s.handle(CreateRun, s.createRun))
		r.Get("/{threadID}/runs/{runID}", s.handle(RetrieveRun, s.retrieveRun))
	})
	r.Post("/v1/chat/completions", s.handle(Completions, s.chatCompletion))
	r.Post("/v1/embeddings", s.handle(Embeddings, s.embeddings))
	s.Server = httptest.NewServer(r)
	return s
}

// BaseURL is the value to configure the client's base URL with.
func (s *Server) BaseURL() string {
	return s.URL + "/v1"
}

// Calls returns a copy of the observed requests in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Count returns how many times an endpoint was called.
func (s *Server) Count(e Endpoint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Endpoint == e {
			n++
		}
	}
	return n
}

// Endpoints returns the endpoint sequence observed so far.
func (s *Server) Endpoints() []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Endpoint, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Endpoint)
	}
	return out
}

// SetStatuses replaces the poll script.
func (s *Server) SetStatuses(statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Statuses = statuses
	s.polls = 0
}

// Fail injects an HTTP error for an endpoint.
func (s *Server) Fail(e Endpoint, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failures[e] = Failure{Status: status, Message: message}
}

type endpointFunc func(w http.ResponseWriter, r *http.Request)

func (s *Server) handle(e Endpoint, next endpointFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		call := Call{
			Endpoint:      e,
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Beta:          r.Header.Get("OpenAI-Beta"),
			ContentType:   r.Header.Get("Content-Type"),
			Query:         make(map[string]string),
		}
		for k := range r.URL.Query() {
			call.Query[k] = r.URL.Query().Get(k)
		}
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &call.Body)
			}
		}

		s.mu.Lock()
		s.calls = append(s.calls, call)
		failure, failing := s.Failures[e]
		s.mu.Unlock()

		if call.Authorization != "Bearer "+APIKey {
			writeError(w, http.StatusUnauthorized, "Incorrect API key provided")
			return
		}
		if failing {
			if failure.RawBody != "" {
				w.WriteHeader(failure.Status)
				_, _ = io.WriteString(w, failure.RawBody)
				return
			}
			writeError(w, failure.Status, failure.Message)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callKey{}, call)))
	}
}

type callKey struct{}

func callFrom(r *http.Request) Call {
	call, _ := r.Context().Value(callKey{}).(Call)
	return call
}

func (s *Server) createThread(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.threads++
	id := fmt.Sprintf("conv_%d", s.threads)
	omit := s.OmitID[CreateThread]
	s.mu.Unlock()

	writeObject(w, "thread", id, omit, nil)
}

func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.messages++
	id := fmt.Sprintf("msg_%d", s.messages)
	omit := s.OmitID[AddMessage]
	s.mu.Unlock()

	writeObject(w, "thread.message", id, omit, map[string]any{
		"thread_id": chi.URLParam(r, "threadID"),
		"role":      "user",
	})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.runs++
	id := fmt.Sprintf("run_%d", s.runs)
	omit := s.OmitID[CreateRun]
	s.mu.Unlock()

	writeObject(w, "thread.run", id, omit, map[string]any{
		"thread_id": chi.URLParam(r, "threadID"),
		"status":    "queued",
	})
}

func (s *Server) retrieveRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := "queued"
	if len(s.Statuses) > 0 {
		idx := s.polls
		if idx >= len(s.Statuses) {
			idx = len(s.Statuses) - 1
		}
		status = s.Statuses[idx]
	}
	s.polls++
	runErr := s.RunError
	s.mu.Unlock()

	extra := map[string]any{
		"thread_id": chi.URLParam(r, "threadID"),
		"status":    status,
	}
	if status == "failed" && runErr != "" {
		extra["last_error"] = map[string]any{"code": "server_error", "message": runErr}
	}
	writeObject(w, "thread.run", chi.URLParam(r, "runID"), false, extra)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reply := s.Reply
	omitReply := s.OmitReply
	s.mu.Unlock()

	content := []map[string]any{{
		"type": "text",
		"text": map[string]any{"value": reply, "annotations": []any{}},
	}}
	if omitReply {
		content = []map[string]any{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{
				"id":        "msg_reply",
				"object":    "thread.message",
				"thread_id": chi.URLParam(r, "threadID"),
				"role":      "assistant",
				"content":   content,
			},
			{
				"id":        "msg_user",
				"object":    "thread.message",
				"thread_id": chi.URLParam(r, "threadID"),
				"role":      "user",
				"content": []map[string]any{{
					"type": "text",
					"text": map[string]any{"value": "earlier question", "annotations": []any{}},
				}},
			},
		},
		"has_more": false,
	})
}

func (s *Server) chatCompletion(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	text := s.Completion
	omit := s.OmitChoices
	s.mu.Unlock()

	choices := []map[string]any{{
		"index":         0,
		"message":       map[string]any{"role": "assistant", "content": text},
		"finish_reason": "stop",
	}}
	if omit {
		choices = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      "chatcmpl_1",
		"object":  "chat.completion",
		"choices": choices,
	})
}

func (s *Server) embeddings(w http.ResponseWriter, r *http.Request) {
	call := callFrom(r)
	inputs, _ := call.Body["input"].([]any)

	data := make([]map[string]any, 0, len(inputs))
	for i, in := range inputs {
		text, _ := in.(string)
		data = append(data, map[string]any{
			"object":    "embedding",
			"index":     i,
			"embedding": EmbedText(text),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
		"model":  call.Body["model"],
	})
}

// EmbedDims is the length of the fake's embedding vectors.
const EmbedDims = 64

// EmbedText is the fake's embedding: a bag of lowercased words hashed into
// EmbedDims buckets, so texts sharing words score higher.
func EmbedText(text string) []float32 {
	vec := make([]float32, EmbedDims)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%EmbedDims]++
	}
	return vec
}

func writeObject(w http.ResponseWriter, object, id string, omitID bool, extra map[string]any) {
	body := map[string]any{"object": object}
	if !omitID {
		body["id"] = id
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
