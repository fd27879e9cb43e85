// Package mockagent is an in-process stand-in for the hosted data agent. It
// answers questions from an answer key, and a question is answered correctly
// once the deployed instructions mention it.
package mockagent

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"diaharness/internal/agentconf"
	"diaharness/internal/suite"
)

// WrongAnswer is returned for questions the agent does not know yet.
const WrongAnswer = "SELECT * FROM orders"

// Options tune the mock behavior.
type Options struct {
	// Token, when set, must be sent as a bearer token; otherwise 401.
	Token string
	// Known is the number of leading cases answered correctly regardless of
	// instructions.
	Known int
	// PollsToComplete makes PATCH asynchronous; the operation completes after
	// this many polls.
	PollsToComplete int
	// FailQueries makes the first n queries fail with 503.
	FailQueries int
	// Forbidden makes every query fail with 403.
	Forbidden bool
}

// Server holds the mock agent state.
type Server struct {
	mu         sync.Mutex
	opts       Options
	config     agentconf.Configuration
	answers    map[string]string
	known      map[string]bool
	operations map[string]*operation
	nextOp     int
	queries    int
	patches    int
	logger     *slog.Logger
}

type operation struct {
	polls  int
	config agentconf.Configuration
	done   bool
}

// New builds a Server deployed with seed and answering from cases.
func New(seed agentconf.Configuration, cases []suite.TestCase, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		opts:       opts,
		config:     seed.Clone(),
		answers:    make(map[string]string, len(cases)),
		known:      make(map[string]bool),
		operations: make(map[string]*operation),
		logger:     logger,
	}
	for i, tc := range cases {
		key := questionKey(tc.Question)
		s.answers[key] = tc.Expected
		if i < opts.Known {
			s.known[key] = true
		}
	}
	return s
}

func questionKey(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// Handler returns the gin engine serving the agent API.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.authorize)
	router.POST("/query", s.handleQuery)
	router.GET("/config", s.handleGetConfig)
	router.PATCH("/config", s.handlePatchConfig)
	router.GET("/operations/:id", s.handleOperation)
	return router
}

// Deployed returns the current configuration.
func (s *Server) Deployed() agentconf.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

// Stats returns the number of queries and patches served.
func (s *Server) Stats() (queries, patches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries, s.patches
}

func (s *Server) authorize(c *gin.Context) {
	if s.opts.Token == "" {
		c.Next()
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+s.opts.Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing bearer token"})
		return
	}
	c.Next()
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		Question string `json:"question" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.queries++
	n := s.queries
	instructions := strings.ToLower(s.config.Instructions)
	s.mu.Unlock()

	if s.opts.Forbidden {
		c.JSON(http.StatusForbidden, gin.H{"error": "agent is not authorized to query the data source"})
		return
	}
	if n <= s.opts.FailQueries {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend unavailable"})
		return
	}
	key := questionKey(req.Question)
	expected, ok := s.answers[key]
	sql := WrongAnswer
	if ok && (s.known[key] || strings.Contains(instructions, key)) {
		sql = expected
	}
	c.JSON(http.StatusOK, gin.H{"sql": sql})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.Deployed())
}

func (s *Server) handlePatchConfig(c *gin.Context) {
	var cfg agentconf.Configuration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patches++
	s.nextOp++
	name := fmt.Sprintf("operations/%d", s.nextOp)
	if s.opts.PollsToComplete <= 0 {
		s.config = cfg.Clone()
		s.logger.Info("configuration updated", slog.String("fingerprint", cfg.ShortFingerprint()))
		c.JSON(http.StatusOK, gin.H{"name": name, "done": true, "configuration": s.config})
		return
	}
	s.operations[name] = &operation{config: cfg.Clone()}
	c.JSON(http.StatusOK, gin.H{"name": name, "done": false})
}

func (s *Server) handleOperation(c *gin.Context) {
	name := "operations/" + c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation " + name + " not found"})
		return
	}
	if !op.done {
		op.polls++
		if op.polls >= s.opts.PollsToComplete {
			op.done = true
			s.config = op.config.Clone()
			s.logger.Info("configuration updated", slog.String("operation", name), slog.String("fingerprint", op.config.ShortFingerprint()))
		}
	}
	if !op.done {
		c.JSON(http.StatusOK, gin.H{"name": name, "done": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "done": true, "configuration": op.config})
}
