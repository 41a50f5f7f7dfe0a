// Package pipeline orchestrates one HTTP request through admission,
// validation, decoding, dispatch, and envelope construction.
// Route registration follows a constructor-plus-Register shape: a
// constructor taking the wired collaborators, a Register method mounting
// onto a gin.IRouter, and one handler method per route.
package pipeline

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ensgateway/compute-gateway/internal/calldata"
	"github.com/ensgateway/compute-gateway/internal/envelope"
	"github.com/ensgateway/compute-gateway/internal/gwsign"
	"github.com/ensgateway/compute-gateway/internal/metrics"
	"github.com/ensgateway/compute-gateway/internal/ratelimit"
	"github.com/ensgateway/compute-gateway/internal/registry"
	"github.com/ensgateway/compute-gateway/internal/validate"
)

// Handler wires up the gateway's HTTP routes onto a Gin engine.
type Handler struct {
	limiter  *ratelimit.Tiers
	signer   gwsign.Signer
	builder  *envelope.Builder
	registry *registry.Registry
	recorder *metrics.Recorder
	log      *zap.Logger

	startedAt time.Time
	now       func() time.Time
}

// New constructs a Handler. startedAt is stamped once, at construction, and
// used by /health to report process uptime.
func New(limiter *ratelimit.Tiers, signer gwsign.Signer, builder *envelope.Builder, reg *registry.Registry, recorder *metrics.Recorder, log *zap.Logger) *Handler {
	return &Handler{
		limiter:   limiter,
		signer:    signer,
		builder:   builder,
		registry:  reg,
		recorder:  recorder,
		log:       log,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Register mounts every gateway route.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/lookup", h.admit, h.handleLookup)
	r.POST("/compute", h.admit, h.handleCompute)
	r.GET("/health", h.handleHealth)
	r.GET("/metrics", h.handleMetricsText)
	r.GET("/api/metrics", h.handleMetricsJSON)
	r.GET("/functions", h.handleFunctions)
}

// unrecordedMethod is the by-method breakdown key used when a request fails
// before the dispatcher resolves which compute function it named.
const unrecordedMethod = "unknown"

// admit is the rate-limiter gate. A denial aborts the chain with 429 and
// records an error outcome, since it's still a completed request as far as
// the total/error counters are concerned.
func (h *Handler) admit(c *gin.Context) {
	start := h.now()
	apiKey := c.GetHeader("X-API-Key")
	limiter, key := h.limiter.Select(apiKey, c.ClientIP())

	decision := limiter.Allow(key)
	if !decision.Allowed {
		h.recorder.RecordRequest(unrecordedMethod, false, h.elapsedMs(start))
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		c.Header("X-RateLimit-Remaining", "0")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":      "Rate limit exceeded",
			"retryAfter": decision.RetryAfter,
			"remaining":  0,
		})
		return
	}

	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
	c.Header("X-RateLimit-Reset", decision.Reset.UTC().Format(time.RFC3339))
	c.Next()
}

// lookupRequest is the /lookup body.
type lookupRequest struct {
	Node        string          `json:"node"`
	Data        json.RawMessage `json:"data"`
	Name        string          `json:"name"`
	UseEnvelope *bool           `json:"useEnvelope"`
}

var legacyTupleArgs = mustLegacyTupleArgs()

func mustLegacyTupleArgs() abi.Arguments {
	bts, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: bts}, {Type: bts}}
}

// handleLookup runs the full admit→validate→decode→dispatch→respond chain:
// validate, decode, dispatch, then either the envelope or the legacy
// signing path.
func (h *Handler) handleLookup(c *gin.Context) {
	start := h.now()

	var req lookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.recorder.RecordRequest(unrecordedMethod, false, h.elapsedMs(start))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	body := &validate.Body{Node: req.Node, Name: req.Name, Data: req.Data}
	if reasons := validate.Validate(body); len(reasons) != 0 {
		h.recorder.RecordRequest(unrecordedMethod, false, h.elapsedMs(start))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": reasons})
		return
	}

	method, params := calldata.Decode(body.Data)

	result, err := h.registry.Dispatch(method, params)
	if err != nil {
		h.recorder.RecordRequest(method, false, h.elapsedMs(start))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	useEnvelope := req.UseEnvelope == nil || *req.UseEnvelope

	if useEnvelope {
		h.respondEnvelope(c, start, body.Name, method, params, result)
		return
	}
	h.respondLegacy(c, start, method, result)
}

func (h *Handler) respondEnvelope(c *gin.Context, start time.Time, name, method string, params map[string]any, result any) {
	env, err := h.builder.Build(envelope.Input{
		Name:   name,
		Method: method,
		Params: params,
		Result: result,
	})
	if err != nil {
		h.recorder.RecordRequest(method, false, h.elapsedMs(start))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.recorder.RecordSignatureGenerated()

	encoded, err := env.ABIEncode()
	if err != nil {
		h.recorder.RecordRequest(method, false, h.elapsedMs(start))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.recorder.RecordRequest(method, true, h.elapsedMs(start))
	c.JSON(http.StatusOK, gin.H{
		"data":     "0x" + hex.EncodeToString(encoded),
		"envelope": env,
	})
}

func (h *Handler) respondLegacy(c *gin.Context, start time.Time, method string, result any) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		h.recorder.RecordRequest(method, false, h.elapsedMs(start))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Sign wraps resultHash in the EIP-191 prefix itself (gwsign.HashDigest),
	// so the legacy path's "digest" input is keccak256(result_json) directly.
	resultHash := crypto.Keccak256Hash(resultJSON)
	sig, err := h.signer.Sign([32]byte(resultHash))
	if err != nil {
		h.recorder.RecordRequest(method, false, h.elapsedMs(start))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.recorder.RecordSignatureGenerated()

	encoded, err := legacyTupleArgs.Pack(resultJSON, sig[:])
	if err != nil {
		h.recorder.RecordRequest(method, false, h.elapsedMs(start))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.recorder.RecordRequest(method, true, h.elapsedMs(start))
	c.JSON(http.StatusOK, gin.H{"data": "0x" + hex.EncodeToString(encoded)})
}

// computeRequest is the /compute body: a test surface that
// bypasses the decoder and envelope builder but still runs through the
// validator and limiter.
type computeRequest struct {
	Function string         `json:"function"`
	Params   map[string]any `json:"params"`
}

func (h *Handler) handleCompute(c *gin.Context) {
	start := h.now()

	var req computeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.recorder.RecordRequest(unrecordedMethod, false, h.elapsedMs(start))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	body := &validate.Body{Params: req.Params}
	if reasons := validate.Validate(body); len(reasons) != 0 {
		h.recorder.RecordRequest(unrecordedMethod, false, h.elapsedMs(start))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": reasons})
		return
	}

	result, err := h.registry.Dispatch(req.Function, req.Params)
	if err != nil {
		h.recorder.RecordRequest(req.Function, false, h.elapsedMs(start))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		h.recorder.RecordRequest(req.Function, false, h.elapsedMs(start))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resultHash := crypto.Keccak256Hash(resultJSON)
	sig, err := h.signer.Sign([32]byte(resultHash))
	if err != nil {
		h.recorder.RecordRequest(req.Function, false, h.elapsedMs(start))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.recorder.RecordSignatureGenerated()
	h.recorder.RecordRequest(req.Function, true, h.elapsedMs(start))

	c.JSON(http.StatusOK, gin.H{
		"result":    result,
		"signature": "0x" + hex.EncodeToString(sig[:]),
		"signer":    h.signer.Address().Hex(),
	})
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"signer":   h.signer.Address().Hex(),
		"timestamp": h.now().Unix(),
		"uptime":   h.now().Sub(h.startedAt).Seconds(),
	})
}

func (h *Handler) handleMetricsText(c *gin.Context) {
	c.String(http.StatusOK, h.recorder.Text())
}

func (h *Handler) handleMetricsJSON(c *gin.Context) {
	raw, err := h.recorder.Snapshot(h.now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (h *Handler) handleFunctions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"functions": h.registry.Names()})
}

func (h *Handler) elapsedMs(start time.Time) float64 {
	return float64(h.now().Sub(start).Microseconds()) / 1000
}
