package pipeline

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"

	"github.com/ensgateway/compute-gateway/internal/calldata"
	"github.com/ensgateway/compute-gateway/internal/compute"
	"github.com/ensgateway/compute-gateway/internal/envelope"
	"github.com/ensgateway/compute-gateway/internal/gwsign"
	"github.com/ensgateway/compute-gateway/internal/metrics"
	"github.com/ensgateway/compute-gateway/internal/ratelimit"
	"github.com/ensgateway/compute-gateway/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testHandler(t *testing.T) (*gin.Engine, *Handler, gwsign.Signer) {
	t.Helper()
	// key = 0x01...01.
	signer, err := gwsign.NewLocal("0x0000000000000000000000000000000000000000000000000000000000000001")
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New()
	reg.Register("pricefeed", compute.PriceFeed)

	limiter := &ratelimit.Tiers{
		IP:     ratelimit.NewLimiter(ratelimit.Tuple{Window: 60 * time.Second, Max: 100}),
		APIKey: ratelimit.NewLimiter(ratelimit.Tuple{Window: 60 * time.Second, Max: 1000}),
	}
	builder := envelope.NewBuilder(envelope.Identity{Provider: "ensgateway", Version: "test"}, signer)
	recorder := metrics.New()

	h := New(limiter, signer, builder, reg, recorder, nil)
	r := gin.New()
	h.Register(r)
	return r, h, signer
}

func TestHandleLookup_PriceFeedHappyPath(t *testing.T) {
	r, _, signer := testHandler(t)

	body := `{"node":"0x` + hexZeros(32) + `","data":"","name":"pricefeed.eth"}`
	req := httptest.NewRequest(http.MethodPost, "/lookup", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data     string          `json:"data"`
		Envelope json.RawMessage `json:"envelope"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Envelope == nil {
		t.Fatal("expected envelope in response")
	}

	var env envelope.Envelope
	if err := env.UnmarshalJSON(resp.Envelope); err != nil {
		t.Fatal(err)
	}
	if env.Method != "pricefeed" {
		t.Errorf("expected method pricefeed, got %q", env.Method)
	}
	if env.CacheTTL != 30 {
		t.Errorf("expected cache_ttl 30, got %d", env.CacheTTL)
	}
	if len(env.Signature) != 65 {
		t.Errorf("expected 65-byte signature, got %d", len(env.Signature))
	}

	addr, err := gwsign.Recover(env.Digest, env.Signature)
	if err != nil {
		t.Fatal(err)
	}
	if addr != signer.Address() {
		t.Errorf("recovered %s, want signer %s", addr.Hex(), signer.Address().Hex())
	}
}

func TestHandleLookup_LegacyPath(t *testing.T) {
	r, _, signer := testHandler(t)

	body := `{"node":"0x` + hexZeros(32) + `","data":"","name":"pricefeed.eth","useEnvelope":false}`
	req := httptest.NewRequest(http.MethodPost, "/lookup", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data     string `json:"data"`
		Envelope any    `json:"envelope"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Envelope != nil {
		t.Error("expected no envelope key in legacy response")
	}

	raw, err := hex.DecodeString(resp.Data[2:])
	if err != nil {
		t.Fatal(err)
	}
	values, err := legacyTupleArgs.Unpack(raw)
	if err != nil {
		t.Fatal(err)
	}
	resultBytes := values[0].([]byte)
	sigBytes := values[1].([]byte)

	resultHash := [32]byte(crypto.Keccak256Hash(resultBytes))
	var sig [65]byte
	copy(sig[:], sigBytes)
	addr, err := gwsign.Recover(resultHash, sig)
	if err != nil {
		t.Fatal(err)
	}
	if addr != signer.Address() {
		t.Errorf("legacy signature does not recover signer: got %s, want %s", addr.Hex(), signer.Address().Hex())
	}
}

func TestHandleLookup_UnknownMethod(t *testing.T) {
	r, _, _ := testHandler(t)

	hexTuple, err := calldata.EncodeHexTuple("nosuch", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	dataJSON, _ := json.Marshal(hexTuple)
	body := `{"node":"0x` + hexZeros(32) + `","data":` + string(dataJSON) + `}`

	req := httptest.NewRequest(http.MethodPost, "/lookup", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] == "" {
		t.Error("expected error message in body")
	}
}

func TestHandleCompute(t *testing.T) {
	r, _, signer := testHandler(t)

	body := `{"function":"pricefeed","params":{"pair":"ETH/USD"}}`
	req := httptest.NewRequest(http.MethodPost, "/compute", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Result    json.RawMessage `json:"result"`
		Signature string          `json:"signature"`
		Signer    string          `json:"signer"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Signer != signer.Address().Hex() {
		t.Errorf("expected signer %s, got %s", signer.Address().Hex(), resp.Signer)
	}
}

func TestHandleHealth(t *testing.T) {
	r, _, signer := testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["signer"] != signer.Address().Hex() {
		t.Errorf("unexpected signer in health response: %v", resp["signer"])
	}
}

func TestHandleFunctions(t *testing.T) {
	r, _, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/functions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp struct {
		Functions []string `json:"functions"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Functions) != 1 || resp.Functions[0] != "pricefeed" {
		t.Errorf("expected [pricefeed], got %v", resp.Functions)
	}
}

func TestAdmit_DeniesAfterLimit(t *testing.T) {
	r, h, _ := testHandler(t)
	h.limiter.IP = ratelimit.NewLimiter(ratelimit.Tuple{Window: 60 * time.Second, Max: 1})

	body := `{"node":"0x` + hexZeros(32) + `","data":"","name":"pricefeed.eth"}`

	req1 := httptest.NewRequest(http.MethodPost, "/lookup", bytes.NewBufferString(body))
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected first request admitted, got %d", w1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/lookup", bytes.NewBufferString(body))
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request denied with 429, got %d: %s", w2.Code, w2.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w2.Body.Bytes(), &resp)
	if resp["remaining"] != float64(0) {
		t.Errorf("expected remaining=0, got %v", resp["remaining"])
	}
}

func hexZeros(n int) string {
	return hex.EncodeToString(make([]byte, n))
}
