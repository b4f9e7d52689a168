package gateway

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"tranchepool/archive"
	"tranchepool/calendar"
	"tranchepool/ledger"
	"tranchepool/native/credit"
	"tranchepool/native/pool"
)

const testSecret = "gateway-test-secret"

type gatewayClock struct {
	now time.Time
}

func (c *gatewayClock) Now() time.Time { return c.now }

var (
	gwSafeAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	gwOwnerAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	gwLender    = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	gwBorrower  = common.HexToAddress("0x00000000000000000000000000000000000000b4")
)

type fixture struct {
	server  *httptest.Server
	pool    *pool.Pool
	credits *credit.Manager
	archive *archive.Archive
	clock   *gatewayClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &gatewayClock{now: time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)}
	l := ledger.New("USD")
	for _, addr := range []common.Address{gwLender, gwBorrower} {
		if err := l.Mint(addr, big.NewInt(1_000_000)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	cal := calendar.NewWithClock(clock.Now)
	cfg := &pool.Config{
		PoolName: "gateway-pool",
		Settings: pool.Settings{
			PayPeriodDuration:    calendar.Monthly,
			MinDepositAmount:     big.NewInt(10),
			MaxSeniorJuniorRatio: 4,
		},
		LP: pool.LPConfig{
			LiquidityCap:       big.NewInt(10_000_000),
			TranchesPolicyKind: pool.RiskAdjusted,
		},
	}
	p, err := pool.New(cfg, cal, l, gwSafeAddr, gwOwnerAddr, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	credits := credit.NewManager("gateway-pool", gwSafeAddr, cal, credit.Terms{
		PeriodDuration: calendar.Monthly,
		LateFeeBps:     1_000,
	}, p, nil, nil)
	arch, err := archive.Open(filepath.Join(t.TempDir(), "epochs.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "tranchepool",
		Audience:   "gateway",
	}, nil)
	srv := NewServer(p, credits, arch, nil, auth, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, pool: p, credits: credits, archive: arch, clock: clock}
}

func signToken(t *testing.T, sub string, scope string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   "tranchepool",
		"aud":   "gateway",
		"sub":   sub,
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postWithToken(t *testing.T, url, token string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	var body map[string]string
	if status := getJSON(t, f.server.URL+"/healthz", &body); status != http.StatusOK {
		t.Fatalf("healthz status: got %d", status)
	}
	if body["status"] != "ok" {
		t.Fatalf("healthz body: got %v", body)
	}
}

func TestPoolOverview(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pool.Deposit(pool.JuniorTranche, gwLender, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	var view poolView
	if status := getJSON(t, f.server.URL+"/v1/pool", &view); status != http.StatusOK {
		t.Fatalf("pool status: got %d", status)
	}
	if view.Name != "gateway-pool" || !view.Enabled {
		t.Fatalf("pool view: got %+v", view)
	}
	if view.Epoch.ID != 1 {
		t.Fatalf("epoch id: got %d want 1", view.Epoch.ID)
	}
	if len(view.Tranches) != 2 {
		t.Fatalf("tranches: got %d", len(view.Tranches))
	}
	if view.Tranches[pool.JuniorTranche].TotalAssets != "10000" {
		t.Fatalf("junior assets: got %s", view.Tranches[pool.JuniorTranche].TotalAssets)
	}
	if view.Tranches[pool.SeniorTranche].TotalAssets != "0" {
		t.Fatalf("senior assets: got %s", view.Tranches[pool.SeniorTranche].TotalAssets)
	}
}

func TestLenderPosition(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pool.Deposit(pool.JuniorTranche, gwLender, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.pool.AddRedemptionRequest(pool.JuniorTranche, gwLender, big.NewInt(4_000)); err != nil {
		t.Fatalf("redemption request: %v", err)
	}

	var view lenderPositionView
	url := f.server.URL + "/v1/lenders/" + gwLender.Hex() + "/tranches/junior"
	if status := getJSON(t, url, &view); status != http.StatusOK {
		t.Fatalf("lender status: got %d", status)
	}
	if view.Principal != "6000" {
		t.Fatalf("principal: got %s want 6000", view.Principal)
	}
	if view.Shares != "6000" {
		t.Fatalf("shares: got %s want 6000", view.Shares)
	}
	if view.Redemption.SharesRequested != "4000" {
		t.Fatalf("shares requested: got %s", view.Redemption.SharesRequested)
	}
	if view.Redemption.Cancellable != "4000" {
		t.Fatalf("cancellable: got %s", view.Redemption.Cancellable)
	}
	if view.Redemption.Withdrawable != "0" {
		t.Fatalf("withdrawable: got %s", view.Redemption.Withdrawable)
	}
}

func TestLenderPositionErrors(t *testing.T) {
	f := newFixture(t)
	base := f.server.URL + "/v1/lenders/"
	if status := getJSON(t, base+"not-an-address/tranches/junior", nil); status != http.StatusBadRequest {
		t.Fatalf("bad address status: got %d", status)
	}
	if status := getJSON(t, base+gwLender.Hex()+"/tranches/mezzanine", nil); status != http.StatusBadRequest {
		t.Fatalf("bad tranche status: got %d", status)
	}
	if status := getJSON(t, base+gwLender.Hex()+"/tranches/junior", nil); status != http.StatusNotFound {
		t.Fatalf("unknown lender status: got %d", status)
	}
}

func TestCreditEndpoints(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pool.Deposit(pool.JuniorTranche, gwLender, big.NewInt(100_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.credits.ApproveBorrower(gwBorrower, big.NewInt(50_000), 12, 1_200, nil, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.credits.Drawdown(gwBorrower, big.NewInt(20_000)); err != nil {
		t.Fatalf("drawdown: %v", err)
	}

	var borrowers []string
	if status := getJSON(t, f.server.URL+"/v1/credits", &borrowers); status != http.StatusOK {
		t.Fatalf("credits status: got %d", status)
	}
	if len(borrowers) != 1 || borrowers[0] != gwBorrower.Hex() {
		t.Fatalf("borrowers: got %v", borrowers)
	}

	var view creditView
	if status := getJSON(t, f.server.URL+"/v1/credits/"+gwBorrower.Hex(), &view); status != http.StatusOK {
		t.Fatalf("credit status: got %d", status)
	}
	if view.State != "good-standing" {
		t.Fatalf("state: got %s", view.State)
	}
	if view.CreditLimit != "50000" {
		t.Fatalf("credit limit: got %s", view.CreditLimit)
	}

	var due dueView
	if status := getJSON(t, f.server.URL+"/v1/credits/"+gwBorrower.Hex()+"/due", &due); status != http.StatusOK {
		t.Fatalf("due status: got %d", status)
	}
	if due.Borrower != gwBorrower.Hex() {
		t.Fatalf("due borrower: got %s", due.Borrower)
	}

	if status := getJSON(t, f.server.URL+"/v1/credits/"+gwLender.Hex(), nil); status != http.StatusNotFound {
		t.Fatalf("unknown borrower status: got %d", status)
	}
}

func TestEpochArchiveEndpoints(t *testing.T) {
	f := newFixture(t)
	err := f.archive.RecordEpochClose(archive.EpochRecord{
		PoolName:     "gateway-pool",
		EpochID:      1,
		EndTime:      time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
		ClosedAt:     time.Date(2024, time.April, 1, 0, 5, 0, 0, time.UTC),
		SeniorAssets: "40000",
		JuniorAssets: "10000",
	}, []archive.RedemptionOutcome{
		{Tranche: "junior", SharesRequested: "4000", SharesProcessed: "4000", AmountProcessed: "4000"},
	})
	if err != nil {
		t.Fatalf("record epoch: %v", err)
	}

	var history []epochRecordView
	if status := getJSON(t, f.server.URL+"/v1/epochs", &history); status != http.StatusOK {
		t.Fatalf("history status: got %d", status)
	}
	if len(history) != 1 || history[0].EpochID != 1 {
		t.Fatalf("history: got %+v", history)
	}
	if len(history[0].Outcomes) != 1 || history[0].Outcomes[0].AmountProcessed != "4000" {
		t.Fatalf("outcomes: got %+v", history[0].Outcomes)
	}

	var rec epochRecordView
	if status := getJSON(t, f.server.URL+"/v1/epochs/1", &rec); status != http.StatusOK {
		t.Fatalf("record status: got %d", status)
	}
	if rec.SeniorAssets != "40000" {
		t.Fatalf("senior assets: got %s", rec.SeniorAssets)
	}

	if status := getJSON(t, f.server.URL+"/v1/epochs/99", nil); status != http.StatusNotFound {
		t.Fatalf("missing epoch status: got %d", status)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	f := newFixture(t)
	if status := postWithToken(t, f.server.URL+"/admin/epoch/close", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("no token status: got %d", status)
	}
	wrongScope := signToken(t, gwOwnerAddr.Hex(), "pool:read")
	if status := postWithToken(t, f.server.URL+"/admin/epoch/close", wrongScope, nil); status != http.StatusForbidden {
		t.Fatalf("wrong scope status: got %d", status)
	}
}

func TestAdminCloseEpoch(t *testing.T) {
	f := newFixture(t)
	token := signToken(t, gwOwnerAddr.Hex(), "pool:admin")

	if status := postWithToken(t, f.server.URL+"/admin/epoch/close", token, nil); status != http.StatusConflict {
		t.Fatalf("early close status: got %d", status)
	}

	f.clock.now = time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC)
	var view epochView
	if status := postWithToken(t, f.server.URL+"/admin/epoch/close", token, &view); status != http.StatusOK {
		t.Fatalf("close status: got %d", status)
	}
	if view.ID != 2 {
		t.Fatalf("epoch after close: got %d want 2", view.ID)
	}
}

func TestAdminProcessYield(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pool.Deposit(pool.JuniorTranche, gwLender, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	token := signToken(t, gwOwnerAddr.Hex(), "pool:admin")

	var result map[string]string
	url := f.server.URL + "/admin/tranches/junior/process-yield"
	if status := postWithToken(t, url, token, &result); status != http.StatusOK {
		t.Fatalf("process yield status: got %d", status)
	}
	if result["distributed"] != "0" {
		t.Fatalf("distributed: got %s", result["distributed"])
	}

	stranger := signToken(t, gwBorrower.Hex(), "pool:admin")
	if status := postWithToken(t, url, stranger, nil); status != http.StatusForbidden {
		t.Fatalf("stranger status: got %d", status)
	}
}
