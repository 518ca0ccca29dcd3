// Package broker provides broker integration implementations.
package broker

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kis-trader/internal/config"
	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/gateway"
	"kis-trader/internal/models"
	"kis-trader/pkg/utils"
)

// Transaction ids for the domestic-stock endpoints. The paper-trading
// environment uses the V-prefixed set.
const (
	trQuote      = "FHKST01010100"
	trDaily      = "FHKST01010400"
	trVolumeRank = "FHPST01710000"

	trBalanceReal = "TTTC8434R"
	trBalanceSim  = "VTTC8434R"
	trBuyReal     = "TTTC0802U"
	trBuySim      = "VTTC0802U"
	trSellReal    = "TTTC0801U"
	trSellSim     = "VTTC0801U"
)

// KISBroker implements the Broker interface for the KIS open API.
type KISBroker struct {
	client *gateway.Client
	cano   string // account number, first 8 digits
	prdtCd string // account product code, last 2 digits
	paper  bool
	logger zerolog.Logger
}

// NewKISBroker creates a KIS broker over the given gateway client.
func NewKISBroker(client *gateway.Client, creds config.Credentials, paper bool, logger zerolog.Logger) *KISBroker {
	cano, prdtCd := splitAccount(creds.AccountNumber)
	return &KISBroker{
		client: client,
		cano:   cano,
		prdtCd: prdtCd,
		paper:  paper,
		logger: logger,
	}
}

// splitAccount splits "12345678-01" into account number and product code.
func splitAccount(acct string) (string, string) {
	if i := strings.IndexByte(acct, '-'); i >= 0 {
		return acct[:i], acct[i+1:]
	}
	if len(acct) > 8 {
		return acct[:8], acct[8:]
	}
	return acct, "01"
}

// Authenticate issues (or reuses) an access token.
func (b *KISBroker) Authenticate(ctx context.Context) error {
	return b.client.Authenticate(ctx)
}

// GetQuote fetches the current price snapshot for a stock code.
func (b *KISBroker) GetQuote(ctx context.Context, code string) (*models.Quote, error) {
	var resp struct {
		Output struct {
			Price     string `json:"stck_prpr"`
			Open      string `json:"stck_oprc"`
			High      string `json:"stck_hgpr"`
			Low       string `json:"stck_lwpr"`
			Volume    string `json:"acml_vol"`
			ChangePct string `json:"prdy_ctrt"`
		} `json:"output"`
	}

	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_INPUT_ISCD", code)

	err := b.client.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/uapi/domestic-stock/v1/quotations/inquire-price",
		TrID:   trQuote,
		Query:  q,
	}, &resp)
	if err != nil {
		return nil, apperrors.Wrapf(err, "quote %s", code)
	}

	return &models.Quote{
		Code:          code,
		Price:         atof(resp.Output.Price),
		Open:          atof(resp.Output.Open),
		High:          atof(resp.Output.High),
		Low:           atof(resp.Output.Low),
		Volume:        atoi(resp.Output.Volume),
		ChangePercent: atof(resp.Output.ChangePct),
		Timestamp:     time.Now(),
	}, nil
}

// GetHistorical fetches up to days of daily candles, most-recent last.
func (b *KISBroker) GetHistorical(ctx context.Context, code string, days int) ([]models.Candle, error) {
	var resp struct {
		Output []struct {
			Date   string `json:"stck_bsop_date"`
			Open   string `json:"stck_oprc"`
			High   string `json:"stck_hgpr"`
			Low    string `json:"stck_lwpr"`
			Close  string `json:"stck_clpr"`
			Volume string `json:"acml_vol"`
		} `json:"output"`
	}

	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_INPUT_ISCD", code)
	q.Set("FID_PERIOD_DIV_CODE", "D")
	q.Set("FID_ORG_ADJ_PRC", "0")

	err := b.client.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/uapi/domestic-stock/v1/quotations/inquire-daily-price",
		TrID:   trDaily,
		Query:  q,
	}, &resp)
	if err != nil {
		return nil, apperrors.Wrapf(err, "historical %s", code)
	}

	// The API returns most-recent first; callers want chronological order.
	n := len(resp.Output)
	if days > 0 && n > days {
		resp.Output = resp.Output[:days]
		n = days
	}
	candles := make([]models.Candle, 0, n)
	for i := n - 1; i >= 0; i-- {
		row := resp.Output[i]
		date, _ := time.ParseInLocation("20060102", row.Date, utils.KoreaLocation)
		candles = append(candles, models.Candle{
			Date:   date,
			Open:   atof(row.Open),
			High:   atof(row.High),
			Low:    atof(row.Low),
			Close:  atof(row.Close),
			Volume: atoi(row.Volume),
		})
	}
	return candles, nil
}

// GetTopVolume fetches the stocks ranked by traded amount.
func (b *KISBroker) GetTopVolume(ctx context.Context, count int) ([]models.Quote, error) {
	var resp struct {
		Output []struct {
			Code      string `json:"mksc_shrn_iscd"`
			Name      string `json:"hts_kor_isnm"`
			Price     string `json:"stck_prpr"`
			Volume    string `json:"acml_vol"`
			ChangePct string `json:"prdy_ctrt"`
		} `json:"output"`
	}

	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_COND_SCR_DIV_CODE", "20171")
	q.Set("FID_INPUT_ISCD", "0000")
	q.Set("FID_DIV_CLS_CODE", "0")
	q.Set("FID_BLNG_CLS_CODE", "3") // rank by traded amount
	q.Set("FID_TRGT_CLS_CODE", "111111111")
	q.Set("FID_TRGT_EXLS_CLS_CODE", "000000")
	q.Set("FID_INPUT_PRICE_1", "0")
	q.Set("FID_INPUT_PRICE_2", "0")
	q.Set("FID_VOL_CNT", "0")
	q.Set("FID_INPUT_DATE_1", "")

	err := b.client.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/uapi/domestic-stock/v1/quotations/volume-rank",
		TrID:   trVolumeRank,
		Query:  q,
	}, &resp)
	if err != nil {
		return nil, apperrors.Wrap(err, "volume rank")
	}

	quotes := make([]models.Quote, 0, count)
	for _, row := range resp.Output {
		if len(quotes) >= count {
			break
		}
		quotes = append(quotes, models.Quote{
			Code:          row.Code,
			Name:          row.Name,
			Price:         atof(row.Price),
			Volume:        atoi(row.Volume),
			ChangePercent: atof(row.ChangePct),
			Timestamp:     time.Now(),
		})
	}
	return quotes, nil
}

// balanceResponse covers both holdings and the cash summary; the KIS
// balance endpoint returns both in one payload.
type balanceResponse struct {
	Output1 []struct {
		Code       string `json:"pdno"`
		Name       string `json:"prdt_name"`
		Quantity   string `json:"hldg_qty"`
		AvgPrice   string `json:"pchs_avg_pric"`
		Price      string `json:"prpr"`
		PnL        string `json:"evlu_pfls_amt"`
		PnLPercent string `json:"evlu_pfls_rt"`
	} `json:"output1"`
	Output2 []struct {
		Cash        string `json:"dnca_tot_amt"`
		TotalAssets string `json:"tot_evlu_amt"`
		StockEval   string `json:"scts_evlu_amt"`
		ProfitLoss  string `json:"evlu_pfls_smtl_amt"`
	} `json:"output2"`
}

func (b *KISBroker) fetchBalance(ctx context.Context) (*balanceResponse, error) {
	trID := trBalanceReal
	if b.paper {
		trID = trBalanceSim
	}

	q := url.Values{}
	q.Set("CANO", b.cano)
	q.Set("ACNT_PRDT_CD", b.prdtCd)
	q.Set("AFHR_FLPR_YN", "N")
	q.Set("OFL_YN", "")
	q.Set("INQR_DVSN", "02")
	q.Set("UNPR_DVSN", "01")
	q.Set("FUND_STTL_ICLD_YN", "N")
	q.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	q.Set("PRCS_DVSN", "00")
	q.Set("CTX_AREA_FK100", "")
	q.Set("CTX_AREA_NK100", "")

	var resp balanceResponse
	err := b.client.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/uapi/domestic-stock/v1/trading/inquire-balance",
		TrID:   trID,
		Query:  q,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPositions fetches current remote holdings. Zero-quantity rows are
// settlement artifacts and are filtered out.
func (b *KISBroker) GetPositions(ctx context.Context) ([]models.RemotePosition, error) {
	resp, err := b.fetchBalance(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "positions")
	}

	positions := make([]models.RemotePosition, 0, len(resp.Output1))
	for _, row := range resp.Output1 {
		qty := int(atoi(row.Quantity))
		if qty <= 0 {
			continue
		}
		positions = append(positions, models.RemotePosition{
			Code:         row.Code,
			Name:         row.Name,
			Quantity:     qty,
			AvgPrice:     atof(row.AvgPrice),
			CurrentPrice: atof(row.Price),
			PnL:          atof(row.PnL),
			PnLPercent:   atof(row.PnLPercent),
		})
	}
	return positions, nil
}

// GetBalance fetches the account cash and valuation snapshot.
func (b *KISBroker) GetBalance(ctx context.Context) (*models.Balance, error) {
	resp, err := b.fetchBalance(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "balance")
	}
	if len(resp.Output2) == 0 {
		return nil, apperrors.NewGatewayError(apperrors.KindTransient, "", "balance response missing summary", nil)
	}
	row := resp.Output2[0]
	return &models.Balance{
		AvailableCash:   atof(row.Cash),
		TotalAssets:     atof(row.TotalAssets),
		StockEvalAmount: atof(row.StockEval),
		ProfitLoss:      atof(row.ProfitLoss),
	}, nil
}

// PlaceOrder submits a cash order. A remote business rejection comes back
// as a failed OrderResult, not an error; transport-level failures are
// returned as errors.
func (b *KISBroker) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	var trID string
	switch {
	case req.Side == models.OrderSideBuy && b.paper:
		trID = trBuySim
	case req.Side == models.OrderSideBuy:
		trID = trBuyReal
	case b.paper:
		trID = trSellSim
	default:
		trID = trSellReal
	}

	ordDvsn, unpr := "00", strconv.FormatFloat(req.Price, 'f', 0, 64)
	if req.IsMarket() {
		ordDvsn, unpr = "01", "0"
	}

	body := map[string]string{
		"CANO":         b.cano,
		"ACNT_PRDT_CD": b.prdtCd,
		"PDNO":         req.Code,
		"ORD_DVSN":     ordDvsn,
		"ORD_QTY":      strconv.Itoa(req.Quantity),
		"ORD_UNPR":     unpr,
	}

	var resp struct {
		Msg1   string `json:"msg1"`
		Output struct {
			OrderNo string `json:"ODNO"`
		} `json:"output"`
	}

	err := b.client.Call(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/uapi/domestic-stock/v1/trading/order-cash",
		TrID:   trID,
		Body:   body,
	}, &resp)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindRejected {
			var ge *apperrors.GatewayError
			msg := err.Error()
			if apperrors.As(err, &ge) {
				msg = ge.Message
			}
			return &models.OrderResult{Success: false, Message: msg}, nil
		}
		return nil, apperrors.Wrapf(err, "order %s %s", req.Side, req.Code)
	}

	return &models.OrderResult{
		Success:  true,
		OrderRef: resp.Output.OrderNo,
		Message:  strings.TrimSpace(resp.Msg1),
	}, nil
}

// atof parses the string-encoded numbers the API uses. Malformed or empty
// fields parse as zero.
func atof(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}
